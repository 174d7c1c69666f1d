package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"pendulum/internal/config"
	"pendulum/internal/models"
)

const (
	bookMaxRetries = 3
	bookRetryBase  = time.Second
)

// ErrBookUnavailable marks an orderbook fetch that exhausted its
// retries. The tick loop counts these per market and evicts after
// three consecutive failures.
var ErrBookUnavailable = errors.New("orderbook unavailable")

// BookReader fetches token orderbooks from the CLOB book endpoint.
type BookReader struct {
	client  *http.Client
	clobURL string
}

func NewBookReader(cfg config.MarketsConfig) *BookReader {
	return &BookReader{
		client:  &http.Client{Timeout: 10 * time.Second},
		clobURL: cfg.ClobURL,
	}
}

// GetBook fetches one token's orderbook, retrying transient failures
// with exponential backoff. Exhausted retries wrap ErrBookUnavailable.
func (r *BookReader) GetBook(ctx context.Context, tokenID string) (models.OrderBook, error) {
	u := r.clobURL + "/book?token_id=" + url.QueryEscape(tokenID)

	var lastErr error
	for attempt := 1; attempt <= bookMaxRetries; attempt++ {
		book, err := r.fetchOnce(ctx, tokenID, u)
		if err == nil {
			return book, nil
		}
		lastErr = err
		slog.Warn("orderbook fetch failed",
			"token", tokenID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < bookMaxRetries {
			select {
			case <-time.After(bookRetryBase << (attempt - 1)):
			case <-ctx.Done():
				return models.OrderBook{}, ctx.Err()
			}
		}
	}
	return models.OrderBook{}, fmt.Errorf("%w: token %s after %d attempts: %s",
		ErrBookUnavailable, tokenID, bookMaxRetries, lastErr)
}

// GetBothBooks fetches the Up and Down books concurrently.
func (r *BookReader) GetBothBooks(ctx context.Context, upTokenID, downTokenID string) (models.OrderBook, models.OrderBook, error) {
	var upBook, downBook models.OrderBook

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		upBook, err = r.GetBook(ctx, upTokenID)
		return err
	})
	g.Go(func() error {
		var err error
		downBook, err = r.GetBook(ctx, downTokenID)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.OrderBook{}, models.OrderBook{}, err
	}
	return upBook, downBook, nil
}

// clobBook mirrors the book endpoint payload; prices and sizes arrive
// as decimal strings.
type clobBook struct {
	Bids []clobLevel `json:"bids"`
	Asks []clobLevel `json:"asks"`
}

type clobLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (r *BookReader) fetchOnce(ctx context.Context, tokenID, u string) (models.OrderBook, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.OrderBook{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return models.OrderBook{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.OrderBook{}, fmt.Errorf("clob status %d", resp.StatusCode)
	}

	var raw clobBook
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.OrderBook{}, fmt.Errorf("decoding book: %w", err)
	}

	book := models.OrderBook{
		TokenID: tokenID,
		Bids:    parseLevels(raw.Bids),
		Asks:    parseLevels(raw.Asks),
	}
	// Bids best-first (descending), asks best-first (ascending).
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book, nil
}

func parseLevels(raw []clobLevel) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			slog.Debug("skipping malformed book level", "price", lvl.Price)
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			slog.Debug("skipping malformed book level", "size", lvl.Size)
			continue
		}
		levels = append(levels, models.OrderBookLevel{Price: price, Size: size})
	}
	return levels
}
