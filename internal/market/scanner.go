// Package market discovers 5-minute BTC Up/Down markets through the
// Gamma events API and reads orderbooks from the CLOB book endpoint.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"pendulum/internal/config"
	"pendulum/internal/models"
)

// 5-minute slots are addressed by slug: btc-updown-5m-<unix>, where
// <unix> is the slot's start aligned to 300 seconds.
const (
	slugPrefix      = "btc-updown-5m-"
	slotInterval    = 300
	lookbackSlots   = 3 // current + 2 recent
	scanMaxRetries  = 3
	scanRetryBase   = 2 * time.Second
	resolvedAtPrice = 0.99
)

// Scanner polls Gamma for the markets around the current slot and
// keeps a registry of everything it has seen this session.
type Scanner struct {
	client   *http.Client
	gammaURL string

	mu      sync.RWMutex
	markets map[string]*models.Market
	now     func() time.Time
}

func NewScanner(cfg config.MarketsConfig) *Scanner {
	return &Scanner{
		client:   &http.Client{Timeout: 15 * time.Second},
		gammaURL: cfg.GammaURL,
		markets:  make(map[string]*models.Market),
		now:      time.Now,
	}
}

// ScanOnce probes the next upcoming slot plus the current and two
// previous ones, and returns markets that are new or changed status.
func (s *Scanner) ScanOnce(ctx context.Context) ([]models.Market, error) {
	now := s.now().Unix()
	currentSlot := now - now%slotInterval

	slots := []int64{currentSlot + slotInterval}
	for i := int64(0); i < lookbackSlots; i++ {
		slots = append(slots, currentSlot-i*slotInterval)
	}

	var updated []models.Market
	for _, ts := range slots {
		slug := fmt.Sprintf("%s%d", slugPrefix, ts)
		event, err := s.fetchEvent(ctx, slug)
		if err != nil {
			slog.Warn("event fetch failed", "slug", slug, "error", err)
			continue
		}
		if event == nil {
			continue
		}

		market, ok := parseEvent(event)
		if !ok {
			continue
		}

		s.mu.Lock()
		existing := s.markets[market.MarketID]
		m := market
		s.markets[market.MarketID] = &m
		s.mu.Unlock()

		switch {
		case existing == nil:
			slog.Info("new market discovered", "slug", market.Slug, "question", market.Question)
			updated = append(updated, market)
		case existing.Status != market.Status:
			slog.Info("market status changed",
				"slug", market.Slug,
				"from", existing.Status,
				"to", market.Status,
			)
			updated = append(updated, market)
		}
	}
	return updated, nil
}

// AllMarkets returns every market seen this session, whatever its
// status.
func (s *Scanner) AllMarkets() []models.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, *m)
	}
	return out
}

// ActiveMarkets returns the markets currently accepting trades.
func (s *Scanner) ActiveMarkets() []models.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Market
	for _, m := range s.markets {
		if m.Status == models.MarketActive {
			out = append(out, *m)
		}
	}
	return out
}

// Get looks up a market by ID.
func (s *Scanner) Get(marketID string) (models.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return models.Market{}, false
	}
	return *m, true
}

// Drop removes a market from tracking, used after repeated orderbook
// failures.
func (s *Scanner) Drop(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.markets[marketID]; ok {
		slog.Warn("market dropped from tracking", "slug", m.Slug)
		delete(s.markets, marketID)
	}
}

// gammaEvent is the slice of the Gamma payload the scanner needs.
// outcomePrices and clobTokenIds arrive as JSON-encoded strings.
type gammaEvent struct {
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Markets []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	ID              json.Number `json:"id"`
	Slug            string      `json:"slug"`
	Question        string      `json:"question"`
	OutcomePrices   string      `json:"outcomePrices"`
	ClobTokenIDs    string      `json:"clobTokenIds"`
	EndDate         string      `json:"endDate"`
	Closed          bool        `json:"closed"`
	Active          bool        `json:"active"`
	AcceptingOrders bool        `json:"acceptingOrders"`
}

// fetchEvent looks up one event by exact slug. Missing slots are not
// errors; 4xx responses mean the slot doesn't exist (yet).
func (s *Scanner) fetchEvent(ctx context.Context, slug string) (*gammaEvent, error) {
	u := s.gammaURL + "/events?slug=" + url.QueryEscape(slug)

	var lastErr error
	for attempt := 1; attempt <= scanMaxRetries; attempt++ {
		events, retryable, err := s.fetchEventOnce(ctx, u)
		if err == nil {
			if len(events) == 0 {
				return nil, nil
			}
			return &events[0], nil
		}
		if !retryable {
			return nil, nil
		}
		lastErr = err
		slog.Warn("event fetch retry", "slug", slug, "attempt", attempt, "error", err)
		if attempt < scanMaxRetries {
			select {
			case <-time.After(scanRetryBase << (attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("fetching event %s: %w", slug, lastErr)
}

func (s *Scanner) fetchEventOnce(ctx context.Context, u string) ([]gammaEvent, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("gamma status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("gamma status %d", resp.StatusCode)
	}

	var events []gammaEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, true, fmt.Errorf("decoding events: %w", err)
	}
	return events, false, nil
}

// parseEvent converts a Gamma event into a Market. 5m events carry
// exactly one nested market. Malformed payloads are skipped, not
// surfaced.
func parseEvent(event *gammaEvent) (models.Market, bool) {
	if len(event.Markets) == 0 {
		return models.Market{}, false
	}
	raw := event.Markets[0]

	upToken, downToken, ok := parseTokenIDs(raw.ClobTokenIDs)
	if !ok {
		slog.Debug("event missing clob token ids", "slug", event.Slug)
		return models.Market{}, false
	}

	slug := raw.Slug
	if slug == "" {
		slug = event.Slug
	}
	question := raw.Question
	if question == "" {
		question = event.Title
	}

	upPrice, downPrice := parseOutcomePrices(raw.OutcomePrices)

	m := models.Market{
		MarketID:    raw.ID.String(),
		Slug:        slug,
		Question:    question,
		Status:      determineStatus(raw, upPrice, downPrice),
		UpTokenID:   upToken,
		DownTokenID: downToken,
		EndTime:     parseEndTime(raw.EndDate),
		UpPrice:     upPrice,
		DownPrice:   downPrice,
	}
	if m.Status == models.MarketResolved {
		m.Resolution = resolutionFromPrices(upPrice, downPrice)
	}
	return m, true
}

func determineStatus(raw gammaMarket, upPrice, downPrice float64) models.MarketStatus {
	if upPrice >= resolvedAtPrice || downPrice >= resolvedAtPrice {
		return models.MarketResolved
	}
	if raw.Closed {
		return models.MarketResolved
	}
	if raw.Active {
		return models.MarketActive
	}
	return models.MarketPending
}

// resolutionFromPrices reads the settled side off the outcome prices.
// A closed market whose prices never converged resolves Unknown.
func resolutionFromPrices(upPrice, downPrice float64) models.Outcome {
	switch {
	case upPrice >= resolvedAtPrice:
		return models.OutcomeUp
	case downPrice >= resolvedAtPrice:
		return models.OutcomeDown
	default:
		return models.OutcomeUnknown
	}
}

// parseTokenIDs unpacks the JSON-encoded clobTokenIds string:
// ["<up>", "<down>"].
func parseTokenIDs(encoded string) (string, string, bool) {
	if encoded == "" {
		return "", "", false
	}
	var ids []string
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil || len(ids) < 2 {
		return "", "", false
	}
	if ids[0] == "" || ids[1] == "" {
		return "", "", false
	}
	return ids[0], ids[1], true
}

// parseOutcomePrices unpacks the JSON-encoded outcomePrices string:
// ["0.52", "0.48"]. Falls back to an even split when absent.
func parseOutcomePrices(encoded string) (float64, float64) {
	if encoded == "" {
		return 0.5, 0.5
	}
	var prices []string
	if err := json.Unmarshal([]byte(encoded), &prices); err != nil || len(prices) < 2 {
		return 0.5, 0.5
	}
	up, err1 := strconv.ParseFloat(prices[0], 64)
	down, err2 := strconv.ParseFloat(prices[1], 64)
	if err1 != nil || err2 != nil {
		return 0.5, 0.5
	}
	return up, down
}

func parseEndTime(raw string) time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
