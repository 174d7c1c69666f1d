package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pendulum/internal/models"
)

// Ensemble aggregates member strategies via majority vote. Members are
// evaluated concurrently; a member that fails is logged and excluded
// from the vote rather than propagating its error.
type Ensemble struct {
	members  []Strategy
	minVotes int
}

func NewEnsemble(members []Strategy, minVotes int) *Ensemble {
	return &Ensemble{members: members, minVotes: minVotes}
}

func (e *Ensemble) Name() string { return "ensemble" }

type memberVote struct {
	name   string
	signal models.Signal
	err    error
}

func (e *Ensemble) Evaluate(ctx context.Context, market models.Market, upBook, downBook models.OrderBook, history []float64) (models.Signal, error) {
	results := make([]memberVote, len(e.members))

	var wg sync.WaitGroup
	for idx, member := range e.members {
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			sig, err := s.Evaluate(ctx, market, upBook, downBook, history)
			results[i] = memberVote{name: s.Name(), signal: sig, err: err}
		}(idx, member)
	}
	wg.Wait()

	// Failed members drop out of the vote entirely.
	votes := make([]memberVote, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			slog.Warn("ensemble member failed", "strategy", r.name, "error", r.err)
			continue
		}
		votes = append(votes, r)
	}

	var active []memberVote
	trace := make([]string, 0, len(votes))
	for _, v := range votes {
		if v.signal.Type == models.SignalSkip {
			trace = append(trace, fmt.Sprintf("%s: SKIP", v.name))
			continue
		}
		active = append(active, v)
		trace = append(trace, fmt.Sprintf("%s: %s (%.2f)",
			v.name, strings.ToUpper(string(v.signal.Direction)), v.signal.Confidence))
	}
	traceStr := strings.Join(trace, " | ")

	if len(active) < e.minVotes {
		reason := fmt.Sprintf("%d/%d active (min %d) | %s", len(active), len(votes), e.minVotes, traceStr)
		slog.Debug("ensemble skip", "market", market.Slug, "reason", reason)
		return skip(reason), nil
	}

	counts := make(map[models.Direction]int)
	for _, v := range active {
		if v.signal.Direction != "" {
			counts[v.signal.Direction]++
		}
	}
	if len(counts) == 0 {
		return skip("no directional votes | " + traceStr), nil
	}

	winner, winnerCount, runnerUp := tally(counts)
	if runnerUp == winnerCount {
		reason := fmt.Sprintf("tie %dv%d | %s", winnerCount, runnerUp, traceStr)
		slog.Info("ensemble tie", "market", market.Slug, "reason", reason)
		return skip(reason), nil
	}

	// Mean confidence over members that voted the winning direction.
	var sum float64
	var agreeing int
	for _, v := range active {
		if v.signal.Direction == winner {
			sum += v.signal.Confidence
			agreeing++
		}
	}
	confidence := sum / float64(agreeing)

	sigType := models.SignalBuyUp
	if winner == models.DirectionDown {
		sigType = models.SignalBuyDown
	}
	reason := fmt.Sprintf("%d/%d %s | %s", winnerCount, len(votes), winner, traceStr)

	slog.Info("ensemble signal",
		"market", market.Slug,
		"direction", winner,
		"votes", winnerCount,
		"confidence", confidence,
	)

	return models.Signal{
		Type:       sigType,
		Direction:  winner,
		Confidence: confidence,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// tally returns the plurality direction, its count, and the runner-up
// count (0 when there is a single direction).
func tally(counts map[models.Direction]int) (models.Direction, int, int) {
	var winner models.Direction
	var top, second int
	// Deterministic iteration: check Up then Down.
	for _, dir := range []models.Direction{models.DirectionUp, models.DirectionDown} {
		n, ok := counts[dir]
		if !ok {
			continue
		}
		if n > top {
			winner, second, top = dir, top, n
		} else if n > second {
			second = n
		}
	}
	return winner, top, second
}
