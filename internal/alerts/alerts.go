// Package alerts surfaces budget threshold crossings.
//
// Each tracked scope (total spend, one provider, or one cost category)
// carries an absolute USD limit for the current calendar month. Alerts fire
// on rising edges only: crossing 80% and crossing 100% each fire once per
// scope and period, tracked in a LevelStore shared by all consumer instances.
// Dropping back below a line re-arms it, so a later re-cross fires again.
// Without this edge state the monitor would re-alert on every poll while
// spend sits above a line, which makes the alert unusable.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/config"
	"github.com/reelforge/ledger/internal/ledger"
	"github.com/reelforge/ledger/internal/metrics"
)

// Alert levels, as percentages of the scope's limit.
const (
	LevelWarning  = 80
	LevelExceeded = 100
)

// LevelStore persists the last alerted level per (scope, period).
type LevelStore interface {
	LastLevel(ctx context.Context, scope, period string) (int, error)
	SetLevel(ctx context.Context, scope, period string, level int) error
}

// Status is the current standing of one budget scope.
type Status struct {
	Scope      string  `json:"scope"`
	Period     string  `json:"period"`
	LimitUSD   float64 `json:"limitUsd"`
	SpentUSD   float64 `json:"spentUsd"`
	Percent    float64 `json:"percent"`
	AlertLevel int     `json:"alertLevel"`
}

// Monitor polls period spend against configured thresholds.
type Monitor struct {
	store      ledger.Store
	levels     LevelStore
	thresholds []config.BudgetThreshold
	log        zerolog.Logger
	now        func() time.Time

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a Monitor over the given thresholds.
func NewMonitor(store ledger.Store, levels LevelStore, thresholds []config.BudgetThreshold, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		store:      store,
		levels:     levels,
		thresholds: thresholds,
		log:        logger.With().Str("component", "budget_monitor").Logger(),
		now:        time.Now,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the polling goroutine. No-op when no thresholds are set.
func (m *Monitor) Start() {
	if len(m.thresholds) == 0 {
		m.log.Info().Msg("no budget thresholds configured, monitor idle")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := m.Check(ctx); err != nil {
					m.log.Error().Err(err).Msg("budget check failed")
				}
				cancel()
			}
		}
	}()

	m.log.Info().
		Int("thresholds", len(m.thresholds)).
		Dur("interval", m.interval).
		Msg("budget monitor started")
}

// Stop terminates the polling goroutine.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Check evaluates every scope and fires rising-edge alerts.
func (m *Monitor) Check(ctx context.Context) ([]Status, error) {
	return m.evaluate(ctx, true)
}

// Statuses evaluates every scope without firing or mutating edge state.
func (m *Monitor) Statuses(ctx context.Context) ([]Status, error) {
	return m.evaluate(ctx, false)
}

func (m *Monitor) evaluate(ctx context.Context, fire bool) ([]Status, error) {
	now := m.now().UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	period := now.Format("2006-01")

	statuses := make([]Status, 0, len(m.thresholds))

	for _, t := range m.thresholds {
		provider, category, err := parseScope(t.Scope)
		if err != nil {
			return nil, err
		}

		spent, err := m.store.SumCosts(ctx, provider, category, periodStart)
		if err != nil {
			return nil, fmt.Errorf("sum costs for %s: %w", t.Scope, err)
		}

		percent := spent / t.LimitUSD * 100
		level := levelFor(percent)

		if fire {
			if err := m.applyEdges(ctx, t, period, spent, percent, level); err != nil {
				return nil, err
			}
		}

		statuses = append(statuses, Status{
			Scope:      t.Scope,
			Period:     period,
			LimitUSD:   t.LimitUSD,
			SpentUSD:   spent,
			Percent:    percent,
			AlertLevel: level,
		})
	}

	return statuses, nil
}

// applyEdges fires alerts for newly crossed levels and persists the new
// level, including downward moves so a re-cross fires again.
func (m *Monitor) applyEdges(ctx context.Context, t config.BudgetThreshold, period string, spent, percent float64, level int) error {
	last, err := m.levels.LastLevel(ctx, t.Scope, period)
	if err != nil {
		return fmt.Errorf("load alert level for %s: %w", t.Scope, err)
	}

	if level > last {
		for _, edge := range []int{LevelWarning, LevelExceeded} {
			if level >= edge && last < edge {
				metrics.AlertsFired.WithLabelValues(t.Scope, fmt.Sprintf("%d", edge)).Inc()
				m.log.Warn().
					Str("scope", t.Scope).
					Str("period", period).
					Int("level", edge).
					Float64("spent_usd", spent).
					Float64("limit_usd", t.LimitUSD).
					Float64("percent", percent).
					Msg("budget threshold crossed")
			}
		}
	}

	if level != last {
		if err := m.levels.SetLevel(ctx, t.Scope, period, level); err != nil {
			return fmt.Errorf("store alert level for %s: %w", t.Scope, err)
		}
	}

	return nil
}

func levelFor(percent float64) int {
	switch {
	case percent >= LevelExceeded:
		return LevelExceeded
	case percent >= LevelWarning:
		return LevelWarning
	default:
		return 0
	}
}

// parseScope splits "total", "provider:<p>" or "category:<c>" into the
// SumCosts filters.
func parseScope(scope string) (provider string, category ledger.Category, err error) {
	switch {
	case scope == "total":
		return "", "", nil
	case strings.HasPrefix(scope, "provider:"):
		return strings.TrimPrefix(scope, "provider:"), "", nil
	case strings.HasPrefix(scope, "category:"):
		c := ledger.Category(strings.TrimPrefix(scope, "category:"))
		if !ledger.ValidCategory(c) {
			return "", "", fmt.Errorf("unknown category in scope %q", scope)
		}
		return "", c, nil
	default:
		return "", "", fmt.Errorf("unknown budget scope %q", scope)
	}
}
