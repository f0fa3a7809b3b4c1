package store

import (
	"context"
	"sync"
	"time"

	"github.com/reelforge/ledger/internal/ledger"
)

// Memory is an in-memory ledger.Store used by unit tests. It mirrors the
// PostgreSQL semantics that matter to callers: source-entry-id uniqueness,
// lazy ledger rows and last-write-wins revenue upserts.
type Memory struct {
	mu      sync.Mutex
	events  []ledger.CostEvent
	records map[string]*ledger.VideoLedgerRecord
	seen    map[string]bool // non-empty source entry ids already inserted
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*ledger.VideoLedgerRecord),
		seen:    make(map[string]bool),
		now:     time.Now,
	}
}

// SetClock overrides the clock used for updated_at stamps in tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) InsertCostEvent(_ context.Context, ev *ledger.CostEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.SourceEntryID != "" {
		if m.seen[ev.SourceEntryID] {
			return false, nil
		}
		m.seen[ev.SourceEntryID] = true
	}

	m.events = append(m.events, *ev)
	return true, nil
}

func (m *Memory) ListVideoEvents(_ context.Context, videoID string) ([]ledger.CostEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.CostEvent
	for _, ev := range m.events {
		if ev.VideoID == videoID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) ListChannelEvents(_ context.Context, channelID string, since time.Time) ([]ledger.CostEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.CostEvent
	for _, ev := range m.events {
		if ev.ChannelID == channelID && !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) GetLedgerRecord(_ context.Context, videoID string) (*ledger.VideoLedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[videoID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *Memory) ListChannelLedgerRecords(_ context.Context, channelID string) ([]ledger.VideoLedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.VideoLedgerRecord
	for _, rec := range m.records {
		if rec.ChannelID == channelID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *Memory) EnsureLedgerRecord(_ context.Context, videoID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[videoID]; !ok {
		m.records[videoID] = &ledger.VideoLedgerRecord{
			VideoID:   videoID,
			ChannelID: channelID,
			UpdatedAt: m.now().UTC(),
		}
	}
	return nil
}

func (m *Memory) UpsertRevenue(_ context.Context, videoID, channelID string, revenueUSD *float64, views *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[videoID]
	if !ok {
		rec = &ledger.VideoLedgerRecord{VideoID: videoID, ChannelID: channelID}
		m.records[videoID] = rec
	}
	rec.RevenueUSD = revenueUSD
	rec.Views = views
	rec.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SumCosts(_ context.Context, provider string, category ledger.Category, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, ev := range m.events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		if provider != "" && ev.Provider != provider {
			continue
		}
		if category != "" && ev.Category != category {
			continue
		}
		total += ev.CostUSD
	}
	return total, nil
}
