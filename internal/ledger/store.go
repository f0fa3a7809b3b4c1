package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when neither cost events nor a ledger record exist
// for a requested id. The API layer translates it to 404.
var ErrNotFound = errors.New("ledger: not found")

// Store is the persistence seam for the ledger. The production implementation
// is PostgreSQL (internal/store); tests use the in-memory implementation.
//
// Cost events are pure appends and never conflict; the video ledger row is a
// single-row upsert relying on the store's atomic update primitive. Concurrent
// revenue updates for the same video race under last-write-wins, which is
// accepted behavior for externally sourced analytics data.
type Store interface {
	// InsertCostEvent appends an event. It reports false without error when
	// an event with the same non-empty SourceEntryID already exists, making
	// redelivered log entries no-ops.
	InsertCostEvent(ctx context.Context, ev *CostEvent) (inserted bool, err error)

	ListVideoEvents(ctx context.Context, videoID string) ([]CostEvent, error)
	ListChannelEvents(ctx context.Context, channelID string, since time.Time) ([]CostEvent, error)

	// GetLedgerRecord returns ErrNotFound when no row exists for the video.
	GetLedgerRecord(ctx context.Context, videoID string) (*VideoLedgerRecord, error)
	ListChannelLedgerRecords(ctx context.Context, channelID string) ([]VideoLedgerRecord, error)

	// EnsureLedgerRecord lazily creates the per-video row on first contact.
	EnsureLedgerRecord(ctx context.Context, videoID, channelID string) error

	// UpsertRevenue overwrites the revenue/view fields, last-write-wins.
	// Nil fields clear the stored value.
	UpsertRevenue(ctx context.Context, videoID, channelID string, revenueUSD *float64, views *int64) error

	// SumCosts totals cost_usd since the given time, optionally filtered by
	// provider and/or category (empty string means no filter). Used by the
	// budget monitor.
	SumCosts(ctx context.Context, provider string, category Category, since time.Time) (float64, error)
}
