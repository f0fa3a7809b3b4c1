// Package store provides the persistence implementations behind ledger.Store.
//
// PostgreSQL is the durable source of truth. Cost events are append-only rows
// with a uniqueness constraint on the originating log-entry id, so redelivered
// entries insert nothing. The per-video ledger row is a single-row upsert.
// The in-memory implementation in memory.go backs unit tests.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/ledger"
)

// Postgres implements ledger.Store on PostgreSQL via database/sql + lib/pq.
//
// Thread safety: all methods are safe for concurrent use; database/sql pools
// connections internally.
type Postgres struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPostgres opens a connection pool, verifies connectivity and returns the
// store. Call Close during graceful shutdown.
func NewPostgres(postgresURL string, logger zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	// Writes are O(1) appends and upserts; reads fold whole videos. A modest
	// pool is enough for many consumer instances sharing one database.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	logger.Info().Msg("postgres connection established")

	return &Postgres{
		db:  db,
		log: logger.With().Str("component", "postgres_store").Logger(),
	}, nil
}

// DB exposes the underlying pool for readiness checks and tooling.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// InsertCostEvent appends one immutable cost event. A duplicate non-empty
// source_entry_id hits the partial unique index and inserts nothing; the
// (false, nil) return tells the recorder the redelivery was a no-op.
func (p *Postgres) InsertCostEvent(ctx context.Context, ev *ledger.CostEvent) (bool, error) {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	if ev.Metadata == nil {
		metadata = []byte("{}")
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO cost_events (
			id, video_id, channel_id, category, provider,
			units, unit_label, cost_usd, source_entry_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_entry_id) WHERE source_entry_id <> '' DO NOTHING
	`, ev.ID, ev.VideoID, ev.ChannelID, string(ev.Category), ev.Provider,
		ev.Units, ev.UnitLabel, ev.CostUSD, ev.SourceEntryID, metadata, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert cost event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

const costEventColumns = `
	id, video_id, channel_id, category, provider,
	units, unit_label, cost_usd, source_entry_id, metadata, created_at`

// ListVideoEvents returns all cost events for a video in recording order.
func (p *Postgres) ListVideoEvents(ctx context.Context, videoID string) ([]ledger.CostEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+costEventColumns+`
		FROM cost_events
		WHERE video_id = $1
		ORDER BY created_at, id
	`, videoID)
	if err != nil {
		return nil, fmt.Errorf("query video events: %w", err)
	}
	defer rows.Close()

	return scanCostEvents(rows)
}

// ListChannelEvents returns a channel's cost events created at or after since.
func (p *Postgres) ListChannelEvents(ctx context.Context, channelID string, since time.Time) ([]ledger.CostEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+costEventColumns+`
		FROM cost_events
		WHERE channel_id = $1 AND created_at >= $2
		ORDER BY created_at, id
	`, channelID, since)
	if err != nil {
		return nil, fmt.Errorf("query channel events: %w", err)
	}
	defer rows.Close()

	return scanCostEvents(rows)
}

func scanCostEvents(rows *sql.Rows) ([]ledger.CostEvent, error) {
	var events []ledger.CostEvent
	for rows.Next() {
		var ev ledger.CostEvent
		var category string
		var metadata []byte

		if err := rows.Scan(&ev.ID, &ev.VideoID, &ev.ChannelID, &category, &ev.Provider,
			&ev.Units, &ev.UnitLabel, &ev.CostUSD, &ev.SourceEntryID, &metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost event: %w", err)
		}

		ev.Category = ledger.Category(category)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetLedgerRecord returns the mutable per-video row, or ledger.ErrNotFound.
func (p *Postgres) GetLedgerRecord(ctx context.Context, videoID string) (*ledger.VideoLedgerRecord, error) {
	var rec ledger.VideoLedgerRecord
	var revenue sql.NullFloat64
	var views sql.NullInt64

	err := p.db.QueryRowContext(ctx, `
		SELECT video_id, channel_id, revenue_usd, views, updated_at
		FROM video_ledger
		WHERE video_id = $1
	`, videoID).Scan(&rec.VideoID, &rec.ChannelID, &revenue, &views, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("query ledger record: %w", err)
	}

	if revenue.Valid {
		rec.RevenueUSD = &revenue.Float64
	}
	if views.Valid {
		rec.Views = &views.Int64
	}

	return &rec, nil
}

// ListChannelLedgerRecords returns all ledger rows for a channel.
func (p *Postgres) ListChannelLedgerRecords(ctx context.Context, channelID string) ([]ledger.VideoLedgerRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT video_id, channel_id, revenue_usd, views, updated_at
		FROM video_ledger
		WHERE channel_id = $1
		ORDER BY video_id
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query ledger records: %w", err)
	}
	defer rows.Close()

	var records []ledger.VideoLedgerRecord
	for rows.Next() {
		var rec ledger.VideoLedgerRecord
		var revenue sql.NullFloat64
		var views sql.NullInt64

		if err := rows.Scan(&rec.VideoID, &rec.ChannelID, &revenue, &views, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}

		if revenue.Valid {
			rec.RevenueUSD = &revenue.Float64
		}
		if views.Valid {
			rec.Views = &views.Int64
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// EnsureLedgerRecord lazily creates the per-video row on first contact.
func (p *Postgres) EnsureLedgerRecord(ctx context.Context, videoID, channelID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO video_ledger (video_id, channel_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (video_id) DO NOTHING
	`, videoID, channelID)
	if err != nil {
		return fmt.Errorf("ensure ledger record: %w", err)
	}
	return nil
}

// UpsertRevenue overwrites the revenue/view fields, last-write-wins.
func (p *Postgres) UpsertRevenue(ctx context.Context, videoID, channelID string, revenueUSD *float64, views *int64) error {
	var revenue sql.NullFloat64
	if revenueUSD != nil {
		revenue = sql.NullFloat64{Float64: *revenueUSD, Valid: true}
	}
	var viewCount sql.NullInt64
	if views != nil {
		viewCount = sql.NullInt64{Int64: *views, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO video_ledger (video_id, channel_id, revenue_usd, views, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (video_id) DO UPDATE SET
			revenue_usd = EXCLUDED.revenue_usd,
			views = EXCLUDED.views,
			updated_at = NOW()
	`, videoID, channelID, revenue, viewCount)
	if err != nil {
		return fmt.Errorf("upsert revenue: %w", err)
	}
	return nil
}

// SumCosts totals cost_usd since the given time, optionally filtered by
// provider and/or category.
func (p *Postgres) SumCosts(ctx context.Context, provider string, category ledger.Category, since time.Time) (float64, error) {
	var total float64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM cost_events
		WHERE created_at >= $1
		  AND ($2 = '' OR provider = $2)
		  AND ($3 = '' OR category = $3)
	`, since, provider, string(category)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum costs: %w", err)
	}
	return total, nil
}
