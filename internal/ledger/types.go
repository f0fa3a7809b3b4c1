// Package ledger is the financial core of the pipeline: it prices completed
// production work into immutable cost entries and answers per-video and
// per-channel cost/profit queries by folding over the stored history.
//
// The write path is append-only. A CostEvent is priced exactly once, at
// creation, with the rate in force at that moment, and is never updated or
// deleted afterwards. Corrections are compensating entries (negative units and
// cost are allowed). Aggregates are never stored: every breakdown and summary
// is recomputed on read by folding the event history, which keeps writes O(1)
// and free of hot-row contention when several providers report costs for the
// same video concurrently.
package ledger

import "time"

// Category classifies what kind of billable work a cost entry covers.
type Category string

const (
	CategoryLLMInput        Category = "llm_input"
	CategoryLLMOutput       Category = "llm_output"
	CategoryTTSChars        Category = "tts_chars"
	CategoryMediaMinutes    Category = "media_minutes"
	CategoryImageGeneration Category = "image_generation"
	CategoryStorage         Category = "storage"
	CategoryAPIQuota        Category = "api_quota"
)

// ValidCategory reports whether c is a recognized cost category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryLLMInput, CategoryLLMOutput, CategoryTTSChars,
		CategoryMediaMinutes, CategoryImageGeneration,
		CategoryStorage, CategoryAPIQuota:
		return true
	}
	return false
}

// CostEvent is one immutable ledger entry: a unit count of billable work
// priced in USD at recording time.
//
// SourceEntryID carries the originating event-log entry id (suffixed when one
// log entry yields several cost events). It is unique in the store, so
// at-least-once redelivery of the same entry becomes a harmless no-op instead
// of double-counting.
type CostEvent struct {
	ID            string            `json:"id"`
	VideoID       string            `json:"videoId"`
	ChannelID     string            `json:"channelId"`
	Category      Category          `json:"category"`
	Provider      string            `json:"provider"`
	Units         float64           `json:"units"`
	UnitLabel     string            `json:"unitLabel"`
	CostUSD       float64           `json:"costUsd"`
	SourceEntryID string            `json:"sourceEntryId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// VideoLedgerRecord is the single mutable row per video: externally sourced
// monetization data, overwritten last-write-wins by the revenue updater.
type VideoLedgerRecord struct {
	VideoID    string    `json:"videoId"`
	ChannelID  string    `json:"channelId"`
	RevenueUSD *float64  `json:"revenueUsd"`
	Views      *int64    `json:"views"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// VideoCostBreakdown is the derived per-video view, computed on read.
// Nullable metrics are nil when their inputs are unknown: profit and ROI need
// revenue, ROI needs a non-zero total, cost-per-view needs a non-zero view
// count.
type VideoCostBreakdown struct {
	VideoID     string   `json:"videoId"`
	ChannelID   string   `json:"channelId"`
	LLMUSD      float64  `json:"llmTotalUsd"`
	TTSUSD      float64  `json:"ttsTotalUsd"`
	MediaUSD    float64  `json:"mediaTotalUsd"`
	ImageUSD    float64  `json:"imageTotalUsd"`
	StorageUSD  float64  `json:"storageTotalUsd"`
	OtherUSD    float64  `json:"otherUsd"`
	TotalUSD    float64  `json:"totalUsd"`
	EventCount  int      `json:"eventCount"`
	RevenueUSD  *float64 `json:"revenueUsd"`
	Views       *int64   `json:"views"`
	ProfitUSD   *float64 `json:"profitUsd"`
	ROIPercent  *float64 `json:"roiPercent"`
	CostPerView *float64 `json:"costPerView"`
}

// VideoRank is one entry in a ranked channel list.
type VideoRank struct {
	VideoID    string  `json:"videoId"`
	CostUSD    float64 `json:"costUsd"`
	RevenueUSD float64 `json:"revenueUsd"`
	ProfitUSD  float64 `json:"profitUsd"`
}

// ChannelCostSummary aggregates a channel's videos over a trailing window.
type ChannelCostSummary struct {
	ChannelID          string               `json:"channelId"`
	WindowDays         int                  `json:"windowDays"`
	VideoCount         int                  `json:"videoCount"`
	TotalCostUSD       float64              `json:"totalCostUsd"`
	TotalRevenueUSD    float64              `json:"totalRevenueUsd"`
	TotalProfitUSD     float64              `json:"totalProfitUsd"`
	AvgCostPerVideoUSD float64              `json:"avgCostPerVideoUsd"`
	AvgRevenuePerVideo float64              `json:"avgRevenuePerVideoUsd"`
	CostByCategory     map[Category]float64 `json:"costByCategory"`
	CostByProvider     map[string]float64   `json:"costByProvider"`
	MostExpensive      []VideoRank          `json:"mostExpensive"`
	MostProfitable     []VideoRank          `json:"mostProfitable"`
}
