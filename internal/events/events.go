// Package events defines the wire contracts for pipeline events and the
// dispatcher that routes them into the ledger.
//
// Producers append envelopes of {type, payload} to the shared event log. The
// payload schema is closed per type and validated here, at the dispatch
// boundary, before any handler runs: a malformed payload is a typed parse
// failure that is acknowledged and dropped, never a best-effort field access
// deep inside a handler.
package events

import (
	"encoding/json"
	"fmt"
)

// Recognized event types. Anything else on the log is acknowledged and
// dropped, which is the forward-compatibility contract that lets producers
// add event types without breaking this consumer.
const (
	TypeLLMTokensUsed         = "llm.tokens_used"
	TypeTTSSynthesisCompleted = "tts.synthesis_completed"
	TypeMediaRenderCompleted  = "media.render_completed"
	TypeThumbnailGenerated    = "thumbnail.generated"
	TypeRevenueUpdated        = "analytics.revenue_updated"
)

// Envelope is one event-log entry as delivered to the consumer.
type Envelope struct {
	// ID is the log entry id, used for acknowledgement and idempotency.
	ID      string
	Type    string
	Payload []byte
}

// LLMTokensUsed reports token consumption for one generation task.
type LLMTokensUsed struct {
	VideoID      string `json:"videoId"`
	ChannelID    string `json:"channelId,omitempty"`
	Provider     string `json:"provider"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	Task         string `json:"task"`
}

// TTSSynthesisCompleted reports synthesized speech characters.
type TTSSynthesisCompleted struct {
	VideoID    string `json:"videoId"`
	ChannelID  string `json:"channelId,omitempty"`
	Provider   string `json:"provider"`
	Characters int64  `json:"characters"`
	VoiceID    string `json:"voiceId"`
}

// MediaRenderCompleted reports a finished avatar/video render.
type MediaRenderCompleted struct {
	VideoID         string  `json:"videoId"`
	ChannelID       string  `json:"channelId,omitempty"`
	Provider        string  `json:"provider,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
	Quality         string  `json:"quality"`
}

// ThumbnailVariant is one generated thumbnail candidate.
type ThumbnailVariant struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Style    string `json:"style"`
}

// ThumbnailGenerated reports a batch of generated thumbnail variants. Each
// variant is priced as its own cost event.
type ThumbnailGenerated struct {
	VideoID   string             `json:"videoId"`
	ChannelID string             `json:"channelId,omitempty"`
	Variants  []ThumbnailVariant `json:"variants"`
}

// RevenueUpdated carries externally sourced monetization data for a video.
type RevenueUpdated struct {
	VideoID    string   `json:"videoId"`
	ChannelID  string   `json:"channelId,omitempty"`
	RevenueUSD *float64 `json:"revenueUsd"`
	Views      *int64   `json:"views"`
}

// decode parses a payload into its typed variant, rejecting invalid JSON.
func decode(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}
