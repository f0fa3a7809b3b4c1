// Package pricing provides the process-wide unit pricing table.
//
// The table maps a "{provider}:{unitType}" key to a USD-per-unit rate. It is
// built once at startup from compiled defaults, optionally overridden by a JSON
// file, and is immutable afterwards. A price change requires a new deployment
// and never retroactively alters stored cost figures: every cost entry captures
// the rate in force at the moment it was recorded.
package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Rate is one priced (provider, unit type) combination.
type Rate struct {
	Provider   string  `json:"provider"`
	UnitType   string  `json:"unitType"`
	UnitLabel  string  `json:"unitLabel"`
	USDPerUnit float64 `json:"usdPerUnit"`
}

// Key returns the composite pricing key for a provider and unit type.
func Key(provider, unitType string) string {
	return fmt.Sprintf("%s:%s", provider, unitType)
}

// Table is an immutable-after-load pricing lookup.
type Table struct {
	rates map[string]Rate
}

// perMillion converts a USD-per-million-units price to a per-unit rate.
// Token and character prices are quoted per million in provider rate cards.
func perMillion(usd float64) float64 {
	return usd / 1_000_000.0
}

// defaultRates is the compiled pricing table. Values mirror the provider rate
// cards at the time of writing; override with PRICING_FILE for changes.
func defaultRates() []Rate {
	return []Rate{
		{Provider: "openai", UnitType: "llm_input", UnitLabel: "tokens", USDPerUnit: perMillion(0.30)},
		{Provider: "openai", UnitType: "llm_output", UnitLabel: "tokens", USDPerUnit: perMillion(1.20)},
		{Provider: "anthropic", UnitType: "llm_input", UnitLabel: "tokens", USDPerUnit: perMillion(3.00)},
		{Provider: "anthropic", UnitType: "llm_output", UnitLabel: "tokens", USDPerUnit: perMillion(15.00)},
		{Provider: "elevenlabs", UnitType: "tts_chars", UnitLabel: "characters", USDPerUnit: perMillion(180.00)},
		{Provider: "openai", UnitType: "tts_chars", UnitLabel: "characters", USDPerUnit: perMillion(15.00)},
		{Provider: "heygen", UnitType: "media_minutes", UnitLabel: "minutes", USDPerUnit: 0.99},
		{Provider: "openai", UnitType: "image_generation", UnitLabel: "images", USDPerUnit: 0.04},
		{Provider: "stability", UnitType: "image_generation", UnitLabel: "images", USDPerUnit: 0.01},
		{Provider: "aws", UnitType: "storage", UnitLabel: "gb-months", USDPerUnit: 0.023},
		{Provider: "youtube", UnitType: "api_quota", UnitLabel: "quota units", USDPerUnit: 0},
	}
}

// NewTable builds a table from the given rates. Later entries for the same
// key win, which is how file overrides replace compiled defaults.
func NewTable(rates []Rate) *Table {
	m := make(map[string]Rate, len(rates))
	for _, r := range rates {
		m[Key(r.Provider, r.UnitType)] = r
	}
	return &Table{rates: m}
}

// Load builds the pricing table from compiled defaults plus an optional JSON
// override file (an array of Rate objects). An empty path loads defaults only.
func Load(path string) (*Table, error) {
	rates := defaultRates()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read pricing file: %w", err)
		}

		var overrides []Rate
		if err := json.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("parse pricing file: %w", err)
		}
		rates = append(rates, overrides...)
	}

	return NewTable(rates), nil
}

// Resolve returns the USD-per-unit rate for a pricing key. A missing key
// resolves to (0, false); callers record the gap and continue — a pricing hole
// must never block ingestion.
func (t *Table) Resolve(provider, unitType string) (float64, bool) {
	r, ok := t.rates[Key(provider, unitType)]
	if !ok {
		return 0, false
	}
	return r.USDPerUnit, true
}

// Lookup returns the full rate entry for a pricing key.
func (t *Table) Lookup(provider, unitType string) (Rate, bool) {
	r, ok := t.rates[Key(provider, unitType)]
	return r, ok
}

// Rates returns all rates sorted by key, for the pricing endpoint and CLI.
func (t *Table) Rates() []Rate {
	out := make([]Rate, 0, len(t.rates))
	for _, r := range t.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].Provider, out[i].UnitType) < Key(out[j].Provider, out[j].UnitType)
	})
	return out
}
