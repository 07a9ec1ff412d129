package usage

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelRate holds per-1000-token prices for one model, with distinct input
// and output rates.
type ModelRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// PricingTable maps model identifiers to their token rates. Unknown models
// fall back to the default rate so cost is never silently zero.
type PricingTable struct {
	Models  map[string]ModelRate `yaml:"models"`
	Default ModelRate            `yaml:"default"`
}

// DefaultPricing returns the compiled-in price table.
func DefaultPricing() *PricingTable {
	return &PricingTable{
		Models: map[string]ModelRate{
			"gpt-4-turbo-preview": {InputPer1K: 0.01, OutputPer1K: 0.03},
			"gpt-3.5-turbo":       {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		},
		Default: ModelRate{InputPer1K: 0.01, OutputPer1K: 0.03},
	}
}

// LoadPricing reads a pricing table from a YAML file. Models absent from the
// file fall back to the table's default rate.
func LoadPricing(path string) (*PricingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var table PricingTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	if table.Models == nil {
		table.Models = make(map[string]ModelRate)
	}
	if table.Default == (ModelRate{}) {
		table.Default = DefaultPricing().Default
	}
	return &table, nil
}

// rate returns the price entry for model, falling back to the default.
func (p *PricingTable) rate(model string) ModelRate {
	if r, ok := p.Models[model]; ok {
		return r
	}
	return p.Default
}

// CalculateCost computes the dollar cost of a generation from token counts.
// Pure function, used both for real tracking and pre-flight estimation.
func (t *Tracker) CalculateCost(model string, inputTokens, outputTokens int64) float64 {
	r := t.pricing.rate(model)
	return r.InputPer1K*float64(inputTokens)/1000 + r.OutputPer1K*float64(outputTokens)/1000
}

// ContentEstimate is a pre-flight cost estimate for a generation request.
type ContentEstimate struct {
	EstimatedTokens  int64   `json:"estimated_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Platforms        int     `json:"platforms"`
	ContentLength    string  `json:"content_length"`
}

// tokenEstimates maps content length classes to rough token budgets.
var tokenEstimates = map[string]int64{
	"short":  500,
	"medium": 1000,
	"long":   2000,
}

// EstimateContentCost estimates tokens and cost for generating copy across
// the given platforms, assuming tokens split evenly between input and output.
func (t *Tracker) EstimateContentCost(model string, platforms []string, contentLength string) ContentEstimate {
	base, ok := tokenEstimates[contentLength]
	if !ok {
		base = tokenEstimates["medium"]
		contentLength = "medium"
	}

	total := base * int64(len(platforms))
	cost := t.CalculateCost(model, total/2, total/2)

	return ContentEstimate{
		EstimatedTokens:  total,
		EstimatedCostUSD: math.Round(cost*10000) / 10000,
		Platforms:        len(platforms),
		ContentLength:    contentLength,
	}
}
