package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	// ContentTTL is how long generated copy stays cached.
	ContentTTL = time.Hour
	// AnalyticsTTL is how long analytics snapshots stay cached.
	AnalyticsTTL = 5 * time.Minute
)

// ContentCache is the content-generation specialization of the cache layer.
// Content keys carry the campaign identifier so a whole campaign can be
// invalidated with one pattern delete.
type ContentCache struct {
	layer *Layer
}

// NewContentCache wraps an existing Layer.
func NewContentCache(layer *Layer) *ContentCache {
	return &ContentCache{layer: layer}
}

// contentParams canonicalizes the generation inputs that identify a piece
// of copy.
func contentParams(product, persona, platform, tone string) map[string]any {
	return map[string]any{
		"product":  product,
		"persona":  persona,
		"platform": platform,
		"tone":     tone,
	}
}

// GetContent returns cached generated copy, if present.
func (c *ContentCache) GetContent(ctx context.Context, product, persona, platform, tone string) (map[string]any, bool) {
	raw, ok := c.layer.Get(ctx, Key("content", contentParams(product, persona, platform, tone)))
	if !ok {
		return nil, false
	}

	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, false
	}
	return content, true
}

// SetContent caches generated copy for the standard content TTL.
func (c *ContentCache) SetContent(ctx context.Context, product, persona, platform, tone string, content map[string]any) {
	raw, err := json.Marshal(content)
	if err != nil {
		return
	}
	c.layer.Set(ctx, Key("content", contentParams(product, persona, platform, tone)), raw, ContentTTL)
}

// GetAnalytics returns a cached analytics snapshot for a campaign.
func (c *ContentCache) GetAnalytics(ctx context.Context, campaignID string) (map[string]any, bool) {
	raw, ok := c.layer.Get(ctx, "analytics:"+campaignID)
	if !ok {
		return nil, false
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false
	}
	return data, true
}

// SetAnalytics caches an analytics snapshot for the short analytics TTL.
func (c *ContentCache) SetAnalytics(ctx context.Context, campaignID string, data map[string]any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	c.layer.Set(ctx, "analytics:"+campaignID, raw, AnalyticsTTL)
}

// InvalidateCampaign removes every cache entry tagged with the campaign ID
// and returns the number of entries deleted.
func (c *ContentCache) InvalidateCampaign(ctx context.Context, campaignID string) int {
	count := c.layer.InvalidatePattern(ctx, "*"+campaignID+"*")
	slog.Info("campaign cache invalidated", "campaign_id", campaignID, "count", count)
	return count
}
