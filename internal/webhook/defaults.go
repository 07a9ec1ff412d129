package webhook

import (
	"context"
	"log/slog"

	"copyrelay/internal/cache"
)

// RegisterDefaults installs the built-in event handlers.
//
// content_approved marks a campaign's content as approved and drops any
// cached entries for it so the next read reflects the approval.
// performance_update records platform analytics against the campaign.
func RegisterDefaults(r *Receiver, contentCache *cache.ContentCache) {
	r.Register("content_approved", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		campaignID, _ := data["campaign_id"].(string)
		if campaignID != "" && contentCache != nil {
			dropped := contentCache.InvalidateCampaign(ctx, campaignID)
			slog.Info("content approved", "campaign_id", campaignID, "cache_entries_dropped", dropped)
		} else {
			slog.Info("content approved", "campaign_id", campaignID)
		}
		return map[string]any{
			"campaign_id": campaignID,
			"status":      "approved",
		}, nil
	})

	r.Register("performance_update", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		campaignID, _ := data["campaign_id"].(string)
		metrics, _ := data["metrics"].(map[string]any)
		if campaignID != "" && contentCache != nil && metrics != nil {
			contentCache.SetAnalytics(ctx, campaignID, metrics)
		}
		slog.Info("performance update recorded", "campaign_id", campaignID, "metric_count", len(metrics))
		return map[string]any{
			"campaign_id": campaignID,
			"recorded":    len(metrics),
		}, nil
	})
}
