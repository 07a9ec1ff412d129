// Package platforms implements the social-platform publishing clients.
// Each client satisfies core.Publisher; resilience (retry, breakers) is
// composed around them at the call site, not inside.
package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"copyrelay/internal/core"
)

const (
	metaDefaultBaseURL = "https://graph.facebook.com/v18.0"
	platformTimeout    = 30 * time.Second
)

// MetaConfig configures the Meta Graph API client.
type MetaConfig struct {
	AccessToken string
	BaseURL     string
	Client      *http.Client
}

// Meta posts to Facebook pages and Instagram business accounts through the
// Graph API.
type Meta struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

func NewMeta(cfg MetaConfig) *Meta {
	if cfg.BaseURL == "" {
		cfg.BaseURL = metaDefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: platformTimeout}
	}
	return &Meta{
		accessToken: cfg.AccessToken,
		baseURL:     cfg.BaseURL,
		client:      cfg.Client,
	}
}

func (m *Meta) Name() string { return "meta" }

// Post publishes the payload to a Facebook page feed. Expected payload keys:
// page_id, message, and optionally link and image_url. A payload with an
// image goes through the photos endpoint instead of the feed.
func (m *Meta) Post(ctx context.Context, payload map[string]any) (*core.PublishResult, error) {
	pageID, _ := payload["page_id"].(string)
	message, _ := payload["message"].(string)
	if pageID == "" || message == "" {
		return nil, core.NewInvalidRequestError("meta post requires page_id and message", nil)
	}

	if imageURL, ok := payload["image_url"].(string); ok && imageURL != "" {
		return m.postPhoto(ctx, pageID, imageURL, message)
	}

	params := url.Values{}
	params.Set("access_token", m.accessToken)
	params.Set("message", message)
	if link, ok := payload["link"].(string); ok && link != "" {
		params.Set("link", link)
	}

	body, err := m.call(ctx, http.MethodPost, fmt.Sprintf("/%s/feed", pageID), params)
	if err != nil {
		return nil, err
	}
	return &core.PublishResult{
		PostID:   gjson.GetBytes(body, "id").String(),
		Platform: m.Name(),
	}, nil
}

func (m *Meta) postPhoto(ctx context.Context, pageID, imageURL, caption string) (*core.PublishResult, error) {
	params := url.Values{}
	params.Set("access_token", m.accessToken)
	params.Set("url", imageURL)
	params.Set("caption", caption)

	body, err := m.call(ctx, http.MethodPost, fmt.Sprintf("/%s/photos", pageID), params)
	if err != nil {
		return nil, err
	}
	return &core.PublishResult{
		PostID:   gjson.GetBytes(body, "id").String(),
		Platform: m.Name(),
	}, nil
}

// PostToInstagram publishes an image with a caption to an Instagram business
// account. The Graph API requires two steps: create a media container, then
// publish it.
func (m *Meta) PostToInstagram(ctx context.Context, igUserID, imageURL, caption string) (*core.PublishResult, error) {
	params := url.Values{}
	params.Set("access_token", m.accessToken)
	params.Set("image_url", imageURL)
	params.Set("caption", caption)

	body, err := m.call(ctx, http.MethodPost, fmt.Sprintf("/%s/media", igUserID), params)
	if err != nil {
		return nil, err
	}
	containerID := gjson.GetBytes(body, "id").String()
	if containerID == "" {
		return nil, core.NewInvalidRequestError("media container creation returned no id", nil)
	}

	publishParams := url.Values{}
	publishParams.Set("access_token", m.accessToken)
	publishParams.Set("creation_id", containerID)

	body, err = m.call(ctx, http.MethodPost, fmt.Sprintf("/%s/media_publish", igUserID), publishParams)
	if err != nil {
		return nil, err
	}
	return &core.PublishResult{
		PostID:   gjson.GetBytes(body, "id").String(),
		Platform: "instagram",
	}, nil
}

// PageInsights fetches page-level analytics for the given metrics.
func (m *Meta) PageInsights(ctx context.Context, pageID string, metricNames []string, period string) (map[string]any, error) {
	if len(metricNames) == 0 {
		metricNames = []string{
			"page_impressions",
			"page_engaged_users",
			"page_post_engagements",
			"page_fans",
		}
	}
	if period == "" {
		period = "day"
	}

	params := url.Values{}
	params.Set("access_token", m.accessToken)
	params.Set("metric", strings.Join(metricNames, ","))
	params.Set("period", period)

	body, err := m.call(ctx, http.MethodGet, fmt.Sprintf("/%s/insights", pageID), params)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	gjson.GetBytes(body, "data").ForEach(func(_, metric gjson.Result) bool {
		out[metric.Get("name").String()] = metric.Get("values").Value()
		return true
	})
	return out, nil
}

// call performs one Graph API request with params in the query string, as
// the Graph API expects, and classifies any error response.
func (m *Meta) call(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}

	return doPlatformRequest(m.client, req, "meta")
}
