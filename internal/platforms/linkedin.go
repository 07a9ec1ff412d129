package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"copyrelay/internal/core"
)

const linkedinDefaultBaseURL = "https://api.linkedin.com/v2"

// LinkedInConfig configures the LinkedIn client.
type LinkedInConfig struct {
	AccessToken string
	BaseURL     string
	Client      *http.Client
}

// LinkedIn posts member and organization content through the v2 API.
type LinkedIn struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

func NewLinkedIn(cfg LinkedInConfig) *LinkedIn {
	if cfg.BaseURL == "" {
		cfg.BaseURL = linkedinDefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: platformTimeout}
	}
	return &LinkedIn{
		accessToken: cfg.AccessToken,
		baseURL:     cfg.BaseURL,
		client:      cfg.Client,
	}
}

func (l *LinkedIn) Name() string { return "linkedin" }

// Post publishes the payload as a UGC feed post. Expected payload keys:
// text, author_urn, and optionally visibility, article_link, article_title,
// and article_description.
func (l *LinkedIn) Post(ctx context.Context, payload map[string]any) (*core.PublishResult, error) {
	text, _ := payload["text"].(string)
	authorURN, _ := payload["author_urn"].(string)
	if text == "" || authorURN == "" {
		return nil, core.NewInvalidRequestError("linkedin post requires text and author_urn", nil)
	}

	visibility, _ := payload["visibility"].(string)
	if visibility == "" {
		visibility = "PUBLIC"
	}

	shareContent := map[string]any{
		"shareCommentary":    map[string]any{"text": text},
		"shareMediaCategory": "NONE",
	}
	if link, ok := payload["article_link"].(string); ok && link != "" {
		title, _ := payload["article_title"].(string)
		if title == "" {
			title = "Read More"
		}
		description, _ := payload["article_description"].(string)
		shareContent["shareMediaCategory"] = "ARTICLE"
		shareContent["media"] = []map[string]any{{
			"status":      "READY",
			"originalUrl": link,
			"title":       map[string]any{"text": title},
			"description": map[string]any{"text": description},
		}}
	}

	body := map[string]any{
		"author":         authorURN,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": visibility,
		},
	}

	resp, err := l.call(ctx, http.MethodPost, "/ugcPosts", body)
	if err != nil {
		return nil, err
	}
	return &core.PublishResult{
		PostID:   gjson.GetBytes(resp, "id").String(),
		Platform: l.Name(),
	}, nil
}

// PostToOrganization publishes a share on an organization page.
func (l *LinkedIn) PostToOrganization(ctx context.Context, organizationID, text, title, description, link string, public bool) (*core.PublishResult, error) {
	body := map[string]any{
		"owner": fmt.Sprintf("urn:li:organization:%s", organizationID),
		"text":  map[string]any{"text": text},
		"distribution": map[string]any{
			"linkedInDistributionTarget": map[string]any{
				"visibleToGuest": public,
			},
		},
	}
	if link != "" {
		if title == "" {
			title = "Learn More"
		}
		body["content"] = map[string]any{
			"contentEntities": []map[string]any{{
				"entityLocation": link,
				"title":          title,
				"description":    description,
			}},
		}
	}

	resp, err := l.call(ctx, http.MethodPost, "/shares", body)
	if err != nil {
		return nil, err
	}
	return &core.PublishResult{
		PostID:   gjson.GetBytes(resp, "id").String(),
		Platform: l.Name(),
	}, nil
}

// ShareStatistics fetches engagement counts for a share.
func (l *LinkedIn) ShareStatistics(ctx context.Context, shareURN string) (map[string]any, error) {
	resp, err := l.call(ctx, http.MethodGet, fmt.Sprintf("/socialActions/%s?q=likes", shareURN), nil)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode share statistics: %w", err)
	}
	return out, nil
}

func (l *LinkedIn) call(ctx context.Context, method, path string, body map[string]any) ([]byte, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal linkedin request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build linkedin request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	return doPlatformRequest(l.client, req, "linkedin")
}
