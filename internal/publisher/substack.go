package publisher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const substackBaseURL = "https://substack.com"

// SubstackClient publishes notes through Substack's web API.
type SubstackClient struct {
	http    *resty.Client
	limiter *rate.Limiter
}

func NewSubstackClient(baseURL string) *SubstackClient {
	if baseURL == "" {
		baseURL = substackBaseURL
	}
	return &SubstackClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second),
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (c *SubstackClient) Name() string { return "substack" }

type substackNoteResponse struct {
	ID int64 `json:"id"`
}

func (c *SubstackClient) Publish(ctx context.Context, accessToken, authorID, content string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body := map[string]any{
		"bodyJson": map[string]any{
			"type": "doc",
			"content": []map[string]any{
				{
					"type": "paragraph",
					"content": []map[string]any{
						{"type": "text", "text": content},
					},
				},
			},
		},
	}

	// Substack has no OAuth bearer flow for notes; the stored token is the
	// session cookie value.
	var out substackNoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: "substack.sid", Value: strings.TrimSpace(accessToken)}).
		SetBody(body).
		SetResult(&out).
		Post("/api/v1/comment/feed")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("substack returned %d: %s", resp.StatusCode(), truncateBody(resp.String()))
	}
	if out.ID == 0 {
		return "", fmt.Errorf("substack returned no note id")
	}
	return fmt.Sprintf("%d", out.ID), nil
}
