// Package publisher delivers due scheduled posts to the user's connected
// platforms and records the outcome on the post row.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const linkedinBaseURL = "https://api.linkedin.com"

// LinkedInClient posts text shares through the LinkedIn UGC API.
type LinkedInClient struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewLinkedInClient builds the production client. baseURL is overridable for
// tests; pass "" for the real API.
func NewLinkedInClient(baseURL string) *LinkedInClient {
	if baseURL == "" {
		baseURL = linkedinBaseURL
	}
	return &LinkedInClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("X-Restli-Protocol-Version", "2.0.0"),
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (c *LinkedInClient) Name() string { return "linkedin" }

type linkedinShareResponse struct {
	ID string `json:"id"`
}

// Publish creates a text share as the connected member and returns the share
// URN LinkedIn assigns.
func (c *LinkedInClient) Publish(ctx context.Context, accessToken, authorID, content string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body := map[string]any{
		"author":         "urn:li:person:" + authorID,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": content},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var out linkedinShareResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(body).
		SetResult(&out).
		Post("/v2/ugcPosts")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("linkedin returned %d: %s", resp.StatusCode(), truncateBody(resp.String()))
	}

	id := out.ID
	if id == "" {
		id = resp.Header().Get("X-Restli-Id")
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("linkedin returned no share id")
	}
	return id, nil
}

func truncateBody(s string) string {
	if len(s) > 300 {
		return s[:300]
	}
	return s
}
