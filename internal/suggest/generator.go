// Package suggest generates daily post ideas for users on their configured
// cron cadence and stores them as suggested posts.
package suggest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/postpilot-app/postpilot/backend/internal/models"
)

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "gpt-4o-mini"

const defaultIdeaCount = 3

// ChatClient abstracts the completion call so the generator can be tested
// without the network.
type ChatClient interface {
	Ideas(ctx context.Context, system, user string) (string, error)
}

type openAIChat struct {
	client openai.Client
	model  string
}

// NewOpenAIChat builds the production ChatClient.
func NewOpenAIChat(apiKey, model string) ChatClient {
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &openAIChat{client: client, model: model}
}

func (c *openAIChat) Ideas(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

type idea struct {
	Content  string `json:"content"`
	Topic    string `json:"topic"`
	Platform string `json:"platform"`
}

// Generator turns a user's topics and connected platforms into suggested
// posts. Completion calls are rate limited across all users.
type Generator struct {
	db      *sql.DB
	chat    ChatClient
	limiter *rate.Limiter
	count   int
	notify  func(userID, postID string)
}

func NewGenerator(db *sql.DB, chat ChatClient) *Generator {
	return &Generator{
		db:      db,
		chat:    chat,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		count:   defaultIdeaCount,
	}
}

// SetNotify installs a hook called once per stored suggestion; nil is allowed.
func (g *Generator) SetNotify(fn func(userID, postID string)) {
	g.notify = fn
}

// GenerateForUser produces and stores a batch of suggested posts.
func (g *Generator) GenerateForUser(ctx context.Context, userID string) ([]models.Post, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	topics, platforms, err := g.loadProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", userID, err)
	}
	if len(platforms) == 0 {
		platforms = []string{models.PlatformLinkedIn}
	}

	content, err := g.chat.Ideas(ctx, systemPrompt, userPrompt(topics, platforms, g.count))
	if err != nil {
		return nil, err
	}
	ideas, err := parseIdeas(content)
	if err != nil {
		return nil, err
	}

	stored := make([]models.Post, 0, len(ideas))
	for _, id := range ideas {
		text := strings.TrimSpace(id.Content)
		if text == "" {
			continue
		}
		platform := strings.TrimSpace(strings.ToLower(id.Platform))
		if platform != models.PlatformLinkedIn && platform != models.PlatformSubstack {
			platform = platforms[0]
		}
		var ideaTopics []string
		if t := strings.TrimSpace(id.Topic); t != "" {
			ideaTopics = []string{t}
		}

		p, err := g.insertSuggestion(ctx, userID, text, platform, ideaTopics)
		if err != nil {
			log.Printf("[Suggest] insert_failed userId=%s err=%v", userID, err)
			continue
		}
		stored = append(stored, p)
		if g.notify != nil {
			g.notify(userID, p.ID)
		}
	}

	log.Printf("[Suggest] generated userId=%s ideas=%d stored=%d", userID, len(ideas), len(stored))
	return stored, nil
}

// loadProfile collects the user's recent post topics and connected platforms
// to steer the prompt.
func (g *Generator) loadProfile(ctx context.Context, userID string) (topics, platforms []string, err error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT COALESCE(topics, ARRAY[]::text[])
		  FROM public.posts
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 20
	`, userID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var ts []string
		if err := rows.Scan(pq.Array(&ts)); err != nil {
			return nil, nil, err
		}
		for _, t := range ts {
			if t != "" && !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	prows, err := g.db.QueryContext(ctx, `
		SELECT provider FROM public.social_connections WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var p string
		if err := prows.Scan(&p); err != nil {
			return nil, nil, err
		}
		platforms = append(platforms, p)
	}
	return topics, platforms, prows.Err()
}

func (g *Generator) insertSuggestion(ctx context.Context, userID, content, platform string, topics []string) (models.Post, error) {
	var p models.Post
	err := g.db.QueryRowContext(ctx, `
		INSERT INTO public.posts (id, user_id, content, platform, status, topics, media, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'suggested', $5, ARRAY[]::text[], NOW(), NOW())
		RETURNING id, user_id, content, platform, status, created_at, updated_at
	`, suggestionID(), userID, content, platform, pq.Array(topics)).
		Scan(&p.ID, &p.UserID, &p.Content, &p.Platform, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	p.Topics = topics
	return p, err
}

const systemPrompt = `You are a social media content strategist. ` +
	`Respond with a JSON array only; each element has "content", "topic" and "platform" fields. ` +
	`Content must be ready to publish as-is, without placeholders.`

func userPrompt(topics, platforms []string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d distinct post ideas.\n", count)
	fmt.Fprintf(&b, "Target platforms: %s.\n", strings.Join(platforms, ", "))
	if len(topics) > 0 {
		fmt.Fprintf(&b, "The author usually writes about: %s.\n", strings.Join(topics, ", "))
	} else {
		b.WriteString("The author has no posting history; suggest broadly useful professional topics.\n")
	}
	return b.String()
}

func parseIdeas(content string) ([]idea, error) {
	var ideas []idea
	if err := json.Unmarshal([]byte(extractJSON(content)), &ideas); err != nil {
		return nil, fmt.Errorf("parsing ideas: %w (content: %s)", err, content)
	}
	return ideas, nil
}

// extractJSON strips a markdown code fence if the model wrapped its answer
// in one.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

func suggestionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sug_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
