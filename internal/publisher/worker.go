package publisher

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"
)

// Provider delivers one post to a platform and returns the platform's id
// for it.
type Provider interface {
	Name() string
	Publish(ctx context.Context, accessToken, authorID, content string) (string, error)
}

// Worker polls for due scheduled posts, claims them, and publishes through
// the matching provider. Claiming is done by setting publish_claimed_at so
// multiple instances never deliver the same post twice.
type Worker struct {
	db        *sql.DB
	providers map[string]Provider
	emit      func(userID, postID, status string)
}

func New(db *sql.DB, providers ...Provider) *Worker {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Worker{db: db, providers: m}
}

// SetEmit installs a hook fired after each post reaches a terminal publish
// state; nil is allowed.
func (w *Worker) SetEmit(fn func(userID, postID, status string)) {
	w.emit = fn
}

// processDueOnce claims and publishes one batch of due posts. It returns the
// number of posts that reached a terminal state this sweep.
func (w *Worker) processDueOnce(ctx context.Context, limit int) (int, error) {
	if w == nil || w.db == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 25
	}

	type cand struct {
		id     string
		userID string
	}

	rows, err := w.db.QueryContext(ctx, `
		SELECT id, user_id
		  FROM public.posts
		 WHERE status = 'scheduled'
		   AND scheduled_at IS NOT NULL
		   AND scheduled_at <= NOW()
		   AND publish_claimed_at IS NULL
		 ORDER BY scheduled_at ASC
		 LIMIT $1
	`, limit)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cands := make([]cand, 0)
	for rows.Next() {
		var c cand
		if err := rows.Scan(&c.id, &c.userID); err != nil {
			return 0, err
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(cands) == 0 {
		return 0, nil
	}

	done := 0
	for _, c := range cands {
		res, err := w.db.ExecContext(ctx, `
			UPDATE public.posts
			   SET publish_claimed_at = NOW(), updated_at = NOW()
			 WHERE id = $1 AND user_id = $2
			   AND status = 'scheduled'
			   AND scheduled_at IS NOT NULL
			   AND scheduled_at <= NOW()
			   AND publish_claimed_at IS NULL
		`, c.id, c.userID)
		if err != nil {
			log.Printf("[Publisher] claim_failed postId=%s userId=%s err=%v", c.id, c.userID, err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Printf("[Publisher] claim_skipped postId=%s userId=%s reason=not_due_or_already_claimed", c.id, c.userID)
			continue
		}

		// Load the publish fields only after the claim.
		var content sql.NullString
		var platform string
		var providerID, accessToken sql.NullString
		err = w.db.QueryRowContext(ctx, `
			SELECT p.content, p.platform, sc.provider_id, sc.access_token
			  FROM public.posts p
			  LEFT JOIN public.social_connections sc
			    ON sc.user_id = p.user_id AND sc.provider = p.platform
			 WHERE p.id = $1 AND p.user_id = $2
		`, c.id, c.userID).Scan(&content, &platform, &providerID, &accessToken)
		if err != nil {
			w.markFailed(ctx, c.id, c.userID, "load_failed")
			log.Printf("[Publisher] load_failed postId=%s userId=%s err=%v", c.id, c.userID, err)
			done++
			continue
		}

		caption := strings.TrimSpace(content.String)
		if caption == "" {
			w.markFailed(ctx, c.id, c.userID, "empty_content")
			log.Printf("[Publisher] skipped postId=%s userId=%s reason=empty_content", c.id, c.userID)
			done++
			continue
		}
		if !accessToken.Valid || strings.TrimSpace(accessToken.String) == "" {
			w.markFailed(ctx, c.id, c.userID, "not_connected")
			log.Printf("[Publisher] skipped postId=%s userId=%s platform=%s reason=not_connected", c.id, c.userID, platform)
			done++
			continue
		}
		provider := w.providers[platform]
		if provider == nil {
			w.markFailed(ctx, c.id, c.userID, "unsupported_platform")
			log.Printf("[Publisher] skipped postId=%s userId=%s platform=%s reason=unsupported_platform", c.id, c.userID, platform)
			done++
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
		externalID, err := provider.Publish(pubCtx, accessToken.String, providerID.String, caption)
		cancel()
		if err != nil {
			w.markFailed(ctx, c.id, c.userID, truncateBody(err.Error()))
			log.Printf("[Publisher] publish_failed postId=%s userId=%s platform=%s err=%v", c.id, c.userID, platform, err)
			done++
			continue
		}

		w.markPosted(ctx, c.id, c.userID, externalID)
		log.Printf("[Publisher] published postId=%s userId=%s platform=%s externalId=%s", c.id, c.userID, platform, externalID)
		done++
	}

	return done, nil
}

func (w *Worker) markPosted(ctx context.Context, postID, userID, externalID string) {
	_, err := w.db.ExecContext(ctx, `
		UPDATE public.posts
		   SET status = 'posted',
		       posted_at = NOW(),
		       external_id = $3,
		       last_publish_error = NULL,
		       publish_claimed_at = NULL,
		       updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
	`, postID, userID, externalID)
	if err != nil {
		log.Printf("[Publisher] mark_posted_failed postId=%s userId=%s err=%v", postID, userID, err)
		return
	}
	if w.emit != nil {
		w.emit(userID, postID, "posted")
	}
}

func (w *Worker) markFailed(ctx context.Context, postID, userID, reason string) {
	_, err := w.db.ExecContext(ctx, `
		UPDATE public.posts
		   SET status = 'failed',
		       last_publish_error = $3,
		       publish_claimed_at = NULL,
		       updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
	`, postID, userID, reason)
	if err != nil {
		log.Printf("[Publisher] mark_failed_failed postId=%s userId=%s err=%v", postID, userID, err)
		return
	}
	if w.emit != nil {
		w.emit(userID, postID, "failed")
	}
}

// Start runs the periodic sweep until ctx is cancelled. Enable it from main
// behind an env gate.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log.Printf("[Publisher] worker started interval=%s providers=%d", interval, len(w.providers))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		limit := 25
		backoffs := []time.Duration{700 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}
		var n int
		var err error
		for attempt := 0; attempt < len(backoffs)+1; attempt++ {
			// Timebox each sweep attempt.
			sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			n, err = w.processDueOnce(sweepCtx, limit)
			cancel()
			if err == nil {
				break
			}
			if attempt < len(backoffs) {
				log.Printf("[Publisher] sweep error attempt=%d/%d err=%v", attempt+1, len(backoffs)+1, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffs[attempt]):
				}
				continue
			}
		}
		if err != nil {
			log.Printf("[Publisher] sweep error final err=%v", err)
			return
		}
		if n > 0 {
			log.Printf("[Publisher] processed=%d", n)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Publisher] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}
