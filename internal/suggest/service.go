package suggest

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec prefixes a stored daily cron expression with the user's zone so the
// runner fires at their local wall-clock time.
func Spec(timezone, expr string) string {
	return "CRON_TZ=" + timezone + " " + expr
}

// Runner keeps one cron entry per user with a daily-suggestion schedule.
// Reload replaces the whole entry set from the database; handlers call it
// after any schedule change.
type Runner struct {
	db  *sql.DB
	gen *Generator
	c   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewRunner(db *sql.DB, gen *Generator) *Runner {
	return &Runner{
		db:      db,
		gen:     gen,
		c:       cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads the current schedules and begins firing. The runner stops when
// ctx is cancelled, letting an in-flight generation finish.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.Reload(); err != nil {
		return err
	}
	r.c.Start()
	log.Printf("[Suggest] runner started entries=%d", r.Len())
	go func() {
		<-ctx.Done()
		<-r.c.Stop().Done()
		log.Printf("[Suggest] runner stopped err=%v", ctx.Err())
	}()
	return nil
}

// Reload reads every user schedule and rebuilds the cron entry set. A row
// with an unparseable expression is skipped and logged, never fatal.
func (r *Runner) Reload() error {
	rows, err := r.db.Query(`
		SELECT user_id, cron_expression, timezone
		  FROM public.daily_suggestion_schedules
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type sched struct{ userID, expr, tz string }
	scheds := []sched{}
	for rows.Next() {
		var s sched
		if err := rows.Scan(&s.userID, &s.expr, &s.tz); err != nil {
			return err
		}
		scheds = append(scheds, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, id := range r.entries {
		r.c.Remove(id)
		delete(r.entries, userID)
	}
	for _, s := range scheds {
		userID := s.userID
		id, err := r.c.AddFunc(Spec(s.tz, s.expr), func() { r.runFor(userID) })
		if err != nil {
			log.Printf("[Suggest] bad_schedule userId=%s cron=%q tz=%s err=%v", s.userID, s.expr, s.tz, err)
			continue
		}
		r.entries[userID] = id
	}
	log.Printf("[Suggest] schedules reloaded entries=%d", len(r.entries))
	return nil
}

// Len reports the number of active cron entries.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Runner) runFor(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	posts, err := r.gen.GenerateForUser(ctx, userID)
	if err != nil {
		log.Printf("[Suggest] run_failed userId=%s err=%v", userID, err)
		return
	}
	log.Printf("[Suggest] run ok userId=%s stored=%d", userID, len(posts))
}
