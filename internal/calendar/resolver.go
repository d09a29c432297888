package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/postpilot-app/postpilot/backend/internal/models"
)

// PostStore persists schedule changes decided by the resolver. Implementations
// are expected to make SwapSchedules atomic: either both posts change or
// neither does.
type PostStore interface {
	// UpdateSchedule moves a post to the given slot, marking it scheduled.
	UpdateSchedule(ctx context.Context, postID string, at time.Time) (models.Post, error)
	// SwapSchedules exchanges the two posts' scheduled times as a unit.
	SwapSchedules(ctx context.Context, postIDA, postIDB string) (models.Post, models.Post, error)
}

// Phase tracks a single scheduling attempt through the resolver.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNoConflict
	PhaseConflictDetected
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNoConflict:
		return "no_conflict"
	case PhaseConflictDetected:
		return "conflict_detected"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// MaxPushDays caps the forward search when pushing occupants to later days.
// A schedule with a post on every day for a year is treated as pathological.
const MaxPushDays = 366

var (
	// ErrPushLimit is reported when a push cascade cannot find a free day
	// within MaxPushDays.
	ErrPushLimit = errors.New("push chain exceeded the forward search limit")
	// ErrNoSwapTarget is reported when swap is requested without exactly one
	// occupant at the destination slot.
	ErrNoSwapTarget = errors.New("swap requires exactly one target post")
	// ErrSlotNotChecked is reported when a commit is attempted before the
	// destination slot was inspected.
	ErrSlotNotChecked = errors.New("destination slot has not been checked")
	// ErrNotConflicted is reported when a conflict resolution is requested
	// for a slot that has no occupants.
	ErrNotConflicted = errors.New("destination slot has no occupants")
)

// Move is one schedule change produced by a push cascade.
type Move struct {
	PostID string    `json:"postId"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// Occupants returns the scheduled posts that already hold the calendar day of
// at, excluding excludeID (the post being moved). Input order is preserved.
func Occupants(at time.Time, posts []models.Post, excludeID string, loc *time.Location) []models.Post {
	occ := []models.Post{}
	for _, p := range PostsOn(at, posts, loc) {
		if p.Status == models.PostStatusScheduled && p.ID != excludeID {
			occ = append(occ, p)
		}
	}
	return occ
}

// PlanPush computes the chain of moves needed to free the day of at: every
// scheduled occupant of that day moves forward one day at its own
// time-of-day, and any occupant of a day the chain lands on is displaced in
// turn, until a day with no occupant. excludeID (the dragged post) never
// moves. The cascade is bounded by MaxPushDays; exceeding it returns
// ErrPushLimit and no moves.
func PlanPush(at time.Time, posts []models.Post, excludeID string, loc *time.Location) ([]Move, error) {
	byDay := make(map[string][]models.Post)
	for _, p := range posts {
		if p.Status != models.PostStatusScheduled || p.ID == excludeID || p.ScheduledAt == nil {
			continue
		}
		k := p.ScheduledAt.In(loc).Format("2006-01-02")
		byDay[k] = append(byDay[k], p)
	}

	moves := []Move{}
	day := DayStart(at, loc)
	for i := 0; ; i++ {
		if i >= MaxPushDays {
			return nil, ErrPushLimit
		}
		displaced := byDay[day.Format("2006-01-02")]
		if len(displaced) == 0 {
			return moves, nil
		}
		for _, p := range displaced {
			from := *p.ScheduledAt
			moves = append(moves, Move{PostID: p.ID, From: from, To: from.AddDate(0, 0, 1)})
		}
		day = day.AddDate(0, 0, 1)
	}
}

// Resolver is the state machine for one scheduling attempt. CheckSlot moves
// it from idle to no-conflict or conflict-detected; one of Schedule, Swap or
// Push then persists the outcome through the store. A failed persistence call
// leaves the phase unchanged so the caller can re-prompt or retry.
type Resolver struct {
	store PostStore
	loc   *time.Location

	phase     Phase
	dragged   models.Post
	at        time.Time
	occupants []models.Post
}

func NewResolver(store PostStore, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{store: store, loc: loc, phase: PhaseIdle}
}

func (r *Resolver) Phase() Phase { return r.phase }

// Occupants returns the posts found at the destination slot by the last
// CheckSlot call.
func (r *Resolver) Occupants() []models.Post { return r.occupants }

// Reset returns the resolver to idle, abandoning the current attempt.
func (r *Resolver) Reset() {
	r.phase = PhaseIdle
	r.dragged = models.Post{}
	r.at = time.Time{}
	r.occupants = nil
}

// CheckSlot inspects the destination slot for the dragged post and records
// the scheduled posts already occupying that calendar day.
func (r *Resolver) CheckSlot(dragged models.Post, at time.Time, posts []models.Post) []models.Post {
	r.dragged = dragged
	r.at = at
	r.occupants = Occupants(at, posts, dragged.ID, r.loc)
	if len(r.occupants) == 0 {
		r.phase = PhaseNoConflict
	} else {
		r.phase = PhaseConflictDetected
	}
	return r.occupants
}

// Schedule persists the dragged post at the destination slot without moving
// any occupant. It is the direct path when the slot is free and the
// "schedule anyway" choice when it is not.
func (r *Resolver) Schedule(ctx context.Context) (models.Post, error) {
	if r.phase != PhaseNoConflict && r.phase != PhaseConflictDetected {
		return models.Post{}, ErrSlotNotChecked
	}
	p, err := r.store.UpdateSchedule(ctx, r.dragged.ID, r.at)
	if err != nil {
		return models.Post{}, fmt.Errorf("persist schedule for %s: %w", r.dragged.ID, err)
	}
	r.phase = PhaseResolved
	return p, nil
}

// Swap exchanges scheduled times between the dragged post and the single
// occupant of the destination slot. Only defined when exactly one occupant
// was identified.
func (r *Resolver) Swap(ctx context.Context) (models.Post, models.Post, error) {
	if r.phase != PhaseConflictDetected {
		if r.phase == PhaseNoConflict {
			return models.Post{}, models.Post{}, ErrNotConflicted
		}
		return models.Post{}, models.Post{}, ErrSlotNotChecked
	}
	if len(r.occupants) != 1 {
		return models.Post{}, models.Post{}, ErrNoSwapTarget
	}
	a, b, err := r.store.SwapSchedules(ctx, r.dragged.ID, r.occupants[0].ID)
	if err != nil {
		return models.Post{}, models.Post{}, fmt.Errorf("persist swap %s<->%s: %w", r.dragged.ID, r.occupants[0].ID, err)
	}
	r.phase = PhaseResolved
	return a, b, nil
}

// Push moves every occupant of the destination day (and any transitively
// displaced post) forward by one day, then schedules the dragged post into
// the freed slot. posts must cover the schedule far enough forward for the
// cascade; displaced posts are written farthest-first so each day stays
// single-occupant while the writes land.
func (r *Resolver) Push(ctx context.Context, posts []models.Post) ([]Move, models.Post, error) {
	if r.phase != PhaseConflictDetected {
		if r.phase == PhaseNoConflict {
			return nil, models.Post{}, ErrNotConflicted
		}
		return nil, models.Post{}, ErrSlotNotChecked
	}
	moves, err := PlanPush(r.at, posts, r.dragged.ID, r.loc)
	if err != nil {
		return nil, models.Post{}, err
	}
	for i := len(moves) - 1; i >= 0; i-- {
		if _, err := r.store.UpdateSchedule(ctx, moves[i].PostID, moves[i].To); err != nil {
			return nil, models.Post{}, fmt.Errorf("push %s: %w", moves[i].PostID, err)
		}
	}
	p, err := r.store.UpdateSchedule(ctx, r.dragged.ID, r.at)
	if err != nil {
		return nil, models.Post{}, fmt.Errorf("persist schedule for %s: %w", r.dragged.ID, err)
	}
	r.phase = PhaseResolved
	return moves, p, nil
}
