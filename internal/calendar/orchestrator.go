package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/postpilot-app/postpilot/backend/internal/models"
)

// Resolution names the user's choice when a destination slot is occupied.
type Resolution string

const (
	ResolutionScheduleAnyway Resolution = "anyway"
	ResolutionSwap           Resolution = "swap"
	ResolutionPush           Resolution = "push"
)

// DragPhase tracks the orchestrator through one drag gesture.
type DragPhase int

const (
	DragIdle DragPhase = iota
	DragActive
	DragConflict
	DragPersisting
)

var (
	ErrNotDraggable  = errors.New("post cannot be moved")
	ErrPastDate      = errors.New("destination day is in the past")
	ErrBusy          = errors.New("a scheduling action is already in flight")
	ErrNoActiveDrag  = errors.New("no drag in progress")
	ErrNoConflict    = errors.New("no conflict to resolve")
	ErrUnknownPost   = errors.New("unknown post")
	ErrStaleResponse = errors.New("response belongs to a dismissed attempt")
	// ErrSwapUnscheduled is reported when swap is chosen for a dragged post
	// that has no scheduled time to trade.
	ErrSwapUnscheduled = errors.New("swap requires the dragged post to have a scheduled time")
)

// defaultSlotHour is the local hour given to a post dropped on a bare date
// when it has no previous time-of-day to carry over.
const defaultSlotHour = 9

// PendingAction is an optimistic schedule change the host must persist. The
// orchestrator has already applied Moves to its local post list; the host
// reports the server outcome through Complete. A PendingAction created before
// Dismiss is ignored when it completes.
type PendingAction struct {
	seq    uint64
	Kind   Resolution // empty for the direct no-conflict path
	Moves  []Move     // dragged post's move is always last
	before []models.Post
}

// DropResult is the outcome of dropping a post on a calendar day.
type DropResult struct {
	Conflict  bool          `json:"conflict"`
	Occupants []models.Post `json:"occupants,omitempty"`
	// Pending is set on the no-conflict path: the move was applied
	// optimistically and must be persisted by the host.
	Pending *PendingAction `json:"-"`
}

// Orchestrator coordinates drag/drop scheduling over the visible month. It
// owns the in-memory post list the UI renders, applies moves optimistically,
// and reconciles or rolls back when the host reports the persistence outcome.
// All methods run on the host's event loop; the orchestrator is not safe for
// concurrent use.
type Orchestrator struct {
	loc *time.Location
	now func() time.Time

	phase   DragPhase
	seq     uint64
	dragged models.Post
	slot    time.Time
	posts   []models.Post
	pending *PendingAction
}

func NewOrchestrator(loc *time.Location, now func() time.Time) *Orchestrator {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{loc: loc, now: now, phase: DragIdle}
}

func (o *Orchestrator) Phase() DragPhase { return o.phase }

// SetPosts replaces the orchestrator's view of the visible posts.
func (o *Orchestrator) SetPosts(posts []models.Post) {
	o.posts = append([]models.Post(nil), posts...)
}

// Posts returns the current (possibly optimistic) post list.
func (o *Orchestrator) Posts() []models.Post {
	return append([]models.Post(nil), o.posts...)
}

// PostsFor returns the posts bucketed on the given calendar day.
func (o *Orchestrator) PostsFor(date time.Time) []models.Post {
	return PostsOn(date, o.posts, o.loc)
}

// BeginDrag starts a drag gesture for the given post. Posts that are posted
// or whose scheduled slot already passed cannot be dragged.
func (o *Orchestrator) BeginDrag(postID string) error {
	if o.phase != DragIdle {
		return ErrBusy
	}
	p, ok := o.find(postID)
	if !ok {
		return ErrUnknownPost
	}
	if !IsDraggable(p, o.now()) {
		return ErrNotDraggable
	}
	o.dragged = p
	o.phase = DragActive
	return nil
}

// CancelDrag abandons an active drag without touching any state.
func (o *Orchestrator) CancelDrag() {
	if o.phase == DragActive {
		o.phase = DragIdle
		o.dragged = models.Post{}
	}
}

// Drop releases the dragged post onto a destination. When at carries a
// clock component it is used as the slot; a bare date keeps the post's
// previous time-of-day (or a default morning slot). Drops onto past days are
// rejected as no-ops. With no occupant the move is applied optimistically and
// returned as a PendingAction; otherwise the conflict dialog state is entered
// and the caller picks a Resolution via Choose.
func (o *Orchestrator) Drop(at time.Time) (DropResult, error) {
	if o.phase != DragActive {
		return DropResult{}, ErrNoActiveDrag
	}
	if DayStart(at, o.loc).Before(DayStart(o.now(), o.loc)) {
		o.phase = DragIdle
		o.dragged = models.Post{}
		return DropResult{}, ErrPastDate
	}
	o.slot = o.slotFor(at)
	occ := Occupants(o.slot, o.posts, o.dragged.ID, o.loc)
	if len(occ) > 0 {
		o.phase = DragConflict
		return DropResult{Conflict: true, Occupants: occ}, nil
	}
	pending := o.begin("", []Move{o.draggedMove()})
	return DropResult{Pending: pending}, nil
}

// Choose resolves a detected conflict with the given strategy, applying the
// resulting moves optimistically and returning them for persistence.
func (o *Orchestrator) Choose(res Resolution) (*PendingAction, error) {
	if o.phase == DragPersisting {
		return nil, ErrBusy
	}
	if o.phase != DragConflict {
		return nil, ErrNoConflict
	}
	occ := Occupants(o.slot, o.posts, o.dragged.ID, o.loc)
	switch res {
	case ResolutionScheduleAnyway:
		return o.begin(res, []Move{o.draggedMove()}), nil
	case ResolutionSwap:
		if len(occ) != 1 {
			return nil, ErrNoSwapTarget
		}
		if o.dragged.ScheduledAt == nil {
			return nil, ErrSwapUnscheduled
		}
		target := occ[0]
		moves := []Move{
			{PostID: target.ID, From: *target.ScheduledAt, To: *o.dragged.ScheduledAt},
			{PostID: o.dragged.ID, From: *o.dragged.ScheduledAt, To: *target.ScheduledAt},
		}
		return o.begin(res, moves), nil
	case ResolutionPush:
		moves, err := PlanPush(o.slot, o.posts, o.dragged.ID, o.loc)
		if err != nil {
			return nil, err
		}
		moves = append(moves, o.draggedMove())
		return o.begin(res, moves), nil
	default:
		return nil, fmt.Errorf("unknown resolution %q", res)
	}
}

// Complete reports the persistence outcome for a pending action. Responses
// for attempts that were dismissed in the meantime are ignored and reported
// as ErrStaleResponse. On failure the optimistic moves are rolled back and,
// for conflict resolutions, the dialog state is restored; fresh carries the
// server's authoritative posts (from a refetch on error, or the write
// responses on success) and replaces the matching local entries.
func (o *Orchestrator) Complete(p *PendingAction, fresh []models.Post, persistErr error) error {
	if p == nil {
		return nil
	}
	if p.seq != o.seq {
		return ErrStaleResponse
	}
	o.pending = nil
	if persistErr != nil {
		o.rollback(p)
		o.reconcile(fresh)
		if p.Kind == "" {
			o.phase = DragIdle
			o.dragged = models.Post{}
		} else {
			o.phase = DragConflict
		}
		return fmt.Errorf("persist %s: %w", actionName(p.Kind), persistErr)
	}
	o.reconcile(fresh)
	o.phase = DragIdle
	o.dragged = models.Post{}
	return nil
}

// Dismiss closes the scheduling dialog and abandons the attempt. Any
// optimistic moves are rolled back and an in-flight response, when it
// arrives, is ignored instead of being applied to dismissed state.
func (o *Orchestrator) Dismiss() {
	if o.pending != nil {
		o.rollback(o.pending)
		o.pending = nil
	}
	o.seq++
	o.phase = DragIdle
	o.dragged = models.Post{}
}

// VisibleCards applies the compact rendering policy for one day cell: one
// card on narrow viewports, two otherwise, with the count of hidden posts.
func VisibleCards(posts []models.Post, narrow bool) ([]models.Post, int) {
	limit := 2
	if narrow {
		limit = 1
	}
	if len(posts) <= limit {
		return posts, 0
	}
	return posts[:limit], len(posts) - limit
}

func (o *Orchestrator) find(postID string) (models.Post, bool) {
	for _, p := range o.posts {
		if p.ID == postID {
			return p, true
		}
	}
	return models.Post{}, false
}

// slotFor picks the destination timestamp for the dragged post: an explicit
// clock on at wins, then the post's previous time-of-day, then the default
// morning slot.
func (o *Orchestrator) slotFor(at time.Time) time.Time {
	at = at.In(o.loc)
	if at.Hour() != 0 || at.Minute() != 0 || at.Second() != 0 {
		return at
	}
	day := DayStart(at, o.loc)
	if prev := o.dragged.ScheduledAt; prev != nil {
		pl := prev.In(o.loc)
		return day.Add(time.Duration(pl.Hour())*time.Hour + time.Duration(pl.Minute())*time.Minute)
	}
	return day.Add(defaultSlotHour * time.Hour)
}

func (o *Orchestrator) draggedMove() Move {
	from := time.Time{}
	if o.dragged.ScheduledAt != nil {
		from = *o.dragged.ScheduledAt
	}
	return Move{PostID: o.dragged.ID, From: from, To: o.slot}
}

// begin snapshots the affected posts, applies moves optimistically and
// transitions to the persisting phase.
func (o *Orchestrator) begin(kind Resolution, moves []Move) *PendingAction {
	p := &PendingAction{seq: o.seq, Kind: kind, Moves: moves}
	for _, mv := range moves {
		if orig, ok := o.find(mv.PostID); ok {
			p.before = append(p.before, orig)
		}
	}
	for _, mv := range moves {
		o.apply(mv)
	}
	o.pending = p
	o.phase = DragPersisting
	return p
}

func (o *Orchestrator) apply(mv Move) {
	for i := range o.posts {
		if o.posts[i].ID == mv.PostID {
			to := mv.To
			o.posts[i].ScheduledAt = &to
			o.posts[i].Status = models.PostStatusScheduled
			return
		}
	}
}

func (o *Orchestrator) rollback(p *PendingAction) {
	for _, orig := range p.before {
		for i := range o.posts {
			if o.posts[i].ID == orig.ID {
				o.posts[i] = orig
				break
			}
		}
	}
}

func (o *Orchestrator) reconcile(fresh []models.Post) {
	for _, f := range fresh {
		for i := range o.posts {
			if o.posts[i].ID == f.ID {
				o.posts[i] = f
				break
			}
		}
	}
}

func actionName(r Resolution) string {
	if r == "" {
		return "schedule"
	}
	return string(r)
}
