package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/postpilot-app/postpilot/backend/internal/calendar"
	"github.com/postpilot-app/postpilot/backend/internal/models"
)

type rescheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt"`
	// Force persists into an occupied slot (the "schedule anyway" choice).
	Force bool `json:"force"`
}

type swapRequest struct {
	PostID       string `json:"postId"`
	TargetPostID string `json:"targetPostId"`
}

type pushRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt"`
}

// txPostStore adapts a transaction to the resolver's PostStore so a push
// cascade or swap either lands completely or not at all.
type txPostStore struct {
	tx     *sql.Tx
	userID string
}

func (s txPostStore) UpdateSchedule(ctx context.Context, postID string, at time.Time) (models.Post, error) {
	query := `
		UPDATE public.posts
		   SET status = 'scheduled', scheduled_at = $3, posted_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
		RETURNING ` + postColumns
	p, err := scanPost(s.tx.QueryRowContext(ctx, query, postID, s.userID, at))
	if err == sql.ErrNoRows {
		return models.Post{}, fmt.Errorf("post %s not found", postID)
	}
	return p, err
}

func (s txPostStore) SwapSchedules(ctx context.Context, postIDA, postIDB string) (models.Post, models.Post, error) {
	var atA, atB *time.Time
	err := s.tx.QueryRowContext(ctx, `
		SELECT a.scheduled_at, b.scheduled_at
		  FROM public.posts a, public.posts b
		 WHERE a.id = $1 AND b.id = $2 AND a.user_id = $3 AND b.user_id = $3
		   AND a.status = 'scheduled' AND b.status = 'scheduled'
		   FOR UPDATE
	`, postIDA, postIDB, s.userID).Scan(&atA, &atB)
	if err == sql.ErrNoRows {
		return models.Post{}, models.Post{}, fmt.Errorf("both posts must exist and be scheduled")
	}
	if err != nil {
		return models.Post{}, models.Post{}, err
	}
	if atA == nil || atB == nil {
		return models.Post{}, models.Post{}, fmt.Errorf("both posts must have a scheduled time")
	}
	if now := time.Now(); atA.Before(now) || atB.Before(now) {
		return models.Post{}, models.Post{}, fmt.Errorf("both posts must still be movable")
	}
	a, err := s.UpdateSchedule(ctx, postIDA, *atB)
	if err != nil {
		return models.Post{}, models.Post{}, err
	}
	b, err := s.UpdateSchedule(ctx, postIDB, *atA)
	if err != nil {
		return models.Post{}, models.Post{}, err
	}
	return a, b, nil
}

// loadPostTx fetches one post inside the transaction, locking the row.
func loadPostTx(ctx context.Context, tx *sql.Tx, userID, postID string) (models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM public.posts WHERE id = $1 AND user_id = $2 FOR UPDATE`
	return scanPost(tx.QueryRowContext(ctx, query, postID, userID))
}

// loadScheduleTx fetches the user's scheduled posts from a day forward,
// locking them for the duration of the resolution.
func loadScheduleTx(ctx context.Context, tx *sql.Tx, userID string, from time.Time) ([]models.Post, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+postColumns+`
		  FROM public.posts
		 WHERE user_id = $1 AND status = 'scheduled' AND scheduled_at >= $2
		 ORDER BY scheduled_at ASC
		   FOR UPDATE
	`, userID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ReschedulePostForUser moves a post to a new slot. When the destination day
// already has a scheduled occupant the request is refused with 409 and the
// occupant list unless force is set, so the client can offer swap/push.
func (h *Handler) ReschedulePostForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	postID := pathVar(r, "postId")
	if userID == "" || postID == "" {
		writeError(w, http.StatusBadRequest, "userId and postId are required")
		return
	}
	loc, err := locationFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tz")
		return
	}

	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ScheduledAt == nil {
		writeError(w, http.StatusBadRequest, "scheduledAt is required")
		return
	}
	if req.ScheduledAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "scheduledAt must be in the future")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer func() { _ = tx.Rollback() }()

	dragged, err := loadPostTx(ctx, tx, userID, postID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !calendar.IsDraggable(dragged, time.Now()) {
		writeError(w, http.StatusUnprocessableEntity, "post can no longer be moved")
		return
	}

	day := calendar.DayStart(*req.ScheduledAt, loc)
	schedule, err := loadScheduleTx(ctx, tx, userID, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resolver := calendar.NewResolver(txPostStore{tx: tx, userID: userID}, loc)
	occupants := resolver.CheckSlot(dragged, *req.ScheduledAt, schedule)
	if resolver.Phase() == calendar.PhaseConflictDetected && !req.Force {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "slot_occupied",
			"occupants": occupants,
			"choices":   []string{"anyway", "swap", "push"},
		})
		return
	}

	out, err := resolver.Schedule(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.emitEvent(userID, realtimeEvent{Type: "post.updated", PostID: out.ID, Status: out.Status})
	writeJSON(w, http.StatusOK, out)
}

// SwapPostSchedulesForUser exchanges the scheduled slots of two posts as a
// single transaction; a failure on either write leaves both untouched.
func (h *Handler) SwapPostSchedulesForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	var req swapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.PostID = strings.TrimSpace(req.PostID)
	req.TargetPostID = strings.TrimSpace(req.TargetPostID)
	if req.PostID == "" || req.TargetPostID == "" || req.PostID == req.TargetPostID {
		writeError(w, http.StatusBadRequest, "postId and targetPostId must name two different posts")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := txPostStore{tx: tx, userID: userID}
	a, b, err := store.SwapSchedules(ctx, req.PostID, req.TargetPostID)
	if err != nil {
		log.Printf("[Scheduling] swap_failed userId=%s a=%s b=%s err=%v", userID, req.PostID, req.TargetPostID, err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.emitEvent(userID, realtimeEvent{Type: "post.updated", PostID: a.ID, Status: a.Status})
	h.emitEvent(userID, realtimeEvent{Type: "post.updated", PostID: b.ID, Status: b.Status})
	writeJSON(w, http.StatusOK, map[string]models.Post{"post": a, "target": b})
}

// PushAndSchedulePostForUser resolves an occupied slot by displacing its
// occupants forward day by day, then scheduling the post into the freed slot.
// The whole cascade runs in one transaction.
func (h *Handler) PushAndSchedulePostForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	postID := pathVar(r, "postId")
	if userID == "" || postID == "" {
		writeError(w, http.StatusBadRequest, "userId and postId are required")
		return
	}
	loc, err := locationFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tz")
		return
	}

	var req pushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ScheduledAt == nil {
		writeError(w, http.StatusBadRequest, "scheduledAt is required")
		return
	}
	if req.ScheduledAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "scheduledAt must be in the future")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer func() { _ = tx.Rollback() }()

	dragged, err := loadPostTx(ctx, tx, userID, postID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !calendar.IsDraggable(dragged, time.Now()) {
		writeError(w, http.StatusUnprocessableEntity, "post can no longer be moved")
		return
	}

	day := calendar.DayStart(*req.ScheduledAt, loc)
	schedule, err := loadScheduleTx(ctx, tx, userID, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resolver := calendar.NewResolver(txPostStore{tx: tx, userID: userID}, loc)
	resolver.CheckSlot(dragged, *req.ScheduledAt, schedule)

	var moves []calendar.Move
	var out models.Post
	if resolver.Phase() == calendar.PhaseNoConflict {
		out, err = resolver.Schedule(ctx)
	} else {
		moves, out, err = resolver.Push(ctx, schedule)
	}
	if errors.Is(err, calendar.ErrPushLimit) {
		writeError(w, http.StatusUnprocessableEntity, "push chain exceeded the forward search limit")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.emitEvent(userID, realtimeEvent{Type: "post.updated", PostID: out.ID, Status: out.Status})
	for _, mv := range moves {
		h.emitEvent(userID, realtimeEvent{Type: "post.updated", PostID: mv.PostID, Status: models.PostStatusScheduled})
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": out, "moves": moves})
}

type calendarDay struct {
	Date  string        `json:"date"`
	Posts []models.Post `json:"posts"`
}

type calendarMonthResponse struct {
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	Days      []calendarDay `json:"days"`
}

// CalendarMonthForUser returns the month grid (Sunday through Saturday rows)
// with the user's scheduled and posted entries bucketed per day.
func (h *Handler) CalendarMonthForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	loc, err := locationFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tz")
		return
	}

	month := strings.TrimSpace(r.URL.Query().Get("month"))
	anchor := time.Now().In(loc)
	if month != "" {
		anchor, err = time.ParseInLocation("2006-01", month, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
	}

	startDate, endDate := calendar.MonthRange(anchor, loc)
	start, _ := time.ParseInLocation("2006-01-02", startDate, loc)
	end, _ := time.ParseInLocation("2006-01-02", endDate, loc)
	endExcl := end.AddDate(0, 0, 1)

	rows, err := h.db.Query(`
		SELECT `+postColumns+`
		  FROM public.posts
		 WHERE user_id = $1
		   AND ((status = 'scheduled' AND scheduled_at >= $2 AND scheduled_at < $3)
		     OR (status = 'posted' AND posted_at >= $2 AND posted_at < $3))
		 ORDER BY COALESCE(scheduled_at, posted_at) ASC
	`, userID, start, endExcl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := calendarMonthResponse{StartDate: startDate, EndDate: endDate}
	for day := start; day.Before(endExcl); day = day.AddDate(0, 0, 1) {
		resp.Days = append(resp.Days, calendarDay{
			Date:  day.Format("2006-01-02"),
			Posts: calendar.PostsOn(day, posts, loc),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
