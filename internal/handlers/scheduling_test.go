package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"

	"github.com/postpilot-app/postpilot/backend/internal/models"
)

// futureSlot returns a stable upcoming slot far enough out that the
// past-time guard never trips while the test runs.
func futureSlot(days, hour int) time.Time {
	base := time.Now().UTC().AddDate(0, 0, days)
	return time.Date(base.Year(), base.Month(), base.Day(), hour, 0, 0, 0, time.UTC)
}

func rescheduleBody(at time.Time, force bool) string {
	return fmt.Sprintf(`{"scheduledAt":%q,"force":%v}`, at.Format(time.RFC3339), force)
}

func TestReschedulePost_FreeSlot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	oldAt := futureSlot(3, 10)
	newAt := futureSlot(5, 10)

	mock.ExpectBegin()
	dragged := sqlmock.NewRows(postCols)
	addPostRow(dragged, "p1", "u1", "scheduled", oldAt)
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)FOR UPDATE`).
		WithArgs("p1", "u1").
		WillReturnRows(dragged)

	// Only the dragged post itself lives on the target day, so no conflict.
	schedule := sqlmock.NewRows(postCols)
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)scheduled_at >=`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(schedule)

	updated := sqlmock.NewRows(postCols)
	addPostRow(updated, "p1", "u1", "scheduled", newAt)
	mock.ExpectQuery(`UPDATE public\.posts(?s:.*)status = 'scheduled'`).
		WithArgs("p1", "u1", newAt).
		WillReturnRows(updated)
	mock.ExpectCommit()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/posts/p1/schedule/user/u1",
		bytes.NewBufferString(rescheduleBody(newAt, false)))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.ReschedulePostForUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestReschedulePost_OccupiedSlotReturns409(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	newAt := futureSlot(5, 10)

	mock.ExpectBegin()
	dragged := sqlmock.NewRows(postCols)
	addPostRow(dragged, "p1", "u1", "scheduled", futureSlot(3, 10))
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)FOR UPDATE`).
		WithArgs("p1", "u1").
		WillReturnRows(dragged)

	schedule := sqlmock.NewRows(postCols)
	addPostRow(schedule, "q1", "u1", "scheduled", futureSlot(5, 14))
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)scheduled_at >=`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(schedule)
	mock.ExpectRollback()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/posts/p1/schedule/user/u1",
		bytes.NewBufferString(rescheduleBody(newAt, false)))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.ReschedulePostForUser(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out struct {
		Error     string        `json:"error"`
		Occupants []models.Post `json:"occupants"`
		Choices   []string      `json:"choices"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out.Error != "slot_occupied" || len(out.Occupants) != 1 || out.Occupants[0].ID != "q1" {
		t.Fatalf("unexpected conflict payload %+v", out)
	}
	if len(out.Choices) != 3 {
		t.Fatalf("expected three resolution choices got %v", out.Choices)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestReschedulePost_ForceSchedulesAnyway(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	newAt := futureSlot(5, 10)

	mock.ExpectBegin()
	dragged := sqlmock.NewRows(postCols)
	addPostRow(dragged, "p1", "u1", "scheduled", futureSlot(3, 10))
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)FOR UPDATE`).
		WithArgs("p1", "u1").
		WillReturnRows(dragged)

	schedule := sqlmock.NewRows(postCols)
	addPostRow(schedule, "q1", "u1", "scheduled", futureSlot(5, 14))
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)scheduled_at >=`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(schedule)

	updated := sqlmock.NewRows(postCols)
	addPostRow(updated, "p1", "u1", "scheduled", newAt)
	mock.ExpectQuery(`UPDATE public\.posts(?s:.*)status = 'scheduled'`).
		WithArgs("p1", "u1", newAt).
		WillReturnRows(updated)
	mock.ExpectCommit()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/posts/p1/schedule/user/u1",
		bytes.NewBufferString(rescheduleBody(newAt, true)))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.ReschedulePostForUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestReschedulePost_PastTimeRejected(t *testing.T) {
	h := New(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/posts/p1/schedule/user/u1",
		bytes.NewBufferString(`{"scheduledAt":"2020-01-01T09:00:00Z"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.ReschedulePostForUser(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReschedulePost_AlreadyPostedRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	mock.ExpectBegin()
	dragged := sqlmock.NewRows(postCols)
	addPostRow(dragged, "p1", "u1", "posted", nil)
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)FOR UPDATE`).
		WithArgs("p1", "u1").
		WillReturnRows(dragged)
	mock.ExpectRollback()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/posts/p1/schedule/user/u1",
		bytes.NewBufferString(rescheduleBody(futureSlot(5, 10), false)))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.ReschedulePostForUser(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSwapPostSchedules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	atA := futureSlot(3, 9)
	atB := futureSlot(6, 15)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT a\.scheduled_at, b\.scheduled_at`).
		WithArgs("p1", "p2", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(atA, atB))

	first := sqlmock.NewRows(postCols)
	addPostRow(first, "p1", "u1", "scheduled", atB)
	mock.ExpectQuery(`UPDATE public\.posts(?s:.*)status = 'scheduled'`).
		WithArgs("p1", "u1", atB).
		WillReturnRows(first)

	second := sqlmock.NewRows(postCols)
	addPostRow(second, "p2", "u1", "scheduled", atA)
	mock.ExpectQuery(`UPDATE public\.posts(?s:.*)status = 'scheduled'`).
		WithArgs("p2", "u1", atA).
		WillReturnRows(second)
	mock.ExpectCommit()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/swap/user/u1",
		bytes.NewBufferString(`{"postId":"p1","targetPostId":"p2"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})

	h.SwapPostSchedulesForUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out map[string]models.Post
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out["post"].ScheduledAt == nil || !out["post"].ScheduledAt.Equal(atB) {
		t.Fatalf("expected post to take the target's slot, got %+v", out["post"].ScheduledAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSwapPostSchedules_SamePost(t *testing.T) {
	h := New(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/swap/user/u1",
		bytesBuffer(`{"postId":"p1","targetPostId":"p1"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})

	h.SwapPostSchedulesForUser(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestSwapPostSchedules_UnscheduledTarget(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT a\.scheduled_at, b\.scheduled_at`).
		WithArgs("p1", "p2", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(futureSlot(3, 9), nil))
	mock.ExpectRollback()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/swap/user/u1",
		bytesBuffer(`{"postId":"p1","targetPostId":"p2"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})

	h.SwapPostSchedulesForUser(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestPushAndSchedule_DisplacesOccupant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	target := futureSlot(5, 10)
	occupantAt := futureSlot(5, 14)

	mock.ExpectBegin()
	dragged := sqlmock.NewRows(postCols)
	addPostRow(dragged, "p1", "u1", "draft", nil)
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)FOR UPDATE`).
		WithArgs("p1", "u1").
		WillReturnRows(dragged)

	schedule := sqlmock.NewRows(postCols)
	addPostRow(schedule, "q1", "u1", "scheduled", occupantAt)
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)scheduled_at >=`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(schedule)

	// Occupant moves one day forward at its own time, then the dragged post
	// takes the freed slot.
	moved := sqlmock.NewRows(postCols)
	addPostRow(moved, "q1", "u1", "scheduled", occupantAt.AddDate(0, 0, 1))
	mock.ExpectQuery(`UPDATE public\.posts(?s:.*)status = 'scheduled'`).
		WithArgs("q1", "u1", occupantAt.AddDate(0, 0, 1)).
		WillReturnRows(moved)

	landed := sqlmock.NewRows(postCols)
	addPostRow(landed, "p1", "u1", "scheduled", target)
	mock.ExpectQuery(`UPDATE public\.posts(?s:.*)status = 'scheduled'`).
		WithArgs("p1", "u1", target).
		WillReturnRows(landed)
	mock.ExpectCommit()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/p1/push/user/u1",
		bytesBuffer(fmt.Sprintf(`{"scheduledAt":%q}`, target.Format(time.RFC3339))))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.PushAndSchedulePostForUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out struct {
		Post  models.Post `json:"post"`
		Moves []struct {
			PostID string `json:"postId"`
		} `json:"moves"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if len(out.Moves) != 1 || out.Moves[0].PostID != "q1" {
		t.Fatalf("expected one displaced post got %+v", out.Moves)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestPushAndSchedule_FreeSlotSchedulesDirectly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	target := futureSlot(5, 10)

	mock.ExpectBegin()
	dragged := sqlmock.NewRows(postCols)
	addPostRow(dragged, "p1", "u1", "draft", nil)
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)FOR UPDATE`).
		WithArgs("p1", "u1").
		WillReturnRows(dragged)

	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)scheduled_at >=`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(postCols))

	landed := sqlmock.NewRows(postCols)
	addPostRow(landed, "p1", "u1", "scheduled", target)
	mock.ExpectQuery(`UPDATE public\.posts(?s:.*)status = 'scheduled'`).
		WithArgs("p1", "u1", target).
		WillReturnRows(landed)
	mock.ExpectCommit()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/p1/push/user/u1",
		bytesBuffer(fmt.Sprintf(`{"scheduledAt":%q}`, target.Format(time.RFC3339))))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.PushAndSchedulePostForUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestCalendarMonthForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	rows := sqlmock.NewRows(postCols)
	addPostRow(rows, "p1", "u1", "scheduled", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`SELECT id, user_id, content`).
		WithArgs("u1",
			time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(rows)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/calendar/user/u1?month=2024-01", nil)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})

	h.CalendarMonthForUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out calendarMonthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out.StartDate != "2023-12-31" || out.EndDate != "2024-02-03" {
		t.Fatalf("unexpected grid range %s..%s", out.StartDate, out.EndDate)
	}
	if len(out.Days) != 35 {
		t.Fatalf("expected 35 day buckets got %d", len(out.Days))
	}
	var jan15 *calendarDay
	for i := range out.Days {
		if out.Days[i].Date == "2024-01-15" {
			jan15 = &out.Days[i]
		}
	}
	if jan15 == nil || len(jan15.Posts) != 1 || jan15.Posts[0].ID != "p1" {
		t.Fatalf("expected p1 bucketed on 2024-01-15, got %+v", jan15)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestCalendarMonthForUser_BadMonth(t *testing.T) {
	h := New(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/calendar/user/u1?month=January", nil)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})

	h.CalendarMonthForUser(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func bytesBuffer(s string) *bytes.Buffer {
	return bytes.NewBufferString(s)
}

func TestPushAndSchedule_PastTimeRejected(t *testing.T) {
	h := New(nil)
	past := time.Now().UTC().Add(-2 * time.Hour)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/p1/push/user/u1",
		bytes.NewBufferString(fmt.Sprintf(`{"scheduledAt":%q}`, past.Format(time.RFC3339))))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.PushAndSchedulePostForUser(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestPushAndSchedule_AlreadyPostedRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	mock.ExpectBegin()
	dragged := sqlmock.NewRows(postCols)
	addPostRow(dragged, "p1", "u1", "posted", nil)
	mock.ExpectQuery(`SELECT id, user_id, content(?s:.*)FOR UPDATE`).
		WithArgs("p1", "u1").
		WillReturnRows(dragged)
	mock.ExpectRollback()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/p1/push/user/u1",
		bytes.NewBufferString(fmt.Sprintf(`{"scheduledAt":%q}`, futureSlot(5, 10).Format(time.RFC3339))))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1", "postId": "p1"})

	h.PushAndSchedulePostForUser(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSwapPostSchedules_PastSlotRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	atA := time.Now().UTC().Add(-3 * time.Hour)
	atB := futureSlot(6, 15)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT a\.scheduled_at, b\.scheduled_at`).
		WithArgs("p1", "p2", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(atA, atB))
	mock.ExpectRollback()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/swap/user/u1",
		bytes.NewBufferString(`{"postId":"p1","targetPostId":"p2"}`))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})

	h.SwapPostSchedulesForUser(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
