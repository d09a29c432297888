package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/postpilot-app/postpilot/backend/internal/calendar"
	"github.com/postpilot-app/postpilot/backend/internal/models"
)

type dailyScheduleRequest struct {
	// Time is the local wall-clock delivery time, "HH:MM".
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
}

func (req dailyScheduleRequest) validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Time, validation.Required, validation.By(func(v any) error {
			_, err := calendar.BuildCron(v.(string))
			return err
		})),
		validation.Field(&req.Timezone, validation.Required, validation.By(func(v any) error {
			_, err := time.LoadLocation(v.(string))
			return err
		})),
	)
}

type dailyScheduleResponse struct {
	UserID    string    `json:"user_id"`
	Time      string    `json:"time"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDailyScheduleResponse(s models.DailySuggestionSchedule) (dailyScheduleResponse, error) {
	hour, minute, err := calendar.ParseCron(s.CronExpression)
	if err != nil {
		return dailyScheduleResponse{}, err
	}
	return dailyScheduleResponse{
		UserID:    s.UserID,
		Time:      hour + ":" + minute,
		Timezone:  s.Timezone,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}

// GetDailySuggestionSchedule returns the user's daily idea-delivery time, or
// 404 when none is configured.
func (h *Handler) GetDailySuggestionSchedule(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	var s models.DailySuggestionSchedule
	err := h.db.QueryRow(`
		SELECT user_id, cron_expression, timezone, created_at, updated_at
		  FROM public.daily_suggestion_schedules
		 WHERE user_id = $1
	`, userID).Scan(&s.UserID, &s.CronExpression, &s.Timezone, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "no schedule configured")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp, err := toDailyScheduleResponse(s)
	if err != nil {
		log.Printf("[DailySchedule] bad_stored_cron userId=%s cron=%q err=%v", userID, s.CronExpression, err)
		writeError(w, http.StatusInternalServerError, "stored schedule is corrupt")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpsertDailySuggestionSchedule creates or replaces the user's delivery time.
// The HH:MM input is stored as a cron expression so the suggestion runner can
// consume it directly.
func (h *Handler) UpsertDailySuggestionSchedule(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	var req dailyScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Time = strings.TrimSpace(req.Time)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	expr, err := calendar.BuildCron(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var s models.DailySuggestionSchedule
	err = h.db.QueryRow(`
		INSERT INTO public.daily_suggestion_schedules (user_id, cron_expression, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		   SET cron_expression = EXCLUDED.cron_expression,
		       timezone = EXCLUDED.timezone,
		       updated_at = NOW()
		RETURNING user_id, cron_expression, timezone, created_at, updated_at
	`, userID, expr, req.Timezone).Scan(&s.UserID, &s.CronExpression, &s.Timezone, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[DailySchedule] upsert userId=%s cron=%q tz=%s", userID, expr, req.Timezone)
	h.reloadSchedules()
	h.emitEvent(userID, realtimeEvent{Type: "schedule.updated"})

	resp, err := toDailyScheduleResponse(s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteDailySuggestionSchedule removes the user's delivery time.
func (h *Handler) DeleteDailySuggestionSchedule(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	res, err := h.db.Exec(`DELETE FROM public.daily_suggestion_schedules WHERE user_id = $1`, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "no schedule configured")
		return
	}

	log.Printf("[DailySchedule] delete userId=%s", userID)
	h.reloadSchedules()
	h.emitEvent(userID, realtimeEvent{Type: "schedule.updated"})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reloadSchedules() {
	if h == nil || h.schedules == nil {
		return
	}
	if err := h.schedules.Reload(); err != nil {
		log.Printf("[DailySchedule] reload_failed err=%v", err)
	}
}
