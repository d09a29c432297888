package handlers

import (
	"github.com/gorilla/mux"
)

// RegisterSchedulingRoutes registers the calendar and scheduling routes
func RegisterSchedulingRoutes(h *Handler, r *mux.Router) {
	// Calendar view
	r.HandleFunc("/api/calendar/user/{userId}", h.CalendarMonthForUser).Methods("GET")

	// Slot resolution actions
	r.HandleFunc("/api/posts/{postId}/schedule/user/{userId}", h.ReschedulePostForUser).Methods("PUT")
	r.HandleFunc("/api/posts/{postId}/push/user/{userId}", h.PushAndSchedulePostForUser).Methods("POST")
	r.HandleFunc("/api/posts/swap/user/{userId}", h.SwapPostSchedulesForUser).Methods("POST")

	// Daily suggestion schedule
	r.HandleFunc("/api/daily-schedule/user/{userId}", h.GetDailySuggestionSchedule).Methods("GET")
	r.HandleFunc("/api/daily-schedule/user/{userId}", h.UpsertDailySuggestionSchedule).Methods("PUT")
	r.HandleFunc("/api/daily-schedule/user/{userId}", h.DeleteDailySuggestionSchedule).Methods("DELETE")
}
