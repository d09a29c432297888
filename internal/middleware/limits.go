package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
)

// PlanLimits defines the limits for each plan
type PlanLimits struct {
	SocialAccounts int `json:"social_accounts"` // -1 = unlimited
	PostsPerMonth  int `json:"posts_per_month"` // -1 = unlimited
}

type ctxKey string

// CtxUserPlan carries the resolved plan id for downstream handlers.
const CtxUserPlan ctxKey = "user_plan"

// PlanEnforcer middleware that enforces plan limits on write endpoints
type PlanEnforcer struct {
	DB     *sql.DB
	Limits map[string]PlanLimits
}

// NewPlanEnforcer creates a new plan enforcer middleware
func NewPlanEnforcer(db *sql.DB) *PlanEnforcer {
	limits := map[string]PlanLimits{
		"free": {
			SocialAccounts: 2,
			PostsPerMonth:  30,
		},
		"pro": {
			SocialAccounts: 10,
			PostsPerMonth:  -1, // unlimited
		},
	}

	return &PlanEnforcer{
		DB:     db,
		Limits: limits,
	}
}

// Middleware returns an HTTP middleware that enforces plan limits
func (pe *PlanEnforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pe.shouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}

		userID := pe.extractUserID(r)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		planID, err := pe.getUserPlan(userID)
		if err != nil {
			// If the plan can't be determined, default to the free tier.
			planID = "free"
		}

		if !pe.checkLimits(r, userID, planID) {
			pe.respondLimitExceeded(w, planID)
			return
		}

		ctx := context.WithValue(r.Context(), CtxUserPlan, planID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// shouldSkip returns true if this route should skip plan enforcement
func (pe *PlanEnforcer) shouldSkip(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodDelete {
		return true
	}

	skipPaths := []string{
		"/health",
		"/api/events",
		"/api/calendar",
		"/api/daily-schedule",
	}
	for _, path := range skipPaths {
		if strings.HasPrefix(r.URL.Path, path) {
			return true
		}
	}
	return false
}

// extractUserID extracts the user ID from path segments like
// /api/posts/user/{userId}
func (pe *PlanEnforcer) extractUserID(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if part == "user" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// getUserPlan returns the user's current plan
func (pe *PlanEnforcer) getUserPlan(userID string) (string, error) {
	var planID string
	err := pe.DB.QueryRow(`
		SELECT COALESCE(plan_id, 'free') AS plan_id
		FROM public.user_plans
		WHERE user_id = $1
	`, userID).Scan(&planID)

	if err == sql.ErrNoRows {
		return "free", nil
	}
	return planID, err
}

// checkLimits checks if the request is within the plan limits
func (pe *PlanEnforcer) checkLimits(r *http.Request, userID, planID string) bool {
	limits, ok := pe.Limits[planID]
	if !ok {
		limits = pe.Limits["free"]
	}

	if strings.Contains(r.URL.Path, "/social-connections") && r.Method == http.MethodPost {
		var count int
		_ = pe.DB.QueryRow(`
			SELECT COUNT(*) FROM public.social_connections WHERE user_id = $1
		`, userID).Scan(&count)
		if limits.SocialAccounts >= 0 && count >= limits.SocialAccounts {
			return false
		}
	}

	// Only post creation counts against the monthly quota; push/swap are
	// schedule moves on existing posts.
	if strings.HasPrefix(r.URL.Path, "/api/posts/user/") && r.Method == http.MethodPost {
		var count int
		_ = pe.DB.QueryRow(`
			SELECT COUNT(*) FROM public.posts
			WHERE user_id = $1 AND created_at >= date_trunc('month', NOW())
		`, userID).Scan(&count)
		if limits.PostsPerMonth >= 0 && count >= limits.PostsPerMonth {
			return false
		}
	}

	return true
}

// respondLimitExceeded sends a limit exceeded response
func (pe *PlanEnforcer) respondLimitExceeded(w http.ResponseWriter, planID string) {
	limits := pe.Limits[planID]

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)

	response := map[string]interface{}{
		"error":   "plan_limit_exceeded",
		"message": "Your current plan has reached its limits",
		"plan":    planID,
		"limits":  limits,
	}
	_ = json.NewEncoder(w).Encode(response)
}
