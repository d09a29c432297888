package handlers

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"github.com/postpilot-app/postpilot/backend/internal/models"
)

// ScheduleReloader is notified when a user's daily-suggestion schedule
// changes so the cron runner can pick up the new cadence.
type ScheduleReloader interface {
	Reload() error
}

type Handler struct {
	db        *sql.DB
	rt        *realtimeHub
	schedules ScheduleReloader
}

func New(db *sql.DB) *Handler {
	return &Handler{db: db, rt: newRealtimeHub()}
}

// SetScheduleReloader wires the suggestion cron runner; nil is allowed.
func (h *Handler) SetScheduleReloader(r ScheduleReloader) {
	h.schedules = r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// postColumns is the canonical select list for posts; keep in sync with scanPost.
const postColumns = `id, user_id, content, platform, status,
       COALESCE(topics, ARRAY[]::text[]), COALESCE(media, ARRAY[]::text[]),
       scheduled_at, posted_at, external_id, last_publish_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(s rowScanner) (models.Post, error) {
	var p models.Post
	err := s.Scan(
		&p.ID, &p.UserID, &p.Content, &p.Platform, &p.Status,
		pq.Array(&p.Topics), pq.Array(&p.Media),
		&p.ScheduledAt, &p.PostedAt, &p.ExternalID, &p.LastPublishError,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// socialConnectionRequest accepts the token on intake; the stored model
// never serializes it back out.
type socialConnectionRequest struct {
	Provider    string  `json:"provider"`
	ProviderID  string  `json:"providerId"`
	Name        *string `json:"name,omitempty"`
	AccessToken *string `json:"accessToken,omitempty"`
}

func (h *Handler) CreateSocialConnection(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	var req socialConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	conn := models.SocialConnection{
		ID:          randHex(16),
		UserID:      userID,
		Provider:    strings.TrimSpace(strings.ToLower(req.Provider)),
		ProviderID:  req.ProviderID,
		Name:        req.Name,
		AccessToken: req.AccessToken,
	}
	if conn.Provider != models.PlatformLinkedIn && conn.Provider != models.PlatformSubstack {
		writeError(w, http.StatusBadRequest, "unsupported provider")
		return
	}

	query := `
		INSERT INTO public.social_connections (id, user_id, provider, provider_id, name, access_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			name = COALESCE(EXCLUDED.name, public.social_connections.name),
			access_token = COALESCE(EXCLUDED.access_token, public.social_connections.access_token)
		RETURNING id, user_id, provider, provider_id, name, created_at
	`
	err := h.db.QueryRow(query, conn.ID, conn.UserID, conn.Provider, conn.ProviderID, conn.Name, conn.AccessToken).
		Scan(&conn.ID, &conn.UserID, &conn.Provider, &conn.ProviderID, &conn.Name, &conn.CreatedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conn.AccessToken = nil
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) GetUserSocialConnections(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	rows, err := h.db.Query(`
		SELECT id, user_id, provider, provider_id, name, created_at
		  FROM public.social_connections
		 WHERE user_id = $1
		 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	conns := []models.SocialConnection{}
	for rows.Next() {
		var c models.SocialConnection
		if err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.ProviderID, &c.Name, &c.CreatedAt); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) DeleteSocialConnection(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	id := pathVar(r, "id")
	if userID == "" || id == "" {
		writeError(w, http.StatusBadRequest, "userId and id are required")
		return
	}

	res, err := h.db.Exec(`DELETE FROM public.social_connections WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(b)
}
