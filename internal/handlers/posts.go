package handlers

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/lib/pq"
	"github.com/postpilot-app/postpilot/backend/internal/models"
)

type createOrUpdatePostRequest struct {
	ID          *string    `json:"id,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Platform    *string    `json:"platform,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	Media       []string   `json:"media,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

func (req createOrUpdatePostRequest) validate(creating bool) error {
	fields := []*validation.FieldRules{
		validation.Field(&req.Platform, validation.In(models.PlatformLinkedIn, models.PlatformSubstack)),
		validation.Field(&req.Status, validation.In(
			models.PostStatusDraft, models.PostStatusSuggested,
			models.PostStatusScheduled, models.PostStatusPosted, models.PostStatusFailed,
		)),
	}
	if creating {
		fields = append(fields, validation.Field(&req.Platform, validation.Required))
	}
	return validation.ValidateStruct(&req, fields...)
}

// ListPostsForUser returns a user's posts, optionally filtered by status and
// by the calendar date range the relevant timestamp falls into.
func (h *Handler) ListPostsForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	limit := 500

	query := `SELECT ` + postColumns + ` FROM public.posts WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		args = append(args, status)
		query += ` AND status = $2`
	}
	if from != "" && to != "" {
		loc, err := locationFor(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tz")
			return
		}
		start, err1 := time.ParseInLocation("2006-01-02", from, loc)
		end, err2 := time.ParseInLocation("2006-01-02", to, loc)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "from/to must be YYYY-MM-DD")
			return
		}
		end = end.AddDate(0, 0, 1)
		args = append(args, start, end)
		n := len(args)
		query += ` AND ((status = 'scheduled' AND scheduled_at >= $` + itoa(n-1) + ` AND scheduled_at < $` + itoa(n) + `)
		           OR (status = 'posted' AND posted_at >= $` + itoa(n-1) + ` AND posted_at < $` + itoa(n) + `))`
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args))

	rows, err := h.db.Query(query, args...)
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

	writeJSON(w, http.StatusOK, posts)
}

// CreatePostForUser creates a draft (or directly scheduled) post.
func (h *Handler) CreatePostForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	var req createOrUpdatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.validate(true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := ""
	if req.ID != nil {
		id = strings.TrimSpace(*req.ID)
	}
	if id == "" {
		id = randHex(16)
	}
	status := models.PostStatusDraft
	if req.Status != nil && *req.Status != "" {
		status = *req.Status
	}
	if status == models.PostStatusScheduled && req.ScheduledAt == nil {
		writeError(w, http.StatusBadRequest, "scheduledAt is required when status=scheduled")
		return
	}

	topics := dedupeTrimmed(req.Topics)
	media := dedupeTrimmed(req.Media)

	query := `
		INSERT INTO public.posts (id, user_id, content, platform, status, topics, media, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING ` + postColumns
	out, err := scanPost(h.db.QueryRow(query, id, userID, req.Content, *req.Platform, status,
		pq.Array(topics), pq.Array(media), req.ScheduledAt))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.emitEvent(userID, realtimeEvent{Type: "post.created", PostID: out.ID, Status: out.Status})
	writeJSON(w, http.StatusOK, out)
}

// UpdatePostForUser updates post fields; omitted fields are left unchanged.
// Promoting a suggestion to draft or scheduled goes through here.
func (h *Handler) UpdatePostForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	postID := pathVar(r, "postId")
	if userID == "" || postID == "" {
		writeError(w, http.StatusBadRequest, "userId and postId are required")
		return
	}

	var req createOrUpdatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.validate(false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != nil && *req.Status == models.PostStatusScheduled && req.ScheduledAt == nil {
		writeError(w, http.StatusBadRequest, "scheduledAt is required when status=scheduled")
		return
	}

	var topicsArg any
	if req.Topics != nil {
		topicsArg = pq.Array(dedupeTrimmed(req.Topics))
	}
	var mediaArg any
	if req.Media != nil {
		mediaArg = pq.Array(dedupeTrimmed(req.Media))
	}

	query := `
		UPDATE public.posts
		SET
			content = COALESCE($3, content),
			platform = COALESCE($4, platform),
			status = COALESCE($5, status),
			scheduled_at = COALESCE($6, scheduled_at),
			topics = COALESCE($7::text[], topics),
			media = COALESCE($8::text[], media),
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + postColumns
	out, err := scanPost(h.db.QueryRow(query, postID, userID, req.Content, req.Platform, req.Status,
		req.ScheduledAt, topicsArg, mediaArg))
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.emitEvent(userID, realtimeEvent{Type: "post.updated", PostID: out.ID, Status: out.Status})
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) DeletePostForUser(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	postID := pathVar(r, "postId")
	if userID == "" || postID == "" {
		writeError(w, http.StatusBadRequest, "userId and postId are required")
		return
	}

	res, err := h.db.Exec(`DELETE FROM public.posts WHERE id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	h.emitEvent(userID, realtimeEvent{Type: "post.deleted", PostID: postID})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func dedupeTrimmed(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
