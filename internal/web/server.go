// Package web serves the health check and the read-only transcript viewer API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/pkg/logger"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// Store is the transcript persistence the viewer reads.
type Store interface {
	TranscriptBySlug(ctx context.Context, slug string) (*storage.Transcript, error)
	TranscriptParticipants(ctx context.Context, transcriptID int64) ([]storage.User, error)
	TranscriptMessages(ctx context.Context, transcriptID int64, before string, limit int) ([]storage.TranscriptMessage, error)
}

// Handler serves the viewer endpoints.
type Handler struct {
	store Store
}

// NewRouter builds the HTTP routes. Transcript routes require token as a
// bearer token; an empty token rejects every transcript request.
func NewRouter(store Store, token string) http.Handler {
	h := &Handler{store: store}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Route("/transcripts/{slug}", func(r chi.Router) {
		r.Use(RequireToken(token))
		r.Get("/", h.Transcript)
		r.Get("/messages", h.Messages)
	})
	return r
}

// RequireToken rejects requests whose Authorization header is not
// "Bearer <token>".
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="transcripts"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type transcriptResponse struct {
	*storage.Transcript
	CompletedAt  *time.Time     `json:"completed_at"`
	Participants []storage.User `json:"participants"`
}

// Transcript returns a transcript's metadata and participants.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookup(w, r)
	if !ok {
		return
	}
	users, err := h.store.TranscriptParticipants(r.Context(), t.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []storage.User{}
	}

	resp := transcriptResponse{Transcript: t, Participants: users}
	if t.CompletedAt.Valid {
		resp.CompletedAt = &t.CompletedAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

type messagesResponse struct {
	Messages []storage.TranscriptMessage `json:"messages"`
	// Next is the before cursor of the following page, empty on the last page.
	Next string `json:"next,omitempty"`
}

// Messages returns a page of stored messages, newest first.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxPageSize)
	}
	before := r.URL.Query().Get("before")
	if before != "" {
		if _, err := strconv.ParseUint(before, 10, 64); err != nil {
			http.Error(w, "before must be a message id", http.StatusBadRequest)
			return
		}
	}

	t, ok := h.lookup(w, r)
	if !ok {
		return
	}
	msgs, err := h.store.TranscriptMessages(r.Context(), t.ID, before, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := messagesResponse{Messages: msgs}
	if resp.Messages == nil {
		resp.Messages = []storage.TranscriptMessage{}
	}
	if len(msgs) == limit {
		resp.Next = msgs[len(msgs)-1].MessageID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*storage.Transcript, bool) {
	t, err := h.store.TranscriptBySlug(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "transcript not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return t, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger.Error().Err(err).Str("path", r.URL.Path).Msg("Transcript request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}
