package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adesege/factbeat/internal/heartbeat"
	"github.com/adesege/factbeat/internal/profile"
	"github.com/adesege/factbeat/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// HeartbeatRunner runs a heartbeat synchronously for one user.
// Implemented by heartbeat.Orchestrator.
type HeartbeatRunner interface {
	ProcessUser(ctx context.Context, userID string, since time.Time) (heartbeat.Summary, error)
}

type AppDeps struct {
	Store   *storage.Store
	Profile *profile.Manager
	Runner  HeartbeatRunner
	Token   string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/messages", handlePostMessage(deps))
		r.Post("/users/{userID}/heartbeat", handleRunHeartbeat(deps))
		r.Get("/users/{userID}/facts", handleListFacts(deps))
		r.Get("/users/{userID}/facts/{entity}/history", handleFactHistory(deps))
		r.Get("/users/{userID}/rejected", handleListRejected(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := deps.Store.ListUserIDs(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "storage unavailable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

type postMessageRequest struct {
	UserID    string    `json:"user_id"`
	Direction string    `json:"direction"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func handlePostMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req postMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Direction == "" {
			req.Direction = storage.DirectionInbound
		}
		if req.Direction != storage.DirectionInbound && req.Direction != storage.DirectionOutbound {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "direction must be inbound or outbound")
			return
		}
		if req.CreatedAt.IsZero() {
			req.CreatedAt = time.Now().UTC()
		}

		msg := storage.Message{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			Direction: req.Direction,
			Content:   req.Content,
			CreatedAt: req.CreatedAt,
		}
		if err := deps.Store.SaveMessage(r.Context(), msg); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save message: %v", err)
			return
		}

		// Inbound messages carry claims, so nudge the queue instead of
		// waiting for the next scheduled run.
		status := "stored"
		if req.Direction == storage.DirectionInbound {
			if _, err := heartbeat.EnqueueHeartbeat(r.Context(), deps.Store, req.UserID, time.Time{}); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "saved message but failed to enqueue heartbeat: %v", err)
				return
			}
			status = "queued"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":     msg.ID,
			"status": status,
		})
	}
}

func handleRunHeartbeat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		since := time.Time{}
		if s := r.URL.Query().Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid since timestamp: %v", err)
				return
			}
			since = t
		}

		summary, err := deps.Runner.ProcessUser(r.Context(), userID, since)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "heartbeat failed: %v", err)
			return
		}
		deps.Profile.Invalidate(userID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

func handleListFacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		layer := r.URL.Query().Get("layer")

		facts, err := deps.Store.ListActiveFacts(r.Context(), userID, layer)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list facts: %v", err)
			return
		}
		if facts == nil {
			facts = []storage.Fact{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(facts)
	}
}

func handleFactHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		entity := chi.URLParam(r, "entity")

		history, err := deps.Store.FactHistory(r.Context(), userID, entity)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no facts recorded for entity %q", entity)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(history)
	}
}

func handleListRejected(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		limit := parseIntParam(r, "limit", 50, 500)

		rejected, err := deps.Store.ListRejectedCandidates(r.Context(), userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list rejected candidates: %v", err)
			return
		}
		if rejected == nil {
			rejected = []storage.RejectedCandidate{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rejected)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
