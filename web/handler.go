// Package web serves the session API consumed by the chat-platform
// front end.
package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/amonks/foreman/session"
)

// Handler serves the session HTTP API.
type Handler struct {
	store *session.Store
	mux   *http.ServeMux
}

// NewHandler creates a handler backed by the given store.
func NewHandler(store *session.Store) *Handler {
	handler := &Handler{store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.handleHealth)
	mux.HandleFunc("GET /sessions", handler.handleList)
	mux.HandleFunc("POST /sessions", handler.handleCreate)
	mux.HandleFunc("GET /sessions/{id}", handler.handleGet)
	mux.HandleFunc("GET /sessions/{id}/events", handler.handleEvents)
	handler.mux = mux

	return handler
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{Sessions: h.store.List()})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repo == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "repo and prompt required")
		return
	}

	created, err := h.store.Create(session.CreateOptions{
		Repo:        req.Repo,
		Prompt:      req.Prompt,
		Model:       req.Model,
		CreatedBy:   req.CreatedBy,
		ChannelID:   req.ChannelID,
		ThreadTS:    req.ThreadTS,
		GithubToken: req.GithubToken,
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidRepo) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.store.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: h.store.Events(id)})
}

type createRequest struct {
	Repo        string `json:"repo"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	CreatedBy   string `json:"createdBy"`
	ChannelID   string `json:"channelId"`
	ThreadTS    string `json:"threadTs"`
	GithubToken string `json:"githubToken"`
}

type listResponse struct {
	Sessions []session.Session `json:"sessions"`
}

type eventsResponse struct {
	Events []session.Event `json:"events"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
