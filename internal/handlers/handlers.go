package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"subtrack/internal/models"
	"subtrack/internal/session"
	"subtrack/internal/store"
)

// Handlers holds dependencies for the JSON API.
type Handlers struct {
	sessions *session.Manager
	store    *store.Store
	log      *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sm *session.Manager, st *store.Store, log *slog.Logger) *Handlers {
	return &Handlers{sessions: sm, store: st, log: log}
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("response encoding failed", "err", err)
	}
}

// requireUser resolves the authenticated identity and keeps the store bound
// to it. Unauthenticated requests get a 401.
func (h *Handlers) requireUser(w http.ResponseWriter) (*models.User, bool) {
	user := h.sessions.User()
	if user == nil {
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "not signed in"})
		return nil, false
	}
	h.store.SetUser(user.ID)
	return user, true
}

// SessionViewModel is the session state exposed to the presentation layer.
type SessionViewModel struct {
	User         *models.User `json:"user"`
	JustSignedIn bool         `json:"just_signed_in"`
	Error        string       `json:"error,omitempty"`
}

// GetSession reports the current session state.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, SessionViewModel{
		User:         h.sessions.User(),
		JustSignedIn: h.sessions.JustSignedIn(),
		Error:        h.sessions.Err(),
	})
}

// SignOut ends the session. On failure the identity is kept so the client
// can retry.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w); !ok {
		return
	}
	if err := h.sessions.SignOut(r.Context()); err != nil {
		h.writeJSON(w, http.StatusBadGateway, errorBody{Error: h.sessions.Err()})
		return
	}
	h.store.SetUser("")
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListSubscriptions returns the collection with its derived aggregates and
// error state.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w); !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.store.State())
}

// RefreshSubscriptions re-fetches the collection from the remote backend and
// returns the resulting state. A degraded (local data) outcome is still a
// 200; the snapshot carries the warning.
func (h *Handlers) RefreshSubscriptions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w); !ok {
		return
	}
	h.store.Refresh(r.Context())
	h.writeJSON(w, http.StatusOK, h.store.State())
}

// CreateSubscription adds a subscription. A local-fallback save is reported
// as 202 so the client can flag reduced durability.
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w); !ok {
		return
	}

	var payload models.Subscription
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	result := h.store.Add(r.Context(), payload)
	switch {
	case result.Success && result.IsLocal:
		h.writeJSON(w, http.StatusAccepted, result)
	case result.Success:
		h.writeJSON(w, http.StatusCreated, result)
	default:
		h.writeJSON(w, http.StatusUnprocessableEntity, result)
	}
}

// UpdateSubscription patches a subscription by id.
func (h *Handlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w); !ok {
		return
	}

	var patch store.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	result := h.store.Update(r.Context(), r.PathValue("id"), patch)
	if !result.Success {
		h.writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// DeleteSubscription removes a subscription by id.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w); !ok {
		return
	}

	result := h.store.Remove(r.Context(), r.PathValue("id"))
	if !result.Success {
		h.writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
