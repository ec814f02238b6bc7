package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
)

// valueRequest is the body of POST /items/{name}/command and PUT /items/{name}/state.
type valueRequest struct {
	Value *string `json:"value"`
}

func decodeValue(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return "", false
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return "", false
	}
	return *req.Value, true
}

// handleListItems returns all items, or the items carrying ?tag= when given.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	var (
		list []items.Item
		err  error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		list, err = s.items.ListItemsByTag(r.Context(), tag)
	} else {
		list, err = s.items.ListItems(r.Context())
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": list,
		"count": len(list),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.items.GetItem(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleSendCommand sends a command to an item. The command is accepted
// once published; the resulting state arrives as a separate update.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}

	if err := s.items.SendCommand(r.Context(), name, value); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"item":    name,
		"command": value,
		"status":  "accepted",
	})
}

// handlePostUpdate sets an item's state directly and returns the updated item.
func (s *Server) handlePostUpdate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}

	if err := s.items.PostUpdate(r.Context(), name, value); err != nil {
		writeDomainError(w, err)
		return
	}

	item, err := s.items.GetItem(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
