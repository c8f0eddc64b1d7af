package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/pkg/module"
)

// ModulesHandler serves the module store of each chat.
type ModulesHandler struct {
	registry *modules.Registry
	logger   *slog.Logger
}

func NewModulesHandler(registry *modules.Registry, logger *slog.Logger) *ModulesHandler {
	return &ModulesHandler{registry: registry, logger: logger}
}

// SaveResponse reports where a module was written.
type SaveResponse struct {
	FloorID *int `json:"floorId,omitempty"`
	Updated bool `json:"updated,omitempty"`
}

// target resolves the kind and character of a request, answering 400 when
// they do not fit together.
func (h *ModulesHandler) target(w http.ResponseWriter, r *http.Request) (module.Kind, string, bool) {
	kind, err := module.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	character := r.URL.Query().Get("character")
	if kind.Scoped() && character == "" {
		writeError(w, h.logger, http.StatusBadRequest, "character is required for "+string(kind))
		return "", "", false
	}
	if !kind.Scoped() {
		character = ""
	}
	return kind, character, true
}

// Get loads a module, from history when possible.
// GET /v1/chats/{chatID}/modules/{kind}?character=&force=true
func (h *ModulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, character, ok := h.target(w, r)
	if !ok {
		return
	}
	store := h.registry.Get(chi.URLParam(r, "chatID"))
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	snap := store.LoadCharacter(r.Context(), kind, character, force)
	writeJSON(w, h.logger, http.StatusOK, snap)
}

// Post persists a module supplied by the caller.
// POST /v1/chats/{chatID}/modules/{kind}?character=
func (h *ModulesHandler) Post(w http.ResponseWriter, r *http.Request) {
	kind, character, ok := h.target(w, r)
	if !ok {
		return
	}
	var body map[string]any
	if !decodeBody(w, r, h.logger, &body) {
		return
	}
	payload, err := module.FromValue(kind, body)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	store := h.registry.Get(chi.URLParam(r, "chatID"))
	var resp SaveResponse
	if kind.Scoped() {
		err = store.SaveCharacter(r.Context(), kind, character, payload)
	} else {
		var floorID int
		floorID, err = store.Save(r.Context(), kind, payload)
		resp.FloorID = &floorID
	}
	if err != nil {
		h.logger.Error("Failed to save module", "module", string(kind), "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to save module.")
		return
	}
	// The next read picks the new block up from history.
	store.Reset(kind)
	writeJSON(w, h.logger, http.StatusCreated, resp)
}

// Put rewrites the most recent block of a global module in place.
// PUT /v1/chats/{chatID}/modules/{kind}?floor=N
func (h *ModulesHandler) Put(w http.ResponseWriter, r *http.Request) {
	kind, _, ok := h.target(w, r)
	if !ok {
		return
	}
	if kind.Scoped() {
		writeError(w, h.logger, http.StatusBadRequest, "in-place update is only supported for global modules")
		return
	}
	var floorID *int
	if v := r.URL.Query().Get("floor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "floor must be an integer")
			return
		}
		floorID = &n
	}
	var body map[string]any
	if !decodeBody(w, r, h.logger, &body) {
		return
	}
	payload, err := module.FromValue(kind, body)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	store := h.registry.Get(chi.URLParam(r, "chatID"))
	if !store.Update(r.Context(), kind, payload, floorID) {
		writeError(w, h.logger, http.StatusNotFound, "no "+string(kind)+" block to update")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SaveResponse{Updated: true})
}

// Delete clears the cached state of a module kind.
// DELETE /v1/chats/{chatID}/modules/{kind}
func (h *ModulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, err := module.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	h.registry.Get(chi.URLParam(r, "chatID")).Reset(kind)
	w.WriteHeader(http.StatusNoContent)
}

// Abort cancels the chat's in-flight AI request.
// POST /v1/chats/{chatID}/abort
func (h *ModulesHandler) Abort(w http.ResponseWriter, r *http.Request) {
	aborted := h.registry.Get(chi.URLParam(r, "chatID")).Gate().Abort()
	writeJSON(w, h.logger, http.StatusOK, map[string]bool{"aborted": aborted})
}

// ResetChat drops every cached module of a chat, e.g. after a chat switch.
// DELETE /v1/chats/{chatID}
func (h *ModulesHandler) ResetChat(w http.ResponseWriter, r *http.Request) {
	h.registry.Drop(chi.URLParam(r, "chatID"))
	w.WriteHeader(http.StatusNoContent)
}
