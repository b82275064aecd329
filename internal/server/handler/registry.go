package handler

import (
	"log/slog"
	"net/http"
)

// RegistryHandler serves the authority registry.
type RegistryHandler struct {
	svc    Settlement
	logger *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler.
func NewRegistryHandler(svc Settlement, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{svc: svc, logger: logger}
}

// Initialize makes the signed caller the authority. It succeeds once.
// POST /api/registry
func (h *RegistryHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	reg, err := h.svc.Initialize(r.Context(), caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize", err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// Get returns the registry.
// GET /api/registry
func (h *RegistryHandler) Get(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.Registry(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get registry", err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}
