package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"projector/internal/event"
	"projector/internal/projection"
)

// ProjectionLister reads the materialized read model.
type ProjectionLister interface {
	List(ctx context.Context, t event.Type, limit int) ([]projection.Projection, error)
}

type ProjectionHandler struct {
	Store ProjectionLister
}

func (h *ProjectionHandler) List(w http.ResponseWriter, r *http.Request) {
	typ, ok := entityType(r)
	if !ok {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}

	limit := 100
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	ps, err := h.Store.List(r.Context(), typ, limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if ps == nil {
		ps = []projection.Projection{}
	}
	writeJSON(w, http.StatusOK, ps)
}
