package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"projector/internal/entity"
	"projector/internal/event"
	"projector/internal/projection"
)

const maxDocumentBytes = 1 << 20

type EntityHandler struct {
	Svc *entity.Service
}

type eventDTO struct {
	Seq        int64      `json:"seq"`
	EntityID   uuid.UUID  `json:"entity_id"`
	EntityType event.Type `json:"entity_type,omitempty"`
	Kind       event.Kind `json:"kind"`
	Document   any        `json:"document,omitempty"`
	Added      time.Time  `json:"added"`
}

func entityType(r *http.Request) (event.Type, bool) {
	t := chi.URLParam(r, "type")
	if err := validate.Var(t, "required,max=64,printascii"); err != nil {
		return "", false
	}
	return event.Type(t), true
}

func entityID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func readDocument(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

// Create saves the first document of a new entity.
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	typ, ok := entityType(r)
	if !ok {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}
	doc, ok := readDocument(w, r)
	if !ok {
		return
	}

	id, err := h.Svc.Save(r.Context(), nil, typ, doc)
	if err != nil {
		h.appendError(w, err)
		return
	}
	w.Header().Set("Location", "/entities/"+string(typ)+"/"+id.String())
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *EntityHandler) Save(w http.ResponseWriter, r *http.Request) {
	typ, ok := entityType(r)
	if !ok {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}
	id, ok := entityID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	doc, ok := readDocument(w, r)
	if !ok {
		return
	}

	if _, err := h.Svc.Save(r.Context(), &id, typ, doc); err != nil {
		h.appendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) Drop(w http.ResponseWriter, r *http.Request) {
	typ, ok := entityType(r)
	if !ok {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}
	id, ok := entityID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if err := h.Svc.Drop(r.Context(), id, typ); err != nil {
		h.appendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) appendError(w http.ResponseWriter, err error) {
	if errors.Is(err, entity.ErrInvalidDocument) {
		http.Error(w, "invalid document", http.StatusBadRequest)
		return
	}
	http.Error(w, "server error", http.StatusInternalServerError)
}

// List aggregates the live entities, of one type when the route carries it.
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	var f event.Filter
	if chi.URLParam(r, "type") != "" {
		typ, ok := entityType(r)
		if !ok {
			http.Error(w, "invalid type", http.StatusBadRequest)
			return
		}
		f.Type = typ
	}

	ps, err := h.Svc.Aggregate(r.Context(), f)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if ps == nil {
		ps = []projection.Projection{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *EntityHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	evs, err := h.Svc.Timeline(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]eventDTO, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventDTO{
			Seq:        e.Seq,
			EntityID:   e.EntityID,
			EntityType: e.Type,
			Kind:       e.Kind,
			Document:   e.Document,
			Added:      e.Added,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *EntityHandler) Games(w http.ResponseWriter, r *http.Request) {
	gs, err := h.Svc.Games(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}
