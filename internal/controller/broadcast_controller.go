// internal/controller/broadcast_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/maildrip/maildrip-backend/internal/errors"
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
	"github.com/maildrip/maildrip-backend/internal/service"
)

type BroadcastController struct {
	BroadcastService *service.BroadcastService
	BroadcastRepo    repository.BroadcastRepositoryInterface
	Log              zerolog.Logger
}

func (c *BroadcastController) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var body service.CreateBroadcastInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	broadcast, err := c.BroadcastService.CreateBroadcast(body)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(broadcast)
}

func (c *BroadcastController) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if pageSize > 100 {
		pageSize = 100
	}
	status := r.URL.Query().Get("status")

	broadcasts, total, err := c.BroadcastRepo.ListBroadcasts((page-1)*pageSize, pageSize, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"broadcasts": broadcasts,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": (total + pageSize - 1) / pageSize,
		},
	})
}

func (c *BroadcastController) StartBroadcast(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	broadcast, err := c.BroadcastService.Start(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(broadcast)
}

func (c *BroadcastController) PauseBroadcast(w http.ResponseWriter, r *http.Request) {
	c.applyAction(w, r, c.BroadcastService.Pause, "paused")
}

func (c *BroadcastController) ResumeBroadcast(w http.ResponseWriter, r *http.Request) {
	c.applyAction(w, r, c.BroadcastService.Resume, "running")
}

func (c *BroadcastController) CancelBroadcast(w http.ResponseWriter, r *http.Request) {
	c.applyAction(w, r, c.BroadcastService.Cancel, "cancelled")
}

func (c *BroadcastController) RequeueBroadcast(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	var body struct {
		Statuses []model.RecipientStatus `json:"statuses"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}

	reset, err := c.BroadcastService.Requeue(id, body.Statuses)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"broadcast_id":     id,
		"recipients_reset": reset,
		"status":           "running",
	})
}

func (c *BroadcastController) applyAction(w http.ResponseWriter, r *http.Request, action func(int) error, resulting string) {
	id := pathID(r)
	if err := action(id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"broadcast_id": id,
		"status":       resulting,
	})
}

func pathID(r *http.Request) int {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	return id
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

// writeServiceError maps the typed service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		notFound     *appErrors.ErrBroadcastNotFound
		groupMissing *appErrors.ErrContactGroupNotFound
		tmplMissing  *appErrors.ErrTemplateNotFound
		invalidTrans *appErrors.ErrInvalidTransition
		invalid      *appErrors.ErrInvalidBroadcast
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound), errors.As(err, &groupMissing), errors.As(err, &tmplMissing):
		status = http.StatusNotFound
	case errors.As(err, &invalidTrans):
		status = http.StatusConflict
	case errors.As(err, &invalid):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, appErrors.ErrNothingToRequeue):
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
