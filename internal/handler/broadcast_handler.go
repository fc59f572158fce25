// internal/handler/broadcast_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/maildrip/maildrip-backend/internal/errors"
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
)

// BroadcastHandler serves the read-side broadcast detail view with
// per-status recipient counts.
type BroadcastHandler struct {
	BroadcastRepo repository.BroadcastRepositoryInterface
}

type broadcastDetails struct {
	*model.Broadcast
	Stats map[string]int `json:"stats"`
}

// GetBroadcastWithStats returns a broadcast and its recipient breakdown.
// Every status appears in the map even when zero, so dashboards get a
// stable shape.
func (h *BroadcastHandler) GetBroadcastWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	broadcast, err := h.BroadcastRepo.GetByID(id)
	if err != nil {
		var notFound *appErrors.ErrBroadcastNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	counts, err := h.BroadcastRepo.GetRecipientStats(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats := map[string]int{"total": 0}
	for _, status := range []model.RecipientStatus{
		model.RecipientPending, model.RecipientQueued, model.RecipientSent,
		model.RecipientDelivered, model.RecipientOpened, model.RecipientClicked,
		model.RecipientFailed, model.RecipientBounced, model.RecipientComplained,
		model.RecipientSkipped,
	} {
		n := counts[status]
		stats[string(status)] = n
		stats["total"] += n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(broadcastDetails{Broadcast: broadcast, Stats: stats})
}
