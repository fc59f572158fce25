// internal/controller/webhook_controller.go
package controller

import (
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/config"
	"github.com/maildrip/maildrip-backend/internal/repository"
	"github.com/maildrip/maildrip-backend/internal/service"
	"github.com/maildrip/maildrip-backend/internal/webhook"
)

// WebhookController owns the inbound provider surface: the notification
// endpoint and the public signed unsubscribe link.
type WebhookController struct {
	Reconciler  *service.Reconciler
	ContactRepo repository.ContactRepositoryInterface
	Config      *config.Config
	Log         zerolog.Logger
}

// HandleProviderWebhook accepts delivery-provider notifications. It always
// acknowledges with 200 for readable bodies; rejecting malformed or
// unmatched payloads would only make the provider retry forever. Real
// failures (ledger down) return 500 so the provider retries later.
func (c *WebhookController) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ev := webhook.Parse(body)
	if err := c.Reconciler.Handle(ev); err != nil {
		c.Log.Error().Err(err).Msg("webhook reconciliation failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// HandleUnsubscribe serves the signed one-click unsubscribe links embedded
// in sent mail and List-Unsubscribe headers.
func (c *WebhookController) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	broadcastID, _ := strconv.Atoi(q.Get("b"))
	contactID, _ := strconv.Atoi(q.Get("c"))
	sig := q.Get("sig")

	if contactID == 0 || sig == "" || !service.VerifyUnsubscribeSignature(c.Config.UnsubscribeSecret, broadcastID, contactID, sig) {
		http.Error(w, "invalid unsubscribe link", http.StatusBadRequest)
		return
	}

	if err := c.ContactRepo.Unsubscribe(contactID); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	c.Log.Info().Int("contact_id", contactID).Int("broadcast_id", broadcastID).Msg("contact unsubscribed via link")
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("You have been unsubscribed."))
}
