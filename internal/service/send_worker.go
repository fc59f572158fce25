// internal/service/send_worker.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/config"
	"github.com/maildrip/maildrip-backend/internal/mailer"
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
)

// SendWorker processes one send task at a time: load the recipient and its
// broadcast snapshot, render, deliver through the transport, and record the
// outcome. Tasks for recipients no longer in queued are no-ops, which is
// what makes duplicate task delivery harmless.
type SendWorker struct {
	RecipientRepo repository.RecipientRepositoryInterface
	BroadcastRepo repository.BroadcastRepositoryInterface
	ContactRepo   repository.ContactRepositoryInterface
	TemplateRepo  repository.TemplateRepositoryInterface
	EventRepo     repository.EventRepositoryInterface
	Transport     mailer.Transport
	Config        *config.Config
	Log           zerolog.Logger

	Now func() time.Time
}

func (w *SendWorker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// Process handles a single recipient id. A non-nil error means the task
// should be retried by the queue (infrastructure trouble); send outcomes,
// success or failure, are recorded in the ledger and return nil.
func (w *SendWorker) Process(ctx context.Context, recipientID int) error {
	rec, err := w.RecipientRepo.GetByID(recipientID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", recipientID, err)
	}
	if rec == nil {
		w.Log.Warn().Int("recipient_id", recipientID).Msg("send task for unknown recipient, dropping")
		return nil
	}
	if rec.Status != model.RecipientQueued {
		// Duplicate or late task delivery. The row moved on without us.
		w.Log.Debug().Int("recipient_id", recipientID).Str("status", string(rec.Status)).Msg("recipient not queued, skipping")
		return nil
	}

	b, err := w.BroadcastRepo.GetByID(rec.BroadcastID)
	if err != nil {
		return fmt.Errorf("load broadcast %d: %w", rec.BroadcastID, err)
	}
	if !b.Snapshotted() {
		return fmt.Errorf("broadcast %d has no content snapshot", b.ID)
	}

	contact, err := w.ContactRepo.GetByID(rec.ContactID)
	if err != nil {
		return fmt.Errorf("load contact %d: %w", rec.ContactID, err)
	}
	if contact == nil {
		w.recordFailure(rec, b, "contact no longer exists")
		return nil
	}

	attachments, err := w.TemplateRepo.ListAttachments(b.TemplateID)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}

	unsubURL := SignedUnsubscribeURL(w.Config.UnsubscribeBaseURL, w.Config.UnsubscribeSecret, b.ID, contact.ID)
	vars := map[string]string{
		"first_name":      contact.FirstName,
		"last_name":       contact.LastName,
		"full_name":       contact.FullName(),
		"email":           contact.Email,
		"company":         contact.Company,
		"unsubscribe_url": unsubURL,
	}

	msg := &mailer.Message{
		To:          contact.Email,
		FromName:    w.Config.FromName,
		FromEmail:   w.Config.FromEmail,
		ReplyTo:     w.Config.ReplyTo,
		Subject:     RenderTemplate(b.SnapshotSubject, vars),
		HTMLContent: RenderTemplate(b.SnapshotHTMLContent, vars),
		Headers: map[string]string{
			"List-Unsubscribe": fmt.Sprintf("<%s>", unsubURL),
		},
		Attachments: attachments,
	}

	providerMessageID, sendErr := w.Transport.Send(ctx, msg)
	if sendErr != nil {
		w.recordFailure(rec, b, sendErr.Error())
		return nil
	}

	now := w.now()
	applied, err := w.RecipientRepo.MarkSent(rec.ID, providerMessageID, now)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if !applied {
		// The row left queued between our guard check and the write
		// (stale recovery or a concurrent duplicate). The send happened,
		// so still record the event for audit.
		w.Log.Warn().Int("recipient_id", rec.ID).Msg("sent but recipient no longer queued")
	}

	if err := w.EventRepo.Append(&model.RecipientEvent{
		BroadcastID: b.ID,
		RecipientID: rec.ID,
		EventType:   model.EventSent,
		Payload:     json.RawMessage(fmt.Sprintf(`{"provider_message_id":%q}`, providerMessageID)),
		OccurredAt:  now,
	}); err != nil {
		w.Log.Error().Err(err).Int("recipient_id", rec.ID).Msg("failed to append sent event")
	}

	w.Log.Info().Int("recipient_id", rec.ID).Str("provider_message_id", providerMessageID).Msg("message sent")
	return nil
}

// recordFailure marks the recipient failed and appends a send_failed event.
// The worker never retries on its own: recovery is the next tick's
// stale-recovery or an explicit operator requeue.
func (w *SendWorker) recordFailure(rec *model.Recipient, b *model.Broadcast, reason string) {
	now := w.now()
	if _, err := w.RecipientRepo.MarkFailed(rec.ID, reason, now); err != nil {
		w.Log.Error().Err(err).Int("recipient_id", rec.ID).Msg("failed to mark recipient failed")
		return
	}

	if err := w.EventRepo.Append(&model.RecipientEvent{
		BroadcastID: b.ID,
		RecipientID: rec.ID,
		EventType:   model.EventSendFailed,
		Payload:     json.RawMessage(fmt.Sprintf(`{"error":%q}`, reason)),
		OccurredAt:  now,
	}); err != nil {
		w.Log.Error().Err(err).Int("recipient_id", rec.ID).Msg("failed to append send_failed event")
	}

	w.Log.Warn().Int("recipient_id", rec.ID).Str("error", reason).Msg("send failed")
}
