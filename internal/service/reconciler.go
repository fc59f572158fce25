// internal/service/reconciler.go
package service

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
	"github.com/maildrip/maildrip-backend/internal/webhook"
)

// funnelPreconditions maps each webhook-driven target status to the set of
// current statuses it may be applied from. Anything else is a duplicate or
// out-of-order notification and is ignored: the funnel only moves forward,
// and bounced/complained are never overwritten.
var funnelPreconditions = map[model.RecipientStatus][]model.RecipientStatus{
	model.RecipientDelivered:  {model.RecipientSent},
	model.RecipientOpened:     {model.RecipientSent, model.RecipientDelivered},
	model.RecipientClicked:    {model.RecipientSent, model.RecipientDelivered, model.RecipientOpened},
	model.RecipientBounced:    {model.RecipientSent, model.RecipientDelivered},
	model.RecipientComplained: {model.RecipientSent, model.RecipientDelivered, model.RecipientOpened, model.RecipientClicked},
}

var eventStatusTargets = map[model.EventType]model.RecipientStatus{
	model.EventDelivery:  model.RecipientDelivered,
	model.EventOpen:      model.RecipientOpened,
	model.EventClick:     model.RecipientClicked,
	model.EventBounce:    model.RecipientBounced,
	model.EventComplaint: model.RecipientComplained,
}

// Reconciler applies asynchronous provider notifications to the recipient
// ledger. Every call appends an audit event, matched or not; status updates
// are monotonic and idempotent-tolerant, because the provider will send
// duplicates and deliver out of order.
type Reconciler struct {
	RecipientRepo repository.RecipientRepositoryInterface
	ContactRepo   repository.ContactRepositoryInterface
	EventRepo     repository.EventRepositoryInterface
	Log           zerolog.Logger

	// correlation caches provider_message_id -> recipient id so webhook
	// bursts for the same message hit the ledger once.
	correlation *gocache.Cache
}

func NewReconciler(
	recipientRepo repository.RecipientRepositoryInterface,
	contactRepo repository.ContactRepositoryInterface,
	eventRepo repository.EventRepositoryInterface,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		RecipientRepo: recipientRepo,
		ContactRepo:   contactRepo,
		EventRepo:     eventRepo,
		Log:           log,
		correlation:   gocache.New(15*time.Minute, 30*time.Minute),
	}
}

// Handle processes one normalized webhook event. It returns an error only
// for infrastructure failures; unmatched or unusable events are logged and
// stored, never errors.
func (r *Reconciler) Handle(ev webhook.Event) error {
	if ev.Housekeeping {
		r.Log.Info().Str("subscribe_url", ev.SubscribeURL).Msg("provider housekeeping message acknowledged")
		return r.appendAudit(nil, ev, model.EventProviderRaw)
	}

	rec, err := r.correlate(ev.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("correlate provider message id: %w", err)
	}

	auditType := ev.Type
	if auditType == "" {
		auditType = model.EventProviderRaw
	}
	if err := r.appendAudit(rec, ev, auditType); err != nil {
		return err
	}

	if rec == nil {
		// Providers send notifications we cannot map (typoed ids, events
		// for mail sent outside this system). Stored above for audit; no
		// status change.
		r.Log.Info().Str("provider_message_id", ev.ProviderMessageID).Str("event_type", string(ev.Type)).Msg("webhook event did not match a recipient")
		return nil
	}

	target, ok := eventStatusTargets[ev.Type]
	if !ok {
		return nil
	}

	applied, err := r.RecipientRepo.AdvanceFunnel(rec.ID, target, funnelPreconditions[target], ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("advance recipient %d to %s: %w", rec.ID, target, err)
	}
	if !applied {
		r.Log.Debug().Int("recipient_id", rec.ID).Str("target", string(target)).Msg("event ignored, status already past it")
		return nil
	}

	r.Log.Info().Int("recipient_id", rec.ID).Str("status", string(target)).Msg("recipient status advanced")

	// A complaint also unsubscribes the contact, which future broadcasts'
	// enrollment sees immediately.
	if target == model.RecipientComplained {
		if err := r.ContactRepo.Unsubscribe(rec.ContactID); err != nil {
			return fmt.Errorf("unsubscribe contact %d after complaint: %w", rec.ContactID, err)
		}
		r.Log.Info().Int("contact_id", rec.ContactID).Msg("contact unsubscribed after complaint")
	}

	return nil
}

func (r *Reconciler) correlate(providerMessageID string) (*model.Recipient, error) {
	if providerMessageID == "" {
		return nil, nil
	}

	if cached, ok := r.correlation.Get(providerMessageID); ok {
		return r.RecipientRepo.GetByID(cached.(int))
	}

	rec, err := r.RecipientRepo.GetByProviderMessageID(providerMessageID)
	if err != nil || rec == nil {
		return rec, err
	}
	r.correlation.Set(providerMessageID, rec.ID, gocache.DefaultExpiration)
	return rec, nil
}

func (r *Reconciler) appendAudit(rec *model.Recipient, ev webhook.Event, eventType model.EventType) error {
	audit := &model.RecipientEvent{
		EventType:  eventType,
		Payload:    ev.Raw,
		OccurredAt: ev.OccurredAt,
	}
	if rec != nil {
		audit.BroadcastID = rec.BroadcastID
		audit.RecipientID = rec.ID
	}
	if err := r.EventRepo.Append(audit); err != nil {
		return fmt.Errorf("append webhook audit event: %w", err)
	}
	return nil
}
