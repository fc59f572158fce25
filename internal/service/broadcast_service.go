// internal/service/broadcast_service.go
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/config"
	appErrors "github.com/maildrip/maildrip-backend/internal/errors"
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
)

// BroadcastService owns broadcast creation/validation and the operator
// lifecycle transitions (start/pause/resume/cancel/requeue). The automatic
// transitions (scheduled->running promotion, running->completed) belong to
// the DispatchService.
type BroadcastService struct {
	BroadcastRepo repository.BroadcastRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	ContactRepo   repository.ContactRepositoryInterface
	TemplateRepo  repository.TemplateRepositoryInterface
	Config        *config.Config
	Log           zerolog.Logger
}

// CreateBroadcastInput is the operator-facing creation payload.
type CreateBroadcastInput struct {
	Name              string  `json:"name"`
	GroupID           int     `json:"group_id"`
	TemplateID        int     `json:"template_id"`
	MessagesPerMinute int     `json:"messages_per_minute"`
	StartsAt          *string `json:"starts_at,omitempty"` // RFC3339 or "2006-01-02 15:04"
	StartsAtTimezone  string  `json:"starts_at_timezone,omitempty"`
}

// CreateBroadcast validates and persists a new draft (or scheduled, when a
// start time is given) broadcast. All configuration errors are rejected
// here, before any dispatch ever runs.
func (s *BroadcastService) CreateBroadcast(in CreateBroadcastInput) (*model.Broadcast, error) {
	if in.Name == "" {
		return nil, appErrors.NewInvalidBroadcast("name is required")
	}
	if in.MessagesPerMinute < 1 {
		return nil, appErrors.NewInvalidBroadcast("messages_per_minute must be >= 1")
	}

	exists, err := s.ContactRepo.GroupExists(in.GroupID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, appErrors.NewContactGroupNotFound(in.GroupID)
	}

	if _, err := s.TemplateRepo.GetByID(in.TemplateID); err != nil {
		return nil, err
	}

	b := &model.Broadcast{
		Name:              in.Name,
		GroupID:           in.GroupID,
		TemplateID:        in.TemplateID,
		MessagesPerMinute: in.MessagesPerMinute,
		Status:            model.BroadcastDraft,
	}

	if in.StartsAt != nil && *in.StartsAt != "" {
		tz := in.StartsAtTimezone
		if tz == "" {
			tz = "UTC"
		}
		startsAt, err := parseStartsAt(*in.StartsAt, tz)
		if err != nil {
			return nil, appErrors.NewInvalidBroadcast(err.Error())
		}
		b.StartsAt = &startsAt
		b.StartsAtTimezone = tz
		b.Status = model.BroadcastScheduled
	}

	if err := s.BroadcastRepo.Create(b); err != nil {
		return nil, err
	}

	s.Log.Info().Int("broadcast_id", b.ID).Str("status", string(b.Status)).Msg("broadcast created")
	return b, nil
}

// parseStartsAt interprets the wall-clock time in the operator's timezone
// and stores it as UTC, which is what all due-time comparisons use.
func parseStartsAt(value, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown timezone %q", tz)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse starts_at %q", value)
}

// Start makes a broadcast due now. A draft gets scheduled; a scheduled
// broadcast with a future start time is pulled forward. The next tick does
// the actual promotion and snapshot, so there is a single promotion path.
func (s *BroadcastService) Start(broadcastID int) (*model.Broadcast, error) {
	b, err := s.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return nil, err
	}

	switch b.Status {
	case model.BroadcastDraft, model.BroadcastScheduled:
	default:
		return nil, appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastScheduled))
	}

	now := time.Now().UTC()
	b.StartsAt = &now
	if b.StartsAtTimezone == "" {
		b.StartsAtTimezone = "UTC"
	}
	if b.Status == model.BroadcastDraft {
		if applied, err := s.BroadcastRepo.UpdateStatus(broadcastID, model.BroadcastDraft, model.BroadcastScheduled); err != nil {
			return nil, err
		} else if !applied {
			return nil, appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastScheduled))
		}
		b.Status = model.BroadcastScheduled
	}
	if err := s.BroadcastRepo.UpdateStartsAt(broadcastID, now, b.StartsAtTimezone); err != nil {
		return nil, err
	}

	s.Log.Info().Int("broadcast_id", broadcastID).Msg("broadcast started (due now)")
	return b, nil
}

// Pause halts a running broadcast. Pausing an already-paused broadcast is a
// no-op, not an error.
func (s *BroadcastService) Pause(broadcastID int) error {
	b, err := s.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return err
	}
	if b.Status == model.BroadcastPaused {
		return nil
	}
	if !b.Status.CanTransitionTo(model.BroadcastPaused) {
		return appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastPaused))
	}
	applied, err := s.BroadcastRepo.UpdateStatus(broadcastID, b.Status, model.BroadcastPaused)
	if err != nil {
		return err
	}
	if !applied {
		return appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastPaused))
	}
	s.Log.Info().Int("broadcast_id", broadcastID).Msg("broadcast paused")
	return nil
}

// Resume returns a paused broadcast to running. No snapshot change: the
// content frozen at first promotion stays.
func (s *BroadcastService) Resume(broadcastID int) error {
	b, err := s.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return err
	}
	if b.Status == model.BroadcastRunning {
		return nil
	}
	if !b.Status.CanTransitionTo(model.BroadcastRunning) {
		return appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastRunning))
	}
	applied, err := s.BroadcastRepo.UpdateStatus(broadcastID, b.Status, model.BroadcastRunning)
	if err != nil {
		return err
	}
	if !applied {
		return appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastRunning))
	}
	s.Log.Info().Int("broadcast_id", broadcastID).Msg("broadcast resumed")
	return nil
}

// Cancel terminates a scheduled/running/paused broadcast. Cancelled
// broadcasts are skipped by all future ticks.
func (s *BroadcastService) Cancel(broadcastID int) error {
	b, err := s.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return err
	}
	if b.Status == model.BroadcastCancelled {
		return nil
	}
	if !b.Status.CanTransitionTo(model.BroadcastCancelled) {
		return appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastCancelled))
	}
	applied, err := s.BroadcastRepo.UpdateStatus(broadcastID, b.Status, model.BroadcastCancelled)
	if err != nil {
		return err
	}
	if !applied {
		return appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastCancelled))
	}
	s.Log.Info().Int("broadcast_id", broadcastID).Msg("broadcast cancelled")
	return nil
}

// Requeue resets failed-like recipients back to pending and returns the
// broadcast to running so the next tick picks them up. History is kept; the
// reset clears queued_at/failed_at/last_error but deletes nothing.
func (s *BroadcastService) Requeue(broadcastID int, statuses []model.RecipientStatus) (int, error) {
	b, err := s.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return 0, err
	}

	switch b.Status {
	case model.BroadcastPaused, model.BroadcastCompleted:
	default:
		return 0, appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastRunning))
	}

	if len(statuses) == 0 {
		statuses = []model.RecipientStatus{model.RecipientFailed}
	}
	for _, st := range statuses {
		if !st.Requeueable() {
			return 0, appErrors.NewInvalidBroadcast(fmt.Sprintf("status %s cannot be requeued", st))
		}
	}

	reset, err := s.RecipientRepo.ResetForRequeue(broadcastID, statuses)
	if err != nil {
		return 0, err
	}
	if reset == 0 {
		return 0, appErrors.ErrNothingToRequeue
	}

	applied, err := s.BroadcastRepo.UpdateStatus(broadcastID, b.Status, model.BroadcastRunning)
	if err != nil {
		return reset, err
	}
	if !applied {
		return reset, appErrors.NewInvalidTransition(broadcastID, string(b.Status), string(model.BroadcastRunning))
	}

	s.Log.Info().Int("broadcast_id", broadcastID).Int("reset", reset).Msg("broadcast requeued")
	return reset, nil
}

// UnsubscribeURL builds the signed per-contact unsubscribe link embedded in
// rendered mail and the List-Unsubscribe header.
func (s *BroadcastService) UnsubscribeURL(broadcastID, contactID int) string {
	return SignedUnsubscribeURL(s.Config.UnsubscribeBaseURL, s.Config.UnsubscribeSecret, broadcastID, contactID)
}

// SignedUnsubscribeURL signs (broadcast, contact) with HMAC-SHA256 so the
// public endpoint can verify the link was minted by us.
func SignedUnsubscribeURL(baseURL, secret string, broadcastID, contactID int) string {
	sig := UnsubscribeSignature(secret, broadcastID, contactID)
	return fmt.Sprintf("%s?b=%d&c=%d&sig=%s", baseURL, broadcastID, contactID, sig)
}

func UnsubscribeSignature(secret string, broadcastID, contactID int) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d:%d", broadcastID, contactID)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyUnsubscribeSignature checks a signature in constant time.
func VerifyUnsubscribeSignature(secret string, broadcastID, contactID int, sig string) bool {
	expected := UnsubscribeSignature(secret, broadcastID, contactID)
	return hmac.Equal([]byte(expected), []byte(sig))
}
