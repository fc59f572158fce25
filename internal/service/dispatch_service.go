// internal/service/dispatch_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/config"
	"github.com/maildrip/maildrip-backend/internal/distlock"
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/queue"
	"github.com/maildrip/maildrip-backend/internal/repository"
)

// DispatchService runs the periodic dispatch tick. Each tick, per broadcast:
// promote if due, enroll eligible contacts, recover stale queued work, queue
// up to messages_per_minute pending recipients, and complete the broadcast
// when nothing is left. The allowance is a fixed quota per tick: unused
// capacity does not carry over and future ticks are never borrowed from.
type DispatchService struct {
	BroadcastRepo repository.BroadcastRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	TemplateRepo  repository.TemplateRepositoryInterface
	EventRepo     repository.EventRepositoryInterface
	Enrollment    EnrollmentPolicy
	Queue         queue.Queue
	Locks         *distlock.Factory
	Config        *config.Config
	Log           zerolog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// TickResult summarizes one tick for logging and tests.
type TickResult struct {
	BroadcastsSeen int
	Promoted       int
	Enrolled       int
	StaleRecovered int
	Queued         int
	Completed      int
	Skipped        int
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Tick processes every dispatchable broadcast once. Broadcasts are fully
// independent: one broadcast's failure is logged and the loop moves on, and
// each holds its own lock so a slow tick elsewhere cannot stall it.
func (s *DispatchService) Tick(ctx context.Context) (*TickResult, error) {
	broadcasts, err := s.BroadcastRepo.ListDispatchable()
	if err != nil {
		return nil, fmt.Errorf("list dispatchable broadcasts: %w", err)
	}

	result := &TickResult{BroadcastsSeen: len(broadcasts)}
	for _, b := range broadcasts {
		if err := s.tickBroadcast(ctx, b, result); err != nil {
			s.Log.Error().Err(err).Int("broadcast_id", b.ID).Msg("tick failed for broadcast")
		}
	}
	return result, nil
}

func (s *DispatchService) tickBroadcast(ctx context.Context, b *model.Broadcast, result *TickResult) error {
	var lock distlock.Lock
	if s.Locks != nil {
		lock = s.Locks.New(fmt.Sprintf("broadcast:%d:tick", b.ID))
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire tick lock: %w", err)
		}
		if !acquired {
			// Another dispatcher is working this broadcast. Skip, never wait.
			result.Skipped++
			return nil
		}
		defer lock.Release(ctx)
	}

	now := s.now()

	// 1. Promote a due scheduled broadcast, freezing content exactly once.
	if b.Status == model.BroadcastScheduled {
		if !b.Due(now) {
			return nil
		}
		promoted, err := s.promote(b, now)
		if err != nil {
			return err
		}
		if promoted {
			result.Promoted++
		} else {
			// Lost a promotion race; pick the broadcast up next tick with
			// fresh state.
			return nil
		}
	}

	// 2. Lazily enroll eligible contacts that have no recipient row yet.
	enrolled, err := s.Enrollment.Enroll(b)
	if err != nil {
		return fmt.Errorf("enroll recipients: %w", err)
	}
	result.Enrolled += enrolled

	// 3. Recover recipients stuck in queued past the staleness window, so
	// a crashed worker's claims are retried instead of lost.
	recovered, err := s.RecipientRepo.ReleaseStale(b.ID, now.Add(-s.Config.StaleAfter))
	if err != nil {
		return fmt.Errorf("release stale recipients: %w", err)
	}
	if recovered > 0 {
		s.Log.Warn().Int("broadcast_id", b.ID).Int("recovered", recovered).Msg("recovered stale queued recipients")
		result.StaleRecovered += recovered
	}

	// 4. Queue up to this tick's allowance and emit one send task each.
	claimed, err := s.RecipientRepo.ClaimPending(b.ID, b.MessagesPerMinute, now)
	if err != nil {
		return fmt.Errorf("claim pending recipients: %w", err)
	}
	for _, rec := range claimed {
		if err := s.EventRepo.Append(&model.RecipientEvent{
			BroadcastID: b.ID,
			RecipientID: rec.ID,
			EventType:   model.EventQueued,
			Payload:     json.RawMessage(fmt.Sprintf(`{"queued_at":%q}`, now.Format(time.RFC3339))),
			OccurredAt:  now,
		}); err != nil {
			s.Log.Error().Err(err).Int("recipient_id", rec.ID).Msg("failed to append queued event")
		}

		if err := s.Queue.Publish(queue.SendTopic, queue.SendTask{RecipientID: rec.ID}); err != nil {
			// Leave the row queued; the staleness window reclaims it if the
			// task never reaches a worker.
			s.Log.Error().Err(err).Int("recipient_id", rec.ID).Msg("failed to publish send task")
			continue
		}
		result.Queued++
	}

	// 5. Complete the broadcast once no pending or queued work remains.
	outstanding, err := s.RecipientRepo.CountOutstanding(b.ID)
	if err != nil {
		return fmt.Errorf("count outstanding recipients: %w", err)
	}
	if outstanding == 0 {
		completed, err := s.BroadcastRepo.MarkCompleted(b.ID, now)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if completed {
			result.Completed++
			s.Log.Info().Int("broadcast_id", b.ID).Msg("broadcast completed")
		}
	}

	return nil
}

// promote snapshots the current template content into the broadcast and
// moves it to running. The repository guard makes the snapshot one-shot: if
// another tick promoted first, promote reports false and changes nothing.
func (s *DispatchService) promote(b *model.Broadcast, now time.Time) (bool, error) {
	tmpl, err := s.TemplateRepo.GetByID(b.TemplateID)
	if err != nil {
		return false, fmt.Errorf("load template for snapshot: %w", err)
	}

	promoted, err := s.BroadcastRepo.PromoteToRunning(b.ID, tmpl.Subject, tmpl.HTMLContent, tmpl.Version, now)
	if err != nil {
		return false, fmt.Errorf("promote broadcast: %w", err)
	}
	if promoted {
		b.Status = model.BroadcastRunning
		b.SnapshotSubject = tmpl.Subject
		b.SnapshotHTMLContent = tmpl.HTMLContent
		b.SnapshotTemplateVersion = tmpl.Version
		b.StartedAt = &now
		s.Log.Info().Int("broadcast_id", b.ID).Int("template_version", tmpl.Version).Msg("broadcast promoted to running")
	}
	return promoted, nil
}
