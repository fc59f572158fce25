package model

// BroadcastStatus is the lifecycle state of a broadcast.
type BroadcastStatus string

const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastScheduled BroadcastStatus = "scheduled"
	BroadcastRunning   BroadcastStatus = "running"
	BroadcastPaused    BroadcastStatus = "paused"
	BroadcastCompleted BroadcastStatus = "completed"
	BroadcastCancelled BroadcastStatus = "cancelled"
)

// broadcastTransitions holds the allowed lifecycle edges. Completed and
// cancelled are terminal except for the operator requeue path, which is
// checked separately in the service.
var broadcastTransitions = map[BroadcastStatus][]BroadcastStatus{
	BroadcastDraft:     {BroadcastScheduled},
	BroadcastScheduled: {BroadcastRunning, BroadcastCancelled},
	BroadcastRunning:   {BroadcastPaused, BroadcastCompleted, BroadcastCancelled},
	BroadcastPaused:    {BroadcastRunning, BroadcastCancelled},
}

// CanTransitionTo reports whether the lifecycle edge from s to next is legal.
func (s BroadcastStatus) CanTransitionTo(next BroadcastStatus) bool {
	for _, allowed := range broadcastTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no tick will ever pick this broadcast up again.
func (s BroadcastStatus) Terminal() bool {
	return s == BroadcastCompleted || s == BroadcastCancelled
}

// RecipientStatus is the summarized state of one (broadcast, contact) row.
type RecipientStatus string

const (
	RecipientPending    RecipientStatus = "pending"
	RecipientQueued     RecipientStatus = "queued"
	RecipientSent       RecipientStatus = "sent"
	RecipientDelivered  RecipientStatus = "delivered"
	RecipientOpened     RecipientStatus = "opened"
	RecipientClicked    RecipientStatus = "clicked"
	RecipientFailed     RecipientStatus = "failed"
	RecipientBounced    RecipientStatus = "bounced"
	RecipientComplained RecipientStatus = "complained"
	RecipientSkipped    RecipientStatus = "skipped"
)

// TerminalForDispatch reports whether the dispatch tick considers this
// recipient finished. Only pending and queued rows keep a broadcast alive.
func (s RecipientStatus) TerminalForDispatch() bool {
	return s != RecipientPending && s != RecipientQueued
}

// funnelRank orders the engagement funnel so webhook updates can only move
// a recipient forward. Statuses outside the funnel rank as zero.
var funnelRank = map[RecipientStatus]int{
	RecipientSent:      1,
	RecipientDelivered: 2,
	RecipientOpened:    3,
	RecipientClicked:   4,
}

// FunnelRank returns the recipient's position in the engagement funnel,
// or 0 for statuses outside it.
func (s RecipientStatus) FunnelRank() int {
	return funnelRank[s]
}

// Requeueable reports whether an operator requeue may reset this status
// back to pending. Engagement funnel statuses are never reset.
func (s RecipientStatus) Requeueable() bool {
	switch s {
	case RecipientFailed, RecipientBounced, RecipientComplained, RecipientSkipped:
		return true
	}
	return false
}

// EventType identifies one recipient lifecycle occurrence in the event log.
type EventType string

const (
	EventQueued     EventType = "queued"
	EventSent       EventType = "sent"
	EventSendFailed EventType = "send_failed"
	EventDelivery   EventType = "delivery"
	EventBounce     EventType = "bounce"
	EventComplaint  EventType = "complaint"
	EventOpen       EventType = "open"
	EventClick      EventType = "click"

	// EventProviderRaw labels audit-only rows for provider payloads that
	// carry no recipient lifecycle information (housekeeping messages,
	// unknown event names, unparseable bodies).
	EventProviderRaw EventType = "provider_raw"
)
