// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrBroadcastNotFound is a sentinel error
type ErrBroadcastNotFound struct {
	BroadcastID int
}

func (e *ErrBroadcastNotFound) Error() string {
	return fmt.Sprintf("broadcast with ID %d not found", e.BroadcastID)
}

func NewBroadcastNotFound(id int) error {
	return &ErrBroadcastNotFound{BroadcastID: id}
}

type ErrContactGroupNotFound struct {
	GroupID int
}

func (e *ErrContactGroupNotFound) Error() string {
	return fmt.Sprintf("contact group with ID %d not found", e.GroupID)
}

func NewContactGroupNotFound(id int) error {
	return &ErrContactGroupNotFound{GroupID: id}
}

type ErrTemplateNotFound struct {
	TemplateID int
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template with ID %d not found", e.TemplateID)
}

func NewTemplateNotFound(id int) error {
	return &ErrTemplateNotFound{TemplateID: id}
}

// ErrInvalidTransition is returned when an operator action asks for a
// lifecycle edge the state machine does not allow.
type ErrInvalidTransition struct {
	BroadcastID int
	From        string
	To          string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("broadcast %d cannot transition from %s to %s", e.BroadcastID, e.From, e.To)
}

func NewInvalidTransition(id int, from, to string) error {
	return &ErrInvalidTransition{BroadcastID: id, From: from, To: to}
}

// ErrNothingToRequeue signals a requeue that matched zero recipients.
var ErrNothingToRequeue = errors.New("no recipients eligible for requeue")

// ErrInvalidBroadcast carries creation/edit validation failures.
type ErrInvalidBroadcast struct {
	Reason string
}

func (e *ErrInvalidBroadcast) Error() string {
	return "invalid broadcast: " + e.Reason
}

func NewInvalidBroadcast(reason string) error {
	return &ErrInvalidBroadcast{Reason: reason}
}
