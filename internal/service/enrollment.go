// internal/service/enrollment.go
package service

import (
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
)

// EnrollmentPolicy decides when recipient rows get created for a broadcast.
// The tick calls Enroll on every pass; a policy that has already done its
// work returns (0, nil). Enrollment itself is idempotent either way, since
// the ledger enforces one row per (broadcast, contact).
type EnrollmentPolicy interface {
	Enroll(b *model.Broadcast) (created int, err error)
}

// LazyEnrollment is the default policy: on every tick, any active
// non-unsubscribed contact in the target group without a recipient row gets
// one. Contacts added to the group mid-broadcast are picked up; contacts
// that unsubscribe mid-broadcast stop being enrolled (rows they already
// have are untouched).
type LazyEnrollment struct {
	ContactRepo   repository.ContactRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
}

func (p *LazyEnrollment) Enroll(b *model.Broadcast) (int, error) {
	contacts, err := p.ContactRepo.ListActiveContacts(b.GroupID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, contact := range contacts {
		inserted, err := p.RecipientRepo.EnrollPending(b.ID, contact.ID)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// EagerEnrollment enrolls the audience once, on the tick that sees an empty
// ledger for the broadcast, and never again. Group changes after that first
// tick are ignored.
type EagerEnrollment struct {
	ContactRepo   repository.ContactRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface

	enrolled map[int]bool
}

func (p *EagerEnrollment) Enroll(b *model.Broadcast) (int, error) {
	if p.enrolled == nil {
		p.enrolled = map[int]bool{}
	}
	if p.enrolled[b.ID] {
		return 0, nil
	}

	contacts, err := p.ContactRepo.ListActiveContacts(b.GroupID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, contact := range contacts {
		inserted, err := p.RecipientRepo.EnrollPending(b.ID, contact.ID)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	p.enrolled[b.ID] = true
	return created, nil
}

var (
	_ EnrollmentPolicy = (*LazyEnrollment)(nil)
	_ EnrollmentPolicy = (*EagerEnrollment)(nil)
)
