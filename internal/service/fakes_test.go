package service

import (
	"sort"
	"sync"
	"time"

	appErrors "github.com/maildrip/maildrip-backend/internal/errors"
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
)

// In-memory fakes mirroring the SQL guards of the real repositories, so
// service tests exercise the same conditional-update semantics.

type fakeBroadcastRepo struct {
	mu         sync.Mutex
	broadcasts map[int]*model.Broadcast
	nextID     int
}

func newFakeBroadcastRepo() *fakeBroadcastRepo {
	return &fakeBroadcastRepo{broadcasts: map[int]*model.Broadcast{}, nextID: 1}
}

func (f *fakeBroadcastRepo) Create(b *model.Broadcast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = f.nextID
	f.nextID++
	clone := *b
	f.broadcasts[b.ID] = &clone
	return nil
}

func (f *fakeBroadcastRepo) GetByID(id int) (*model.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[id]
	if !ok {
		return nil, appErrors.NewBroadcastNotFound(id)
	}
	clone := *b
	return &clone, nil
}

func (f *fakeBroadcastRepo) ListBroadcasts(offset, limit int, status string) ([]*model.Broadcast, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.Broadcast{}
	for _, b := range f.broadcasts {
		if status == "" || string(b.Status) == status {
			clone := *b
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (f *fakeBroadcastRepo) ListDispatchable() ([]*model.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.Broadcast{}
	for _, b := range f.broadcasts {
		if b.Status == model.BroadcastScheduled || b.Status == model.BroadcastRunning {
			clone := *b
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeBroadcastRepo) UpdateStatus(broadcastID int, from, to model.BroadcastStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[broadcastID]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (f *fakeBroadcastRepo) PromoteToRunning(broadcastID int, subject, html string, version int, startedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[broadcastID]
	if !ok || b.Status != model.BroadcastScheduled || b.SnapshotTemplateVersion != 0 {
		return false, nil
	}
	b.Status = model.BroadcastRunning
	b.SnapshotSubject = subject
	b.SnapshotHTMLContent = html
	b.SnapshotTemplateVersion = version
	if b.StartedAt == nil {
		t := startedAt
		b.StartedAt = &t
	}
	return true, nil
}

func (f *fakeBroadcastRepo) MarkCompleted(broadcastID int, completedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[broadcastID]
	if !ok || b.Status != model.BroadcastRunning {
		return false, nil
	}
	b.Status = model.BroadcastCompleted
	t := completedAt
	b.CompletedAt = &t
	return true, nil
}

func (f *fakeBroadcastRepo) UpdateStartsAt(broadcastID int, startsAt time.Time, tz string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.broadcasts[broadcastID]; ok {
		t := startsAt
		b.StartsAt = &t
		b.StartsAtTimezone = tz
	}
	return nil
}

func (f *fakeBroadcastRepo) GetRecipientStats(broadcastID int) (map[model.RecipientStatus]int, error) {
	return map[model.RecipientStatus]int{}, nil
}

type fakeRecipientRepo struct {
	mu         sync.Mutex
	recipients map[int]*model.Recipient
	nextID     int
}

func newFakeRecipientRepo() *fakeRecipientRepo {
	return &fakeRecipientRepo{recipients: map[int]*model.Recipient{}, nextID: 1}
}

func (f *fakeRecipientRepo) EnrollPending(broadcastID, contactID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.ContactID == contactID {
			return false, nil
		}
	}
	now := time.Now().UTC()
	f.recipients[f.nextID] = &model.Recipient{
		ID:          f.nextID,
		BroadcastID: broadcastID,
		ContactID:   contactID,
		Status:      model.RecipientPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.nextID++
	return true, nil
}

func (f *fakeRecipientRepo) ClaimPending(broadcastID, limit int, now time.Time) ([]*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := []*model.Recipient{}
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.Status == model.RecipientPending {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	claimed := []*model.Recipient{}
	for _, r := range pending {
		r.Status = model.RecipientQueued
		t := now
		r.QueuedAt = &t
		clone := *r
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (f *fakeRecipientRepo) ReleaseStale(broadcastID int, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.Status == model.RecipientQueued && r.QueuedAt != nil && r.QueuedAt.Before(cutoff) {
			r.Status = model.RecipientPending
			r.QueuedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeRecipientRepo) MarkSent(recipientID int, providerMessageID string, sentAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[recipientID]
	if !ok || r.Status != model.RecipientQueued {
		return false, nil
	}
	r.Status = model.RecipientSent
	t := sentAt
	r.SentAt = &t
	r.ProviderMessageID = providerMessageID
	r.AttemptCount++
	r.LastError = ""
	return true, nil
}

func (f *fakeRecipientRepo) MarkFailed(recipientID int, lastError string, failedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[recipientID]
	if !ok || r.Status != model.RecipientQueued {
		return false, nil
	}
	r.Status = model.RecipientFailed
	t := failedAt
	r.FailedAt = &t
	r.LastError = lastError
	r.AttemptCount++
	return true, nil
}

func (f *fakeRecipientRepo) AdvanceFunnel(recipientID int, to model.RecipientStatus, from []model.RecipientStatus, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[recipientID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	r.Status = to
	t := at
	switch to {
	case model.RecipientDelivered:
		r.DeliveredAt = &t
	case model.RecipientOpened:
		r.OpenedAt = &t
	case model.RecipientClicked:
		r.ClickedAt = &t
	case model.RecipientBounced, model.RecipientComplained:
		r.FailedAt = &t
	case model.RecipientSkipped:
		r.SkippedAt = &t
	}
	return true, nil
}

func (f *fakeRecipientRepo) ResetForRequeue(broadcastID int, statuses []model.RecipientStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.recipients {
		if r.BroadcastID != broadcastID {
			continue
		}
		for _, s := range statuses {
			if r.Status == s {
				r.Status = model.RecipientPending
				r.QueuedAt = nil
				r.FailedAt = nil
				r.LastError = ""
				n++
				break
			}
		}
	}
	return n, nil
}

func (f *fakeRecipientRepo) GetByID(id int) (*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[id]
	if !ok {
		return nil, nil
	}
	clone := *r
	return &clone, nil
}

func (f *fakeRecipientRepo) GetByProviderMessageID(providerMessageID string) (*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.ProviderMessageID == providerMessageID && providerMessageID != "" {
			clone := *r
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeRecipientRepo) CountOutstanding(broadcastID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && (r.Status == model.RecipientPending || r.Status == model.RecipientQueued) {
			n++
		}
	}
	return n, nil
}

// byStatus is a test helper returning recipient ids currently in a status.
func (f *fakeRecipientRepo) byStatus(broadcastID int, status model.RecipientStatus) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []int{}
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.Status == status {
			ids = append(ids, r.ID)
		}
	}
	sort.Ints(ids)
	return ids
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[int]*model.Contact
	groups   map[int][]int // group id -> contact ids
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: map[int]*model.Contact{}, groups: map[int][]int{}}
}

func (f *fakeContactRepo) addContact(c model.Contact, groupID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := c
	f.contacts[c.ID] = &clone
	f.groups[groupID] = append(f.groups[groupID], c.ID)
}

func (f *fakeContactRepo) GetByID(id int) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return nil, nil
	}
	clone := *c
	return &clone, nil
}

func (f *fakeContactRepo) ListActiveContacts(groupID int) ([]model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Contact{}
	for _, id := range f.groups[groupID] {
		c := f.contacts[id]
		if c != nil && !c.IsUnsubscribed && !c.IsInvalid {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeContactRepo) GroupExists(groupID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.groups[groupID]
	return ok, nil
}

func (f *fakeContactRepo) Unsubscribe(contactID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[contactID]; ok {
		c.IsUnsubscribed = true
	}
	return nil
}

type fakeTemplateRepo struct {
	mu          sync.Mutex
	templates   map[int]*model.Template
	attachments map[int][]model.Attachment
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{templates: map[int]*model.Template{}, attachments: map[int][]model.Attachment{}}
}

func (f *fakeTemplateRepo) setTemplate(t model.Template) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := t
	f.templates[t.ID] = &clone
}

func (f *fakeTemplateRepo) GetByID(id int) (*model.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	clone := *t
	return &clone, nil
}

func (f *fakeTemplateRepo) ListAttachments(templateID int) ([]model.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Attachment{}, f.attachments[templateID]...), nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []model.RecipientEvent
}

func (f *fakeEventRepo) Append(ev *model.RecipientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = len(f.events) + 1
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeEventRepo) ListByRecipient(recipientID int) ([]model.RecipientEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.RecipientEvent{}
	for _, ev := range f.events {
		if ev.RecipientID == recipientID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) typesFor(recipientID int) []model.EventType {
	events, _ := f.ListByRecipient(recipientID)
	types := []model.EventType{}
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	return types
}

var (
	_ repository.BroadcastRepositoryInterface = (*fakeBroadcastRepo)(nil)
	_ repository.RecipientRepositoryInterface = (*fakeRecipientRepo)(nil)
	_ repository.ContactRepositoryInterface   = (*fakeContactRepo)(nil)
	_ repository.TemplateRepositoryInterface  = (*fakeTemplateRepo)(nil)
	_ repository.EventRepositoryInterface     = (*fakeEventRepo)(nil)
)
