package controller

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/config"
	appErrors "github.com/maildrip/maildrip-backend/internal/errors"
	"github.com/maildrip/maildrip-backend/internal/model"
	"github.com/maildrip/maildrip-backend/internal/repository"
	"github.com/maildrip/maildrip-backend/internal/service"
)

// memStore is a single in-memory backend implementing every repository
// interface the controllers reach, so handler tests run against real service
// logic with no database.
type memStore struct {
	broadcasts map[int]*model.Broadcast
	recipients map[int]*model.Recipient
	contacts   map[int]*model.Contact
	groups     map[int][]int
	templates  map[int]*model.Template
	events     []model.RecipientEvent
	nextID     int
}

func newMemStore() *memStore {
	return &memStore{
		broadcasts: map[int]*model.Broadcast{},
		recipients: map[int]*model.Recipient{},
		contacts:   map[int]*model.Contact{},
		groups:     map[int][]int{},
		templates:  map[int]*model.Template{},
		nextID:     1,
	}
}

func (s *memStore) id() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *memStore) Create(b *model.Broadcast) error {
	b.ID = s.id()
	if b.Status == "" {
		b.Status = model.BroadcastDraft
	}
	s.broadcasts[b.ID] = b
	return nil
}

func (s *memStore) GetByID(id int) (*model.Broadcast, error) {
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, appErrors.NewBroadcastNotFound(id)
	}
	return b, nil
}

func (s *memStore) ListBroadcasts(offset, limit int, status string) ([]*model.Broadcast, int, error) {
	all := []*model.Broadcast{}
	for _, b := range s.broadcasts {
		if status == "" || string(b.Status) == status {
			all = append(all, b)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *memStore) ListDispatchable() ([]*model.Broadcast, error) { return nil, nil }

func (s *memStore) UpdateStatus(broadcastID int, from, to model.BroadcastStatus) (bool, error) {
	b, ok := s.broadcasts[broadcastID]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (s *memStore) PromoteToRunning(int, string, string, int, time.Time) (bool, error) {
	return false, nil
}

func (s *memStore) MarkCompleted(int, time.Time) (bool, error) { return false, nil }

func (s *memStore) UpdateStartsAt(broadcastID int, startsAt time.Time, tz string) error {
	if b, ok := s.broadcasts[broadcastID]; ok {
		b.StartsAt = &startsAt
		b.StartsAtTimezone = tz
	}
	return nil
}

func (s *memStore) GetRecipientStats(int) (map[model.RecipientStatus]int, error) {
	return map[model.RecipientStatus]int{}, nil
}

func (s *memStore) EnrollPending(broadcastID, contactID int) (bool, error) {
	rec := &model.Recipient{ID: s.id(), BroadcastID: broadcastID, ContactID: contactID, Status: model.RecipientPending}
	s.recipients[rec.ID] = rec
	return true, nil
}

func (s *memStore) ClaimPending(int, int, time.Time) ([]*model.Recipient, error) { return nil, nil }
func (s *memStore) ReleaseStale(int, time.Time) (int, error)                     { return 0, nil }
func (s *memStore) MarkSent(int, string, time.Time) (bool, error)                { return false, nil }
func (s *memStore) MarkFailed(int, string, time.Time) (bool, error)              { return false, nil }

func (s *memStore) AdvanceFunnel(recipientID int, to model.RecipientStatus, from []model.RecipientStatus, at time.Time) (bool, error) {
	rec, ok := s.recipients[recipientID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if rec.Status == f {
			rec.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ResetForRequeue(broadcastID int, statuses []model.RecipientStatus) (int, error) {
	n := 0
	for _, rec := range s.recipients {
		if rec.BroadcastID != broadcastID {
			continue
		}
		for _, st := range statuses {
			if rec.Status == st {
				rec.Status = model.RecipientPending
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *memStore) GetRecipientByID(id int) (*model.Recipient, error) { return s.recipients[id], nil }

func (s *memStore) GetByProviderMessageID(pmid string) (*model.Recipient, error) {
	for _, rec := range s.recipients {
		if rec.ProviderMessageID == pmid {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *memStore) CountOutstanding(int) (int, error) { return 0, nil }

func (s *memStore) GetContactByID(id int) (*model.Contact, error) { return s.contacts[id], nil }

func (s *memStore) ListActiveContacts(groupID int) ([]model.Contact, error) {
	out := []model.Contact{}
	for _, id := range s.groups[groupID] {
		if c := s.contacts[id]; c != nil && !c.IsUnsubscribed && !c.IsInvalid {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) GroupExists(groupID int) (bool, error) {
	_, ok := s.groups[groupID]
	return ok, nil
}

func (s *memStore) Unsubscribe(contactID int) error {
	if c, ok := s.contacts[contactID]; ok {
		c.IsUnsubscribed = true
	}
	return nil
}

func (s *memStore) GetTemplateByID(id int) (*model.Template, error) {
	t, ok := s.templates[id]
	if !ok {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	return t, nil
}

func (s *memStore) ListAttachments(int) ([]model.Attachment, error) { return nil, nil }

func (s *memStore) Append(ev *model.RecipientEvent) error {
	ev.ID = len(s.events) + 1
	s.events = append(s.events, *ev)
	return nil
}

func (s *memStore) ListByRecipient(recipientID int) ([]model.RecipientEvent, error) {
	out := []model.RecipientEvent{}
	for _, ev := range s.events {
		if ev.RecipientID == recipientID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// The three GetByID variants collide on one struct, so thin adapters give
// each repository interface its own method set.
type recipientView struct{ *memStore }

func (v recipientView) GetByID(id int) (*model.Recipient, error) { return v.GetRecipientByID(id) }

type contactView struct{ *memStore }

func (v contactView) GetByID(id int) (*model.Contact, error) { return v.GetContactByID(id) }

type templateView struct{ *memStore }

func (v templateView) GetByID(id int) (*model.Template, error) { return v.GetTemplateByID(id) }

var (
	_ repository.BroadcastRepositoryInterface = (*memStore)(nil)
	_ repository.RecipientRepositoryInterface = recipientView{}
	_ repository.ContactRepositoryInterface   = contactView{}
	_ repository.TemplateRepositoryInterface  = templateView{}
	_ repository.EventRepositoryInterface     = (*memStore)(nil)
)

func testConfig() *config.Config {
	return &config.Config{
		UnsubscribeBaseURL: "http://localhost:8080/unsubscribe",
		UnsubscribeSecret:  "test-secret",
	}
}

// newTestServer wires the controllers over a memStore exactly as
// cmd/server does over the real repositories.
func newTestServer(store *memStore) *httptest.Server {
	cfg := testConfig()
	log := zerolog.Nop()

	broadcastService := &service.BroadcastService{
		BroadcastRepo: store,
		RecipientRepo: recipientView{store},
		ContactRepo:   contactView{store},
		TemplateRepo:  templateView{store},
		Config:        cfg,
		Log:           log,
	}
	reconciler := service.NewReconciler(recipientView{store}, contactView{store}, store, log)

	broadcastController := &BroadcastController{
		BroadcastService: broadcastService,
		BroadcastRepo:    store,
		Log:              log,
	}
	webhookController := &WebhookController{
		Reconciler:  reconciler,
		ContactRepo: contactView{store},
		Config:      cfg,
		Log:         log,
	}

	r := chi.NewRouter()
	r.Route("/broadcasts", func(r chi.Router) {
		r.Post("/", broadcastController.CreateBroadcast)
		r.Get("/", broadcastController.ListBroadcasts)
		r.Post("/{id}/start", broadcastController.StartBroadcast)
		r.Post("/{id}/pause", broadcastController.PauseBroadcast)
		r.Post("/{id}/resume", broadcastController.ResumeBroadcast)
		r.Post("/{id}/cancel", broadcastController.CancelBroadcast)
		r.Post("/{id}/requeue", broadcastController.RequeueBroadcast)
	})
	r.Post("/webhooks/email", webhookController.HandleProviderWebhook)
	r.Get("/unsubscribe", webhookController.HandleUnsubscribe)

	return httptest.NewServer(r)
}

func do(ts *httptest.Server, method, path, body string) (*http.Response, error) {
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, ts.URL+path, nil)
	} else {
		req, err = http.NewRequest(method, ts.URL+path, strings.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}
