package mailer

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/maildrip/maildrip-backend/internal/model"
)

// Message is one fully-rendered outbound email.
type Message struct {
	To          string
	FromName    string
	FromEmail   string
	ReplyTo     string
	Subject     string
	HTMLContent string
	Headers     map[string]string
	Attachments []model.Attachment
}

// Transport delivers a single message and returns the provider's message
// id, which webhooks later use for correlation.
type Transport interface {
	Send(ctx context.Context, msg *Message) (providerMessageID string, err error)
}

// Paced wraps a Transport with a provider-level requests/second cap. This
// protects the provider account across all broadcasts; it is unrelated to
// each broadcast's per-minute dispatch quota.
type Paced struct {
	inner   Transport
	limiter *rate.Limiter
}

func NewPaced(inner Transport, perSecond int) *Paced {
	return &Paced{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (p *Paced) Send(ctx context.Context, msg *Message) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return p.inner.Send(ctx, msg)
}

var (
	_ Transport = (*Paced)(nil)
	_ Transport = (*SESTransport)(nil)
	_ Transport = (*MockTransport)(nil)
)
