package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/quotelane/quotecore/internal/integration"
)

// EventPublisher publishes quote lifecycle events to NATS for
// consumption by downstream services (notifications, analytics).
//
// Subject convention: quotecore.quotes.<outcome> and
// quotecore.quotes.bound.
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so event delivery failures never interrupt quoting.
type EventPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// QuoteEvent is the JSON schema published for quote results.
type QuoteEvent struct {
	QuoteID       string   `json:"quote_id"`
	ApplicationID string   `json:"application_id"`
	InsurerID     int64    `json:"insurer_id"`
	PolicyType    string   `json:"policy_type"`
	Outcome       string   `json:"outcome"`
	Premium       *int64   `json:"premium,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
	OccurredAt    string   `json:"occurred_at"`
}

// BindEvent is the JSON schema published when a quote is bound.
type BindEvent struct {
	QuoteID      string `json:"quote_id"`
	PolicyID     string `json:"policy_id"`
	PolicyNumber string `json:"policy_number"`
	Premium      int64  `json:"premium"`
	OccurredAt   string `json:"occurred_at"`
}

// NewEventPublisher creates a publisher backed by the given NATS
// connection. nc may be nil, in which case publishing is a no-op.
func NewEventPublisher(nc *nats.Conn, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{nc: nc, log: log.With().Str("component", "event_publisher").Logger()}
}

// PublishQuoteResult publishes one classified quote result.
func (p *EventPublisher) PublishQuoteResult(ctx context.Context, res *integration.QuoteResult) {
	if p.nc == nil {
		return
	}

	event := QuoteEvent{
		QuoteID:       res.ID,
		ApplicationID: res.ApplicationID,
		InsurerID:     res.InsurerID,
		PolicyType:    string(res.PolicyType),
		Outcome:       string(res.Outcome),
		Premium:       res.Premium,
		Reasons:       res.Reasons,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("quote_id", res.ID).Msg("failed to marshal quote event")
		return
	}

	subject := fmt.Sprintf("quotecore.quotes.%s", res.Outcome)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("quote_id", res.ID).
			Msg("failed to publish quote event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("quote_id", res.ID).
		Msg("quote event published")
}

// PublishBindResult publishes a successful bind. Rejected or failed
// binds are not broadcast.
func (p *EventPublisher) PublishBindResult(ctx context.Context, quoteID string, bind *integration.BindResult) {
	if p.nc == nil || bind.Status != integration.BindSuccess {
		return
	}

	event := BindEvent{
		QuoteID:      quoteID,
		PolicyID:     bind.PolicyID,
		PolicyNumber: bind.PolicyNumber,
		Premium:      bind.Premium,
		OccurredAt:   time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("quote_id", quoteID).Msg("failed to marshal bind event")
		return
	}

	if err := p.nc.Publish("quotecore.quotes.bound", data); err != nil {
		p.log.Warn().Err(err).
			Str("quote_id", quoteID).
			Msg("failed to publish bind event (non-fatal)")
		return
	}
}
