package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
)

// BindService converts quoted results into bound policies through the
// carrier's bind call.
type BindService struct {
	registry *integration.Registry
	quotes   QuoteStore
	events   Publisher
	envs     EnvBuilder
	log      zerolog.Logger
}

// EnvBuilder assembles an adapter Env for one invocation. Implemented
// by QuoteService.
type EnvBuilder interface {
	BuildEnv(ctx context.Context, app *domain.Application, policy *domain.Policy, insurerID int64) (*integration.Env, error)
}

// NewBindService creates the bind orchestrator.
func NewBindService(
	registry *integration.Registry,
	quotes QuoteStore,
	events Publisher,
	envs EnvBuilder,
	log zerolog.Logger,
) *BindService {
	return &BindService{
		registry: registry,
		quotes:   quotes,
		events:   events,
		envs:     envs,
		log:      log.With().Str("component", "bind_service").Logger(),
	}
}

// Bind binds a previously persisted quote. The caller supplies the
// application the quote was produced from; only quoted, unbound results
// with a carrier reference can be bound.
func (s *BindService) Bind(ctx context.Context, app *domain.Application, quoteID string) (*integration.BindResult, error) {
	stored, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if stored.ApplicationID != app.ID {
		return nil, fmt.Errorf("quote %s does not belong to application %s", quoteID, app.ID)
	}
	if stored.Outcome != integration.OutcomeQuoted {
		return nil, fmt.Errorf("quote %s has outcome %s; only quoted results can be bound", quoteID, stored.Outcome)
	}
	if stored.Bound {
		return nil, fmt.Errorf("quote %s is already bound", quoteID)
	}
	if stored.QuoteNumber == "" {
		return nil, fmt.Errorf("quote %s has no carrier reference number", quoteID)
	}

	policy, ok := app.PolicyOfType(stored.PolicyType)
	if !ok {
		return nil, fmt.Errorf("application %s has no %s policy", app.ID, stored.PolicyType)
	}
	factory, ok := s.registry.Resolve(stored.InsurerID, stored.PolicyType)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for insurer %d policy type %s", stored.InsurerID, stored.PolicyType)
	}

	env, err := s.envs.BuildEnv(ctx, app, policy, stored.InsurerID)
	if err != nil {
		return nil, err
	}
	intg, err := factory(env)
	if err != nil {
		return nil, err
	}
	binder, ok := intg.(integration.Binder)
	if !ok {
		return nil, fmt.Errorf("insurer %d does not support programmatic bind for %s", stored.InsurerID, stored.PolicyType)
	}

	// Reconstituted with a fresh transcript; the bind exchange is
	// appended to the stored transcript afterwards.
	quote := &integration.QuoteResult{
		ID:            stored.ID,
		ApplicationID: stored.ApplicationID,
		InsurerID:     stored.InsurerID,
		PolicyType:    stored.PolicyType,
		Outcome:       stored.Outcome,
		Premium:       stored.Premium,
		QuoteNumber:   stored.QuoteNumber,
		Transcript:    integration.NewTranscript(),
	}

	bind := binder.Bind(ctx, quote)

	if bind.Status == integration.BindSuccess {
		if err := s.quotes.MarkBound(ctx, quoteID, bind, quote.Transcript.String()); err != nil {
			// The carrier bound the policy; a persistence fault must not
			// report the bind as failed.
			s.log.Error().Err(err).Str("quote_id", quoteID).Msg("failed to persist bind result")
		}
		s.events.PublishBindResult(ctx, quoteID, bind)
	} else if transcript := quote.Transcript.String(); transcript != "" {
		if err := s.quotes.AppendTranscript(ctx, quoteID, transcript); err != nil {
			s.log.Error().Err(err).Str("quote_id", quoteID).Msg("failed to persist bind transcript")
		}
	}

	s.log.Info().
		Str("quote_id", quoteID).
		Str("status", string(bind.Status)).
		Msg("bind attempt completed")
	return bind, nil
}
