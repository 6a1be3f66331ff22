package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/question"
	"github.com/quotelane/quotecore/internal/repository"
	"github.com/quotelane/quotecore/internal/transport"
)

// maxConcurrentQuotes bounds the carrier fan-out per request.
const maxConcurrentQuotes = 8

// QuestionResolver resolves the applicable question set for one
// resolution request.
type QuestionResolver interface {
	Resolve(ctx context.Context, req question.Request) ([]domain.Question, error)
}

// QuestionCodeStore maps resolved questions to insurer identifiers.
type QuestionCodeStore interface {
	InsurerQuestionCodes(ctx context.Context, insurerID int64, questionIDs []int64, effectiveDate time.Time) (map[int64]string, error)
}

// CarrierStore serves insurer configuration and carrier code mappings.
type CarrierStore interface {
	Insurer(ctx context.Context, insurerID int64) (integration.InsurerConfig, error)
	AgencyLocation(ctx context.Context, agencyID string, insurerID int64) (integration.AgencyLocation, error)
	ActivityCodeMap(ctx context.Context, insurerID int64, territories []string, activityCodeIDs []int64) (map[integration.ActivityCodeKey]string, error)
	IndustryCode(ctx context.Context, insurerID, industryCode int64) (string, error)
}

// QuoteStore persists classified quote results.
type QuoteStore interface {
	Save(ctx context.Context, res *integration.QuoteResult) error
	GetByID(ctx context.Context, id string) (*repository.StoredQuote, error)
	ListByApplication(ctx context.Context, applicationID string) ([]*repository.StoredQuote, error)
	MarkBound(ctx context.Context, quoteID string, bind *integration.BindResult, transcript string) error
	AppendTranscript(ctx context.Context, quoteID, transcript string) error
}

// Publisher broadcasts quote lifecycle events.
type Publisher interface {
	PublishQuoteResult(ctx context.Context, res *integration.QuoteResult)
	PublishBindResult(ctx context.Context, quoteID string, bind *integration.BindResult)
}

// QuoteService orchestrates quoting an application across carriers: it
// resolves questions and mappings, assembles each adapter's Env, fans
// out invocations, and persists every classified result.
type QuoteService struct {
	registry *integration.Registry
	resolver QuestionResolver
	codes    QuestionCodeStore
	carriers CarrierStore
	quotes   QuoteStore
	events   Publisher
	http     *transport.Client
	log      zerolog.Logger
}

// NewQuoteService creates the quoting orchestrator.
func NewQuoteService(
	registry *integration.Registry,
	resolver QuestionResolver,
	codes QuestionCodeStore,
	carriers CarrierStore,
	quotes QuoteStore,
	events Publisher,
	http *transport.Client,
	log zerolog.Logger,
) *QuoteService {
	return &QuoteService{
		registry: registry,
		resolver: resolver,
		codes:    codes,
		carriers: carriers,
		quotes:   quotes,
		events:   events,
		http:     http,
		log:      log.With().Str("component", "quote_service").Logger(),
	}
}

type invocation struct {
	insurerID int64
	policy    *domain.Policy
}

// Quote runs the application against every registered adapter for its
// policies and the requested insurers. Every invocation yields exactly
// one classified result; a failure in one carrier never cancels the
// others.
func (s *QuoteService) Quote(ctx context.Context, app *domain.Application, insurerIDs []int64) ([]*integration.QuoteResult, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}
	if len(insurerIDs) == 0 {
		return nil, fmt.Errorf("application %s: at least one insurer is required", app.ID)
	}

	var invocations []invocation
	for i := range app.Policies {
		policy := &app.Policies[i]
		for _, insurerID := range insurerIDs {
			if _, ok := s.registry.Resolve(insurerID, policy.Type); !ok {
				s.log.Debug().
					Int64("insurer_id", insurerID).
					Str("policy_type", string(policy.Type)).
					Msg("no adapter registered; skipping pair")
				continue
			}
			invocations = append(invocations, invocation{insurerID: insurerID, policy: policy})
		}
	}
	if len(invocations) == 0 {
		return nil, fmt.Errorf("application %s: no registered integrations for the requested insurers", app.ID)
	}

	results := make([]*integration.QuoteResult, len(invocations))
	// Goroutines always return nil: one carrier's failure is a
	// classified result, never a cancellation of its siblings.
	var g errgroup.Group
	g.SetLimit(maxConcurrentQuotes)
	for i, inv := range invocations {
		g.Go(func() error {
			results[i] = s.quoteOne(ctx, app, inv.policy, inv.insurerID)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if err := s.quotes.Save(ctx, res); err != nil {
			s.log.Error().Err(err).Str("quote_id", res.ID).Msg("failed to persist quote result")
		}
		s.events.PublishQuoteResult(ctx, res)
	}
	return results, nil
}

// quoteOne runs a single adapter invocation end to end. It always
// returns a classified result: env assembly failures and panics become
// error outcomes.
func (s *QuoteService) quoteOne(ctx context.Context, app *domain.Application, policy *domain.Policy, insurerID int64) (res *integration.QuoteResult) {
	res = integration.NewQuoteResult(app, insurerID, policy.Type)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Int64("insurer_id", insurerID).
				Str("application_id", app.ID).
				Msg("adapter panicked")
			res.Errored(fmt.Sprintf("adapter panicked: %v", r))
		}
	}()

	factory, ok := s.registry.Resolve(insurerID, policy.Type)
	if !ok {
		return res.Errored(fmt.Sprintf("no adapter registered for insurer %d policy type %s", insurerID, policy.Type))
	}

	env, err := s.BuildEnv(ctx, app, policy, insurerID)
	if err != nil {
		return res.Errored(fmt.Sprintf("assembling integration environment: %v", err))
	}

	intg, err := factory(env)
	if err != nil {
		return res.Errored(fmt.Sprintf("constructing adapter: %v", err))
	}

	reqs, err := intg.Init(ctx)
	if err != nil {
		return res.Errored(fmt.Sprintf("initializing adapter: %v", err))
	}
	if err := s.loadMappings(ctx, env, reqs, app, insurerID); err != nil {
		return res.Errored(fmt.Sprintf("loading carrier mappings: %v", err))
	}

	return intg.Quote(ctx)
}

// BuildEnv assembles the per-invocation environment: insurer config,
// agency appointment, resolved questions and their insurer codes.
// Exported for the bind pathway, which re-assembles the environment the
// original quote ran under.
func (s *QuoteService) BuildEnv(ctx context.Context, app *domain.Application, policy *domain.Policy, insurerID int64) (*integration.Env, error) {
	insurer, err := s.carriers.Insurer(ctx, insurerID)
	if err != nil {
		return nil, err
	}
	agency, err := s.carriers.AgencyLocation(ctx, app.AgencyID, insurerID)
	if err != nil {
		return nil, err
	}

	questions, err := s.resolveQuestions(ctx, app, policy, insurerID)
	if err != nil {
		return nil, err
	}

	var questionIDs []int64
	for _, qs := range questions {
		for _, q := range qs {
			questionIDs = append(questionIDs, q.ID)
		}
	}
	codes := map[int64]string{}
	if len(questionIDs) > 0 {
		codes, err = s.codes.InsurerQuestionCodes(ctx, insurerID, questionIDs, policy.EffectiveDate)
		if err != nil {
			return nil, err
		}
	}

	return &integration.Env{
		Log: s.log.With().
			Int64("insurer_id", insurerID).
			Str("application_id", app.ID).
			Str("policy_type", string(policy.Type)).
			Logger(),
		HTTP:          s.http,
		App:           app,
		Policy:        policy,
		Insurer:       insurer,
		Agency:        agency,
		Questions:     questions,
		QuestionCodes: codes,
	}, nil
}

// ResolveQuestions resolves the question set an applicant must answer
// for a set of insurers, the union across all the application's
// policies. Exposed for the pre-submission question endpoint.
func (s *QuoteService) ResolveQuestions(ctx context.Context, app *domain.Application, insurerIDs []int64, subjectArea domain.SubjectArea) ([]domain.Question, error) {
	var windows []question.PolicyTypeWindow
	for _, p := range app.Policies {
		windows = append(windows, question.PolicyTypeWindow{Type: p.Type, EffectiveDate: p.EffectiveDate})
	}
	var zips []string
	for _, loc := range app.Locations {
		zips = append(zips, loc.Zip)
	}
	return s.resolver.Resolve(ctx, question.Request{
		ActivityCodes: app.ActivityCodeIDs(),
		IndustryCode:  app.IndustryCode,
		Zips:          zips,
		PolicyTypes:   windows,
		InsurerIDs:    insurerIDs,
		SubjectArea:   subjectArea,
	})
}

// resolveQuestions loads the per-subject-area question sets one adapter
// invocation sees.
func (s *QuoteService) resolveQuestions(ctx context.Context, app *domain.Application, policy *domain.Policy, insurerID int64) (map[domain.SubjectArea][]domain.Question, error) {
	var zips []string
	for _, loc := range app.Locations {
		zips = append(zips, loc.Zip)
	}
	base := question.Request{
		ActivityCodes: app.ActivityCodeIDs(),
		IndustryCode:  app.IndustryCode,
		Zips:          zips,
		PolicyTypes:   []question.PolicyTypeWindow{{Type: policy.Type, EffectiveDate: policy.EffectiveDate}},
		InsurerIDs:    []int64{insurerID},
	}

	out := make(map[domain.SubjectArea][]domain.Question)
	for _, area := range []domain.SubjectArea{domain.SubjectAreaGeneral, domain.SubjectAreaLocation, domain.SubjectAreaLocationBuilding} {
		req := base
		req.SubjectArea = area
		questions, err := s.resolver.Resolve(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("resolving %s questions: %w", area, err)
		}
		if len(questions) > 0 {
			out[area] = questions
		}
	}
	return out, nil
}

// loadMappings satisfies the adapter's declared requirements by loading
// carrier code maps into the Env.
func (s *QuoteService) loadMappings(ctx context.Context, env *integration.Env, reqs integration.Requirements, app *domain.Application, insurerID int64) error {
	if reqs.NeedsActivityCodes {
		codes, err := s.carriers.ActivityCodeMap(ctx, insurerID, app.Territories(), app.ActivityCodeIDs())
		if err != nil {
			return err
		}
		env.ActivityCodes = codes
	}
	if reqs.NeedsIndustryCodes {
		code, err := s.carriers.IndustryCode(ctx, insurerID, app.IndustryCode)
		if err != nil {
			return err
		}
		env.IndustryCode = code
	}
	return nil
}

// PriceCheck runs the cheap price-indication pathway for one insurer
// and policy type. Carriers without an indication call return an error
// here, not a PriceResult.
func (s *QuoteService) PriceCheck(ctx context.Context, app *domain.Application, insurerID int64, policyType domain.PolicyType) (*integration.PriceResult, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}
	policy, ok := app.PolicyOfType(policyType)
	if !ok {
		return nil, fmt.Errorf("application %s has no %s policy", app.ID, policyType)
	}
	factory, ok := s.registry.Resolve(insurerID, policyType)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for insurer %d policy type %s", insurerID, policyType)
	}

	env, err := s.BuildEnv(ctx, app, policy, insurerID)
	if err != nil {
		return nil, err
	}
	intg, err := factory(env)
	if err != nil {
		return nil, err
	}
	reqs, err := intg.Init(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.loadMappings(ctx, env, reqs, app, insurerID); err != nil {
		return nil, err
	}

	indicator, ok := intg.(integration.PriceIndicator)
	if !ok {
		return nil, fmt.Errorf("insurer %d does not support price indications for %s", insurerID, policyType)
	}
	return indicator.Price(ctx), nil
}

// ListQuotes returns the persisted results for an application.
func (s *QuoteService) ListQuotes(ctx context.Context, applicationID string) ([]*repository.StoredQuote, error) {
	return s.quotes.ListByApplication(ctx, applicationID)
}
