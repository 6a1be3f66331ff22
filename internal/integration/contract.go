package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/transport"
)

// Credentials are the carrier-relationship secrets, opaque to the
// framework. Which fields a carrier uses is its own business.
type Credentials struct {
	Username     string
	Password     string
	APIKey       string
	ClientID     string
	ClientSecret string
}

// InsurerConfig identifies one carrier relationship.
type InsurerConfig struct {
	ID          int64
	Name        string
	Slug        string
	Sandbox     bool
	Credentials Credentials
}

// AgencyLocation carries the carrier-specific agency/agent identifiers
// the quoting agency holds with one insurer.
type AgencyLocation struct {
	AgencyID   string
	AgencyCode string
	AgentCode  string
}

// ActivityCodeKey addresses a carrier class-code mapping, which is
// territory-specific for most carriers.
type ActivityCodeKey struct {
	Territory      string
	ActivityCodeID int64
}

// Env is everything one adapter invocation needs, assembled by the
// orchestrator and passed in explicitly. Adapters hold no ambient state;
// one Env corresponds to exactly one quote attempt.
type Env struct {
	Log     zerolog.Logger
	HTTP    *transport.Client
	App     *domain.Application
	Policy  *domain.Policy
	Insurer InsurerConfig
	Agency  AgencyLocation

	// Questions are the resolved underwriting questions per subject
	// area, pre-fetched by the orchestrator.
	Questions map[domain.SubjectArea][]domain.Question
	// QuestionCodes maps question ID to the insurer's own question
	// identifier.
	QuestionCodes map[int64]string
	// ActivityCodes maps (territory, activity code) to the carrier's
	// class code. Populated only when the adapter declared
	// NeedsActivityCodes.
	ActivityCodes map[ActivityCodeKey]string
	// IndustryCode is the carrier's code for the application's industry,
	// empty when unmapped.
	IndustryCode string
}

// Requirements is what an adapter declares from Init before quoting.
// MissingMappingOutcome makes the autodecline-versus-error judgment an
// explicit, up-front classification rather than ad hoc per call site:
// carriers where an absent code mapping is an appetite fact declare
// OutcomeAutodeclined, carriers where it indicates a data-pipeline
// defect declare OutcomeError.
type Requirements struct {
	NeedsIndustryCodes    bool
	NeedsActivityCodes    bool
	MissingMappingOutcome Outcome
}

// ClassifyMissingMapping applies the declared classification to a
// missing-mapping condition discovered during quoting.
func (r Requirements) ClassifyMissingMapping(res *QuoteResult, detail string) *QuoteResult {
	if r.MissingMappingOutcome == OutcomeError {
		return res.Errored(fmt.Sprintf("missing carrier mapping: %s", detail))
	}
	return res.Autodecline(fmt.Sprintf("not supported by carrier: %s", detail))
}

// Integration is the contract every carrier adapter implements.
//
// Quote returns a classified result for every input; business outcomes
// (decline, referral, out of appetite) are results, not errors, and
// transport or parse failures must be caught inside the adapter and
// classified as OutcomeError. The orchestrator additionally recovers
// panics at the invocation boundary, so nothing escapes unclassified.
type Integration interface {
	// Init declares the adapter's mapping requirements. The orchestrator
	// satisfies them (pre-loading carrier code maps into the Env) before
	// calling Quote.
	Init(ctx context.Context) (Requirements, error)
	Quote(ctx context.Context) *QuoteResult
}

// PriceIndicator is implemented by adapters whose carrier exposes a
// cheaper price-indication call ahead of a full quote.
type PriceIndicator interface {
	Price(ctx context.Context) *PriceResult
}

// Binder is implemented by adapters whose carrier supports programmatic
// bind. Bind is only invoked against a result with a carrier-assigned
// quote number, and appends its own request/response pairs to the
// quote's transcript incrementally so the log survives partial
// failures.
type Binder interface {
	Bind(ctx context.Context, quote *QuoteResult) *BindResult
}

// Factory builds an adapter bound to one invocation's Env.
type Factory func(env *Env) (Integration, error)

// Preflight runs the shared pre-submission date checks. A non-nil
// return is the terminal result; by the transition rule these resolve
// as autodeclined before any carrier call is attempted.
func (e *Env) Preflight(res *QuoteResult) *QuoteResult {
	now := time.Now()
	if e.Policy.EffectiveDateInPast(now) {
		return res.Autodecline(fmt.Sprintf("policy effective date %s is in the past",
			e.Policy.EffectiveDate.Format("2006-01-02")))
	}
	if e.Policy.EffectiveDateTooFarOut(now) {
		return res.Autodecline(fmt.Sprintf("policy effective date %s is too far in the future",
			e.Policy.EffectiveDate.Format("2006-01-02")))
	}
	return nil
}

// ActivityCode returns the carrier class code for a territory/code
// pair.
func (e *Env) ActivityCode(territory string, activityCodeID int64) (string, bool) {
	code, ok := e.ActivityCodes[ActivityCodeKey{Territory: territory, ActivityCodeID: activityCodeID}]
	return code, ok
}
