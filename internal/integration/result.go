package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/quotelane/quotecore/internal/domain"
)

// Outcome is the closed vocabulary of quote results shared by every
// carrier adapter.
type Outcome string

const (
	// OutcomeQuoted means the carrier priced the risk and it is bindable.
	OutcomeQuoted Outcome = "quoted"
	// OutcomeReferred means the carrier wants underwriter review, no price.
	OutcomeReferred Outcome = "referred"
	// OutcomeReferredWithPrice means review is required but an indicative
	// price came back.
	OutcomeReferredWithPrice Outcome = "referred_with_price"
	// OutcomeDeclined means the carrier rejected the risk.
	OutcomeDeclined Outcome = "declined"
	// OutcomeAutodeclined means our own pre-submission rules rejected the
	// risk before (or without) a carrier round-trip.
	OutcomeAutodeclined Outcome = "autodeclined"
	// OutcomeError means our system or the carrier's malfunctioned. The
	// orchestrator may retry these; it must never retry declines.
	OutcomeError Outcome = "error"
)

// Valid reports whether o is a member of the closed outcome set.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeQuoted, OutcomeReferred, OutcomeReferredWithPrice,
		OutcomeDeclined, OutcomeAutodeclined, OutcomeError:
		return true
	}
	return false
}

// QuoteLetter is a carrier-issued quote document.
type QuoteLetter struct {
	Data     []byte
	MIMEType string
}

// QuoteResult is the classified outcome of one adapter invocation.
type QuoteResult struct {
	ID            string
	ApplicationID string
	InsurerID     int64
	PolicyType    domain.PolicyType
	Outcome       Outcome
	// Premium is in cents; nil when the carrier returned no price.
	Premium *int64
	// Limits maps coverage type to the limit actually quoted, which may
	// differ from the limits requested.
	Limits map[string]int64
	// QuoteNumber is the carrier-assigned reference, required for bind.
	QuoteNumber string
	Letter      *QuoteLetter
	DeepLink    string
	// Reasons holds human-readable referral/decline/error messages.
	Reasons []string
	// Transcript is the request/response audit log for this invocation.
	Transcript *Transcript
	CreatedAt  time.Time
}

// NewQuoteResult creates an empty result bound to one adapter invocation.
func NewQuoteResult(app *domain.Application, insurerID int64, policyType domain.PolicyType) *QuoteResult {
	return &QuoteResult{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		InsurerID:     insurerID,
		PolicyType:    policyType,
		Transcript:    NewTranscript(),
		CreatedAt:     time.Now().UTC(),
	}
}

// Autodecline marks the result autodeclined with the given reason.
// Returns the result for use as a terminal expression in adapters.
func (r *QuoteResult) Autodecline(reason string) *QuoteResult {
	r.Outcome = OutcomeAutodeclined
	r.Reasons = append(r.Reasons, reason)
	return r
}

// Decline marks the result carrier-declined, carrying the carrier's own
// reasons when available.
func (r *QuoteResult) Decline(reasons ...string) *QuoteResult {
	r.Outcome = OutcomeDeclined
	if len(reasons) == 0 {
		reasons = []string{"declined by carrier"}
	}
	r.Reasons = append(r.Reasons, reasons...)
	return r
}

// Refer marks the result referred, with or without an indicative price.
func (r *QuoteResult) Refer(premium *int64, reasons ...string) *QuoteResult {
	if premium != nil {
		r.Outcome = OutcomeReferredWithPrice
		r.Premium = premium
	} else {
		r.Outcome = OutcomeReferred
	}
	r.Reasons = append(r.Reasons, reasons...)
	return r
}

// Quoted marks the result as priced and bindable.
func (r *QuoteResult) Quoted(premium int64, quoteNumber string) *QuoteResult {
	r.Outcome = OutcomeQuoted
	r.Premium = &premium
	r.QuoteNumber = quoteNumber
	return r
}

// Errored marks the result as a system failure. Adapters call this from
// their top-level recovery path so nothing escapes unclassified.
func (r *QuoteResult) Errored(reason string) *QuoteResult {
	r.Outcome = OutcomeError
	r.Reasons = append(r.Reasons, reason)
	return r
}

// PriceResult is the tri-state outcome of the price-indication pathway.
// Exactly one of the three flags is set. This vocabulary is not
// interchangeable with quote outcomes; the orchestrator distinguishes
// them by entry point.
type PriceResult struct {
	GotPricing    bool
	OutOfAppetite bool
	PricingError  bool
	// Price is in cents, populated only when GotPricing is set.
	Price   int64
	Reasons []string
}

// Exclusive reports whether exactly one tri-state flag is set.
func (p *PriceResult) Exclusive() bool {
	n := 0
	for _, f := range []bool{p.GotPricing, p.OutOfAppetite, p.PricingError} {
		if f {
			n++
		}
	}
	return n == 1
}

// BindStatus is the closed vocabulary of bind outcomes.
type BindStatus string

const (
	BindSuccess  BindStatus = "success"
	BindRejected BindStatus = "rejected"
	BindError    BindStatus = "error"
)

// BindResult is the classified outcome of a bind attempt.
type BindResult struct {
	Status        BindStatus
	PolicyID      string
	PolicyNumber  string
	EffectiveDate time.Time
	// Premium is the premium actually bound, in cents. May differ from
	// the quoted premium.
	Premium int64
	Reasons []string
}
