// Package everest integrates Everest National's workers' compensation
// quoting API (JSON REST with OAuth client-credentials auth).
package everest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/transport"
)

const (
	productionURL = "https://api.everestquote.com/v2"
	sandboxURL    = "https://sandbox.everestquote.com/v2"
)

// entityTypes maps the canonical vocabulary onto Everest's enumeration.
// Absent types (Association, Other) are out of appetite.
var entityTypes = integration.EntityMap{
	domain.EntityCorporation:        "CORP",
	domain.EntityLLC:                "LLC",
	domain.EntityPartnership:        "PART",
	domain.EntitySoleProprietorship: "SOLEPRP",
	domain.EntityNonProfit:          "NONPROFIT",
}

// limitTiers are Everest's supported employer-liability tiers, cheapest
// first.
var limitTiers = []string{
	"100000/500000/100000",
	"500000/500000/500000",
	"1000000/1000000/1000000",
	"2000000/2000000/2000000",
}

// stateLimitFloors are state-mandated minimums applied to the requested
// limits before tier selection.
var stateLimitFloors = map[string][]int64{
	"CA": {1000000, 1000000, 1000000},
	"OR": {500000, 500000, 500000},
}

// maxClaimsInThreeYears is Everest's loss-history appetite cutoff.
const maxClaimsInThreeYears = 5

// Adapter quotes one application against Everest. One adapter instance
// corresponds to one quote attempt.
type Adapter struct {
	env    *integration.Env
	req    integration.Requirements
	tokens *transport.TokenSource
	base   string
}

// Factory returns the registry factory, sharing the token cache across
// invocations so concurrent quotes for one agency reuse tokens.
func Factory(tokens *transport.TokenCache) integration.Factory {
	return func(env *integration.Env) (integration.Integration, error) {
		if env.Policy == nil || env.Policy.Type != domain.PolicyTypeWC {
			return nil, fmt.Errorf("everest: only WC policies are supported")
		}
		base := productionURL
		if env.Insurer.Sandbox {
			base = sandboxURL
		}
		a := &Adapter{
			env: env,
			req: integration.Requirements{
				NeedsActivityCodes: true,
				// A class code Everest has no mapping for is an appetite
				// fact, not a pipeline fault.
				MissingMappingOutcome: integration.OutcomeAutodeclined,
			},
			base: base,
		}
		key := fmt.Sprintf("everest:%s:%s", env.Insurer.Credentials.ClientID, env.Agency.AgencyCode)
		a.tokens = tokens.Source(key, a.fetchToken)
		return a, nil
	}
}

// Init declares Everest's mapping requirements.
func (a *Adapter) Init(ctx context.Context) (integration.Requirements, error) {
	return a.req, nil
}

// Quote submits a full quote request and classifies the response.
func (a *Adapter) Quote(ctx context.Context) *integration.QuoteResult {
	env := a.env
	res := integration.NewQuoteResult(env.App, env.Insurer.ID, domain.PolicyTypeWC)

	if terminal := env.Preflight(res); terminal != nil {
		return terminal
	}

	entityCode, ok := entityTypes.Code(env.App.Business.EntityType)
	if !ok {
		return res.Autodecline(fmt.Sprintf("entity type %q is not supported by Everest", env.App.Business.EntityType))
	}

	limits, ok := a.bestLimits()
	if !ok {
		return res.Autodecline(fmt.Sprintf("requested limits %s exceed Everest's supported tiers", env.Policy.Limits))
	}

	years := domain.ClaimsToPolicyYears(env.App.Claims, env.Policy.EffectiveDate, 3)
	totalClaims := 0
	for _, y := range years {
		totalClaims += y.Count
	}
	if totalClaims > maxClaimsInThreeYears {
		return res.Autodecline(fmt.Sprintf("%d claims in the last 3 years exceeds Everest's appetite", totalClaims))
	}

	payload, terminal := a.buildQuoteRequest(res, entityCode, limits, years)
	if terminal != nil {
		return terminal
	}
	if err := validatePayload(payload); err != nil {
		// Shape drift between our builder and Everest's schema is our
		// defect, caught before the wire.
		return res.Errored(fmt.Sprintf("quote payload failed schema validation: %v", err))
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		res.Transcript.Note("token acquisition failed: %v", err)
		return res.Errored(fmt.Sprintf("Everest auth failed: %v", err))
	}

	res.Transcript.Request("quote submit", mustJSON(payload))
	var reply quoteResponse
	resp, err := env.HTTP.PostJSON(ctx, transport.Request{
		URL:         a.base + "/quotes",
		BearerToken: token,
	}, payload, &reply)
	if err != nil {
		res.Transcript.Note("quote call failed: %v", err)
		env.Log.Error().Err(err).Str("application_id", env.App.ID).Msg("everest quote transport failure")
		return res.Errored(fmt.Sprintf("Everest quote call failed: %v", err))
	}
	res.Transcript.Response("quote submit", transport.Truncate(resp.Body, 20000))

	return a.classify(ctx, res, resp, &reply, token)
}

// classify maps Everest's response onto the shared outcome vocabulary.
func (a *Adapter) classify(ctx context.Context, res *integration.QuoteResult, resp *transport.Response, reply *quoteResponse, token string) *integration.QuoteResult {
	if !resp.OK() {
		// 422 carries underwriting declines; anything else is a system
		// fault on one side or the other.
		if resp.StatusCode == http.StatusUnprocessableEntity {
			var declined quoteResponse
			if err := json.Unmarshal(resp.Body, &declined); err == nil {
				return res.Decline(declined.Errors...)
			}
			return res.Decline()
		}
		return res.Errored(fmt.Sprintf("Everest returned HTTP %d", resp.StatusCode))
	}

	for coverage, amount := range reply.Limits {
		if res.Limits == nil {
			res.Limits = make(map[string]int64)
		}
		res.Limits[coverage] = amount
	}
	res.DeepLink = reply.PortalURL

	switch reply.Status {
	case "QUOTED":
		res.Quoted(reply.Premium, reply.QuoteID)
		a.fetchQuoteLetter(ctx, res, reply.QuoteID, token)
		return res
	case "REFERRED":
		if reply.Premium > 0 {
			premium := reply.Premium
			return res.Refer(&premium, reply.Reasons...)
		}
		return res.Refer(nil, reply.Reasons...)
	case "DECLINED":
		return res.Decline(reply.Reasons...)
	}
	return res.Errored(fmt.Sprintf("Everest returned unknown quote status %q", reply.Status))
}

// fetchQuoteLetter retrieves the quote document. Failures degrade: the
// quote stands without its letter.
func (a *Adapter) fetchQuoteLetter(ctx context.Context, res *integration.QuoteResult, quoteID, token string) {
	var letter letterResponse
	resp, err := a.env.HTTP.GetJSON(ctx, transport.Request{
		URL:         fmt.Sprintf("%s/quotes/%s/letter", a.base, quoteID),
		BearerToken: token,
	}, &letter)
	if err != nil || !resp.OK() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		a.env.Log.Warn().Err(err).Int("status", status).Str("quote_id", quoteID).
			Msg("everest quote letter unavailable; continuing without document")
		res.Transcript.Note("quote letter retrieval failed; quote returned without document")
		return
	}
	data, err := letter.Decode()
	if err != nil {
		a.env.Log.Warn().Err(err).Str("quote_id", quoteID).Msg("everest quote letter corrupt")
		return
	}
	res.Letter = &integration.QuoteLetter{Data: data, MIMEType: letter.MIMEType}
}

// Price runs Everest's price-indication call, a partial submission that
// skips questions and documents.
func (a *Adapter) Price(ctx context.Context) *integration.PriceResult {
	env := a.env
	out := &integration.PriceResult{}

	entityCode, ok := entityTypes.Code(env.App.Business.EntityType)
	if !ok {
		out.OutOfAppetite = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("entity type %q is not supported by Everest", env.App.Business.EntityType))
		return out
	}
	if _, ok := a.bestLimits(); !ok {
		out.OutOfAppetite = true
		out.Reasons = append(out.Reasons, "requested limits exceed Everest's supported tiers")
		return out
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		out.PricingError = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("Everest auth failed: %v", err))
		return out
	}

	payload := priceRequest{
		AgencyCode:   env.Agency.AgencyCode,
		EntityType:   entityCode,
		State:        env.App.Business.MailingState,
		TotalPayroll: env.App.TotalPayroll(),
		EffectiveOn:  env.Policy.EffectiveDate.Format("2006-01-02"),
	}

	var reply priceResponse
	resp, err := env.HTTP.PostJSON(ctx, transport.Request{
		URL:         a.base + "/price-indications",
		BearerToken: token,
	}, payload, &reply)
	if err != nil {
		out.PricingError = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("Everest pricing call failed: %v", err))
		return out
	}

	switch {
	case resp.OK() && reply.Eligible:
		out.GotPricing = true
		out.Price = reply.Price
	case resp.OK():
		out.OutOfAppetite = true
		out.Reasons = append(out.Reasons, reply.Reasons...)
	default:
		out.PricingError = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("Everest returned HTTP %d", resp.StatusCode))
	}
	return out
}

// Bind converts a quoted result into a policy against Everest's quote
// reference.
func (a *Adapter) Bind(ctx context.Context, quote *integration.QuoteResult) *integration.BindResult {
	out := &integration.BindResult{}
	if quote.QuoteNumber == "" {
		out.Status = integration.BindError
		out.Reasons = append(out.Reasons, "quote has no carrier reference number")
		return out
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		out.Status = integration.BindError
		out.Reasons = append(out.Reasons, fmt.Sprintf("Everest auth failed: %v", err))
		return out
	}

	payload := bindRequest{
		QuoteID:     quote.QuoteNumber,
		AgencyCode:  a.env.Agency.AgencyCode,
		AgentCode:   a.env.Agency.AgentCode,
		EffectiveOn: a.env.Policy.EffectiveDate.Format("2006-01-02"),
	}

	quote.Transcript.Request("bind submit", mustJSON(payload))
	var reply bindResponse
	resp, err := a.env.HTTP.PostJSON(ctx, transport.Request{
		URL:         fmt.Sprintf("%s/quotes/%s/bind", a.base, quote.QuoteNumber),
		BearerToken: token,
	}, payload, &reply)
	if err != nil {
		quote.Transcript.Note("bind call failed: %v", err)
		out.Status = integration.BindError
		out.Reasons = append(out.Reasons, fmt.Sprintf("Everest bind call failed: %v", err))
		return out
	}
	quote.Transcript.Response("bind submit", transport.Truncate(resp.Body, 20000))

	switch {
	case resp.OK() && reply.Status == "BOUND":
		out.Status = integration.BindSuccess
		out.PolicyID = reply.PolicyID
		out.PolicyNumber = reply.PolicyNumber
		out.Premium = reply.Premium
		if d, err := time.Parse("2006-01-02", reply.EffectiveOn); err == nil {
			out.EffectiveDate = d
		} else {
			out.EffectiveDate = a.env.Policy.EffectiveDate
		}
	case resp.OK() || resp.StatusCode == http.StatusUnprocessableEntity:
		out.Status = integration.BindRejected
		out.Reasons = append(out.Reasons, reply.Reasons...)
		if len(out.Reasons) == 0 {
			out.Reasons = append(out.Reasons, "bind rejected by Everest")
		}
	default:
		out.Status = integration.BindError
		out.Reasons = append(out.Reasons, fmt.Sprintf("Everest returned HTTP %d", resp.StatusCode))
	}
	return out
}

// bestLimits applies state floors to the requested limits, then selects
// Everest's tier.
func (a *Adapter) bestLimits() ([]string, bool) {
	requested, err := domain.ParseLimits(a.env.Policy.Limits)
	if err != nil {
		return nil, false
	}
	for _, territory := range a.env.App.Territories() {
		floors, ok := stateLimitFloors[territory]
		if !ok {
			continue
		}
		for i := range requested {
			if i < len(floors) && requested[i] < floors[i] {
				requested[i] = floors[i]
			}
		}
	}
	return integration.BestLimits(requested, limitTiers)
}

// buildQuoteRequest assembles the typed payload. A missing class-code
// mapping terminates with the adapter's declared classification.
func (a *Adapter) buildQuoteRequest(res *integration.QuoteResult, entityCode string, limits []string, years []domain.PolicyYear) (*quoteRequest, *integration.QuoteResult) {
	env := a.env

	payload := &quoteRequest{
		AgencyCode:  env.Agency.AgencyCode,
		AgentCode:   env.Agency.AgentCode,
		EffectiveOn: env.Policy.EffectiveDate.Format("2006-01-02"),
		Limits:      limits,
		Business: businessInfo{
			Name:            env.App.Business.Name,
			FEIN:            env.App.Business.EIN,
			EntityType:      entityCode,
			YearsInBusiness: yearsSince(env.App.Business.FoundedDate),
		},
	}
	if env.App.Business.DBA != nil {
		payload.Business.DBA = *env.App.Business.DBA
	}

	for _, loc := range env.App.Locations {
		li := locationInfo{
			Address: loc.Address,
			City:    loc.City,
			State:   loc.State,
			Zip:     loc.Zip,
		}
		for _, ac := range loc.ActivityCodes {
			code, ok := env.ActivityCode(loc.State, ac.ActivityCodeID)
			if !ok {
				return nil, a.req.ClassifyMissingMapping(res,
					fmt.Sprintf("activity code %d in %s", ac.ActivityCodeID, loc.State))
			}
			li.ClassCodes = append(li.ClassCodes, classCodeInfo{
				Code:     code,
				Payroll:  ac.Payroll,
				FullTime: ac.FullTimeEmployees,
				PartTime: ac.PartTimeEmployees,
			})
		}
		payload.Locations = append(payload.Locations, li)
	}

	for _, y := range years {
		payload.LossHistory = append(payload.LossHistory, lossYearInfo{
			Year:     y.Year,
			Claims:   y.Count,
			Paid:     y.AmountPaid,
			Reserved: y.AmountReserved,
			LostTime: y.MissedWork,
		})
	}

	for _, q := range env.Questions[domain.SubjectAreaGeneral] {
		if !integration.QuestionApplies(q, env.App.Answers) {
			continue
		}
		answer, err := integration.DetermineAnswer(q, env.App.Answers)
		if err != nil {
			if errors.Is(err, integration.ErrAnswerUndetermined) {
				env.Log.Debug().Int64("question_id", q.ID).Msg("skipping question with undetermined answer")
				continue
			}
			return nil, res.Errored(fmt.Sprintf("resolving answer for question %d: %v", q.ID, err))
		}
		code, ok := env.QuestionCodes[q.ID]
		if !ok {
			continue
		}
		payload.Questions = append(payload.Questions, questionInfo{Code: code, Answer: answer})
	}

	return payload, nil
}

// fetchToken acquires an OAuth client-credentials token.
func (a *Adapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var reply tokenResponse
	resp, err := a.env.HTTP.PostJSON(ctx, transport.Request{
		URL: a.base + "/oauth/token",
		BasicAuth: &transport.BasicAuth{
			Username: a.env.Insurer.Credentials.ClientID,
			Password: a.env.Insurer.Credentials.ClientSecret,
		},
	}, tokenRequest{GrantType: "client_credentials"}, &reply)
	if err != nil {
		return "", 0, err
	}
	if !resp.OK() || reply.AccessToken == "" {
		return "", 0, fmt.Errorf("everest token endpoint returned HTTP %d", resp.StatusCode)
	}
	return reply.AccessToken, time.Duration(reply.ExpiresIn) * time.Second, nil
}

func yearsSince(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	years := int(time.Since(t).Hours() / 24 / 365)
	if years < 0 {
		return 0
	}
	return years
}
