// Package victory integrates Victory Specialty's general liability
// quoting API, a form-encoded endpoint with API-key auth that answers
// in JSON.
package victory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/transport"
)

const (
	productionURL = "https://api.victoryspecialty.com/gl/v1"
	sandboxURL    = "https://uat.victoryspecialty.com/gl/v1"
)

var entityTypes = integration.EntityMap{
	domain.EntityCorporation:        "corporation",
	domain.EntityLLC:                "llc",
	domain.EntityPartnership:        "partnership",
	domain.EntitySoleProprietorship: "individual",
}

// limitTiers are Victory's occurrence/aggregate GL tiers.
var limitTiers = []string{
	"300000/600000",
	"500000/1000000",
	"1000000/2000000",
}

// Adapter quotes one application against Victory.
type Adapter struct {
	env  *integration.Env
	req  integration.Requirements
	base string
}

// Factory returns the registry factory for Victory GL.
func Factory() integration.Factory {
	return func(env *integration.Env) (integration.Integration, error) {
		if env.Policy == nil || env.Policy.Type != domain.PolicyTypeGL {
			return nil, fmt.Errorf("victory: only GL policies are supported")
		}
		base := productionURL
		if env.Insurer.Sandbox {
			base = sandboxURL
		}
		return &Adapter{
			env: env,
			req: integration.Requirements{
				NeedsIndustryCodes: true,
				// Victory writes a narrow program; an unmapped industry
				// is an appetite fact.
				MissingMappingOutcome: integration.OutcomeAutodeclined,
			},
			base: base,
		}, nil
	}
}

// Init declares Victory's mapping requirements.
func (a *Adapter) Init(ctx context.Context) (integration.Requirements, error) {
	return a.req, nil
}

// Quote submits the form-encoded quote request and classifies the JSON
// reply.
func (a *Adapter) Quote(ctx context.Context) *integration.QuoteResult {
	env := a.env
	res := integration.NewQuoteResult(env.App, env.Insurer.ID, domain.PolicyTypeGL)

	if terminal := env.Preflight(res); terminal != nil {
		return terminal
	}

	form, terminal := a.buildForm(res, true)
	if terminal != nil {
		return terminal
	}

	res.Transcript.Request("GL quote", form.Encode())
	resp, err := env.HTTP.PostForm(ctx, a.request("/quotes"), form)
	if err != nil {
		res.Transcript.Note("quote call failed: %v", err)
		env.Log.Error().Err(err).Str("application_id", env.App.ID).Msg("victory quote transport failure")
		return res.Errored(fmt.Sprintf("Victory quote call failed: %v", err))
	}
	res.Transcript.Response("GL quote", transport.Truncate(resp.Body, 20000))

	if !resp.OK() {
		return res.Errored(fmt.Sprintf("Victory returned HTTP %d", resp.StatusCode))
	}

	var reply quoteResponse
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return res.Errored(fmt.Sprintf("Victory returned unparseable response: %v", err))
	}

	switch reply.Result {
	case "quote":
		res.Quoted(reply.Premium, reply.QuoteNumber)
		res.DeepLink = reply.PortalURL
		return res
	case "refer":
		if reply.Premium > 0 {
			premium := reply.Premium
			return res.Refer(&premium, reply.Reasons...)
		}
		return res.Refer(nil, reply.Reasons...)
	case "decline":
		return res.Decline(reply.Reasons...)
	}
	return res.Errored(fmt.Sprintf("Victory returned unknown result %q", reply.Result))
}

// Price runs the indication call: the same form without questions,
// against the pricing endpoint.
func (a *Adapter) Price(ctx context.Context) *integration.PriceResult {
	env := a.env
	out := &integration.PriceResult{}

	if _, ok := entityTypes.Code(env.App.Business.EntityType); !ok {
		out.OutOfAppetite = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("entity type %q is not supported by Victory", env.App.Business.EntityType))
		return out
	}
	if env.IndustryCode == "" {
		out.OutOfAppetite = true
		out.Reasons = append(out.Reasons, "industry is outside Victory's program")
		return out
	}

	dummy := integration.NewQuoteResult(env.App, env.Insurer.ID, domain.PolicyTypeGL)
	form, terminal := a.buildForm(dummy, false)
	if terminal != nil {
		out.OutOfAppetite = true
		out.Reasons = append(out.Reasons, terminal.Reasons...)
		return out
	}

	resp, err := env.HTTP.PostForm(ctx, a.request("/indications"), form)
	if err != nil {
		out.PricingError = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("Victory pricing call failed: %v", err))
		return out
	}
	if !resp.OK() {
		out.PricingError = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("Victory returned HTTP %d", resp.StatusCode))
		return out
	}

	var reply indicationResponse
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		out.PricingError = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("Victory returned unparseable response: %v", err))
		return out
	}

	if reply.InAppetite {
		out.GotPricing = true
		out.Price = reply.Indication
	} else {
		out.OutOfAppetite = true
		out.Reasons = append(out.Reasons, reply.Reasons...)
	}
	return out
}

func (a *Adapter) request(path string) transport.Request {
	return transport.Request{
		URL: a.base + path,
		Header: http.Header{
			"X-Api-Key": []string{a.env.Insurer.Credentials.APIKey},
		},
	}
}

// buildForm flattens the submission into Victory's form vocabulary.
// Questions are included only on the full quote pathway.
func (a *Adapter) buildForm(res *integration.QuoteResult, withQuestions bool) (url.Values, *integration.QuoteResult) {
	env := a.env

	entityCode, ok := entityTypes.Code(env.App.Business.EntityType)
	if !ok {
		return nil, res.Autodecline(fmt.Sprintf("entity type %q is not supported by Victory", env.App.Business.EntityType))
	}
	limits, ok := integration.BestLimitsString(env.Policy.Limits, limitTiers)
	if !ok {
		return nil, res.Autodecline(fmt.Sprintf("requested limits %s exceed Victory's supported tiers", env.Policy.Limits))
	}
	if env.IndustryCode == "" {
		return nil, a.req.ClassifyMissingMapping(res,
			fmt.Sprintf("industry code %d for Victory", env.App.IndustryCode))
	}

	form := url.Values{}
	form.Set("agency_code", env.Agency.AgencyCode)
	form.Set("business_name", env.App.Business.Name)
	form.Set("fein", env.App.Business.EIN)
	form.Set("entity_type", entityCode)
	form.Set("industry", env.IndustryCode)
	form.Set("effective_date", env.Policy.EffectiveDate.Format("2006-01-02"))
	form.Set("limit_occurrence", limits[0])
	form.Set("limit_aggregate", limits[1])
	form.Set("total_payroll", strconv.FormatInt(env.App.TotalPayroll(), 10))

	for i, loc := range env.App.Locations {
		prefix := fmt.Sprintf("locations[%d]", i)
		form.Set(prefix+".address", loc.Address)
		form.Set(prefix+".city", loc.City)
		form.Set(prefix+".state", loc.State)
		form.Set(prefix+".zip", loc.Zip)
	}

	if !withQuestions {
		return form, nil
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
		form.Set("questions."+code, answer)
	}

	return form, nil
}

type quoteResponse struct {
	Result      string   `json:"result"`
	QuoteNumber string   `json:"quote_number"`
	Premium     int64    `json:"premium"`
	PortalURL   string   `json:"portal_url"`
	Reasons     []string `json:"reasons"`
}

type indicationResponse struct {
	InAppetite bool     `json:"in_appetite"`
	Indication int64    `json:"indication"`
	Reasons    []string `json:"reasons"`
}
