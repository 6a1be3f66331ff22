// Package acuity integrates Acuity's businessowners (BOP) quoting
// service, an ACORD XML endpoint with basic auth.
package acuity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/transport"
)

const (
	productionURL = "https://ws.acuity.com/acord/bop"
	sandboxURL    = "https://ws-stage.acuity.com/acord/bop"
)

// Acuity intermittently answers with a CalloutFailure extended status
// when its rating backend is busy; those calls are retried a bounded
// number of times before the last response is classified.
const retryAttempts = 3

var retryInterval = 2 * time.Second

var entityTypes = integration.EntityMap{
	domain.EntityCorporation:        "CP",
	domain.EntityLLC:                "LL",
	domain.EntityPartnership:        "PT",
	domain.EntitySoleProprietorship: "IN",
	domain.EntityAssociation:        "AS",
	domain.EntityNonProfit:          "NP",
}

// limitTiers are Acuity's liability occurrence/aggregate tiers.
var limitTiers = []string{
	"300000/600000",
	"500000/1000000",
	"1000000/2000000",
	"2000000/4000000",
}

// Adapter quotes one application against Acuity.
type Adapter struct {
	env  *integration.Env
	req  integration.Requirements
	base string
}

// Factory returns the registry factory for Acuity BOP.
func Factory() integration.Factory {
	return func(env *integration.Env) (integration.Integration, error) {
		if env.Policy == nil || env.Policy.Type != domain.PolicyTypeBOP {
			return nil, fmt.Errorf("acuity: only BOP policies are supported")
		}
		base := productionURL
		if env.Insurer.Sandbox {
			base = sandboxURL
		}
		return &Adapter{
			env: env,
			req: integration.Requirements{
				NeedsIndustryCodes: true,
				// Every industry we write is mapped for Acuity up front.
				// An absent mapping means the mapping pipeline broke.
				MissingMappingOutcome: integration.OutcomeError,
			},
			base: base,
		}, nil
	}
}

// Init declares Acuity's mapping requirements.
func (a *Adapter) Init(ctx context.Context) (integration.Requirements, error) {
	return a.req, nil
}

// Quote submits an ACORD BOP quote inquiry and classifies the response.
func (a *Adapter) Quote(ctx context.Context) *integration.QuoteResult {
	env := a.env
	res := integration.NewQuoteResult(env.App, env.Insurer.ID, domain.PolicyTypeBOP)

	if terminal := env.Preflight(res); terminal != nil {
		return terminal
	}

	entityCode, ok := entityTypes.Code(env.App.Business.EntityType)
	if !ok {
		return res.Autodecline(fmt.Sprintf("entity type %q is not supported by Acuity", env.App.Business.EntityType))
	}

	limits, ok := integration.BestLimitsString(env.Policy.Limits, limitTiers)
	if !ok {
		return res.Autodecline(fmt.Sprintf("requested limits %s exceed Acuity's supported tiers", env.Policy.Limits))
	}

	if env.IndustryCode == "" {
		return a.req.ClassifyMissingMapping(res,
			fmt.Sprintf("industry code %d for Acuity", env.App.IndustryCode))
	}

	payload, terminal := a.buildInquiry(res, entityCode, limits)
	if terminal != nil {
		return terminal
	}

	res.Transcript.Request("BOP quote inquiry", mustXML(payload))
	var reply acordResponse
	resp, err := env.HTTP.PostXML(ctx, transport.Request{
		URL: a.base,
		BasicAuth: &transport.BasicAuth{
			Username: env.Insurer.Credentials.Username,
			Password: env.Insurer.Credentials.Password,
		},
		Retry: &transport.RetryPolicy{
			MaxAttempts: retryAttempts,
			Interval:    retryInterval,
			Retryable:   isCalloutFailure,
		},
	}, payload, &reply)
	if err != nil {
		res.Transcript.Note("quote call failed: %v", err)
		env.Log.Error().Err(err).Str("application_id", env.App.ID).Msg("acuity quote transport failure")
		return res.Errored(fmt.Sprintf("Acuity quote call failed: %v", err))
	}
	res.Transcript.Response("BOP quote inquiry", transport.Truncate(resp.Body, 20000))

	return a.classify(res, resp, &reply)
}

// isCalloutFailure matches Acuity's transient rating-backend response.
func isCalloutFailure(resp *transport.Response) bool {
	return resp.StatusCode == http.StatusServiceUnavailable ||
		bytes.Contains(resp.Body, []byte("<ExtendedStatusCd>CalloutFailure</ExtendedStatusCd>"))
}

func (a *Adapter) classify(res *integration.QuoteResult, resp *transport.Response, reply *acordResponse) *integration.QuoteResult {
	if !resp.OK() {
		return res.Errored(fmt.Sprintf("Acuity returned HTTP %d", resp.StatusCode))
	}
	if isCalloutFailure(resp) {
		// Retries exhausted on the transient status.
		return res.Errored("Acuity rating backend unavailable (CalloutFailure)")
	}

	inq := reply.InsuranceSvcRs.BOPPolicyQuoteInqRs
	status := inq.MsgStatus

	switch status.MsgStatusCd {
	case "Rejected":
		reasons := status.ReasonTexts()
		return res.Decline(reasons...)
	case "ResultPending":
		return res.Refer(nil, status.ReasonTexts()...)
	case "Success":
	default:
		return res.Errored(fmt.Sprintf("Acuity returned unknown message status %q", status.MsgStatusCd))
	}

	policy := inq.PolicySummaryInfo
	res.QuoteNumber = policy.PolicyNumber
	if cents := policy.OccurrenceLimit.Cents(); cents > 0 {
		res.Limits = map[string]int64{"liabilityOccurrence": cents}
	}

	switch policy.PolicyStatusCd {
	case "com.acuity_BindableQuote":
		return res.Quoted(policy.FullTermAmt.Cents(), policy.PolicyNumber)
	case "com.acuity_Referred":
		if cents := policy.FullTermAmt.Cents(); cents > 0 {
			return res.Refer(&cents, status.ReasonTexts()...)
		}
		return res.Refer(nil, status.ReasonTexts()...)
	case "com.acuity_Declined":
		return res.Decline(status.ReasonTexts()...)
	}
	return res.Errored(fmt.Sprintf("Acuity returned unknown policy status %q", policy.PolicyStatusCd))
}

// buildInquiry assembles the ACORD request from the application.
func (a *Adapter) buildInquiry(res *integration.QuoteResult, entityCode string, limits []string) (*acordRequest, *integration.QuoteResult) {
	env := a.env
	now := time.Now().UTC()

	req := &acordRequest{
		SignonRq: signonRq{
			ClientDt:        now.Format(time.RFC3339),
			CustLangPref:    "en-US",
			OrgName:         "QuoteLane",
			AgencyID:        env.Agency.AgencyCode,
			ProducerSubCode: env.Agency.AgentCode,
		},
	}

	inq := &req.InsuranceSvcRq.BOPPolicyQuoteInqRq
	inq.TransactionRequestDt = now.Format("2006-01-02")

	insured := &inq.InsuredOrPrincipal
	insured.CommercialName = env.App.Business.Name
	if env.App.Business.DBA != nil {
		insured.SupplementaryName = *env.App.Business.DBA
	}
	insured.FEIN = env.App.Business.EIN
	insured.LegalEntityCd = entityCode
	insured.IndustryCd = env.IndustryCode
	if contact, ok := env.App.PrimaryContact(); ok {
		insured.ContactName = contact.FirstName + " " + contact.LastName
		insured.EmailAddr = contact.Email
		insured.PhoneNumber = contact.Phone
	}

	pol := &inq.BOPPolicy
	pol.ContractTerm.EffectiveDt = env.Policy.EffectiveDate.Format("2006-01-02")
	if !env.Policy.ExpirationDate.IsZero() {
		pol.ContractTerm.ExpirationDt = env.Policy.ExpirationDate.Format("2006-01-02")
	}
	pol.OccurrenceLimit = limits[0]
	pol.AggregateLimit = limits[1]
	pol.DeductibleAmt = fmt.Sprintf("%d", env.Policy.Deductible/100)

	for i, loc := range env.App.Locations {
		location := acordLocation{
			ID:       fmt.Sprintf("L%d", i+1),
			Addr1:    loc.Address,
			City:     loc.City,
			StateCd:  loc.State,
			PostalCd: loc.Zip,
		}
		if loc.Address2 != nil {
			location.Addr2 = *loc.Address2
		}
		if loc.SquareFootage != nil {
			location.AreaOccupied = *loc.SquareFootage
		}
		inq.Locations = append(inq.Locations, location)
	}

	questions, terminal := a.buildQuestions(res)
	if terminal != nil {
		return nil, terminal
	}
	inq.QuestionAnswers = questions

	return req, nil
}

// buildQuestions flattens general and location questions into ACORD
// QuestionAnswer elements.
func (a *Adapter) buildQuestions(res *integration.QuoteResult) ([]acordQuestionAnswer, *integration.QuoteResult) {
	env := a.env
	var out []acordQuestionAnswer

	for _, area := range []domain.SubjectArea{domain.SubjectAreaGeneral, domain.SubjectAreaLocation} {
		for _, q := range env.Questions[area] {
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
			qa := acordQuestionAnswer{QuestionCd: code}
			switch q.Type {
			case domain.QuestionTypeYesNo:
				qa.YesNoCd = yesNoCode(answer)
			default:
				qa.Explanation = answer
			}
			out = append(out, qa)
		}
	}
	return out, nil
}

// yesNoCode translates a resolved answer label into ACORD's YES/NO
// vocabulary.
func yesNoCode(answer string) string {
	switch answer {
	case "Yes", "yes", "Y":
		return "YES"
	case "No", "no", "N":
		return "NO"
	}
	return answer
}
