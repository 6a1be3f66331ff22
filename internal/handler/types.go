package handler

import (
	"fmt"
	"time"

	"github.com/quotelane/quotecore/internal/domain"
)

// Wire shapes for the API. Dates are "2006-01-02" strings; money is in
// cents.

type quoteRequest struct {
	Application applicationPayload `json:"application"`
	InsurerIDs  []int64            `json:"insurer_ids"`
}

type priceRequest struct {
	Application applicationPayload `json:"application"`
	InsurerID   int64              `json:"insurer_id"`
	PolicyType  string             `json:"policy_type"`
}

type questionsRequest struct {
	Application applicationPayload `json:"application"`
	InsurerIDs  []int64            `json:"insurer_ids"`
	SubjectArea string             `json:"subject_area,omitempty"`
}

type bindRequest struct {
	Application applicationPayload `json:"application"`
}

type applicationPayload struct {
	ID           string            `json:"id"`
	AgencyID     string            `json:"agency_id"`
	IndustryCode int64             `json:"industry_code"`
	Business     businessPayload   `json:"business"`
	Locations    []locationPayload `json:"locations"`
	Contacts     []contactPayload  `json:"contacts"`
	Owners       []ownerPayload    `json:"owners,omitempty"`
	Claims       []claimPayload    `json:"claims,omitempty"`
	Policies     []policyPayload   `json:"policies"`
	Answers      []answerPayload   `json:"answers,omitempty"`
}

type businessPayload struct {
	Name         string  `json:"name"`
	DBA          *string `json:"dba,omitempty"`
	EIN          string  `json:"ein"`
	EntityType   string  `json:"entity_type"`
	FoundedDate  string  `json:"founded_date,omitempty"`
	Website      *string `json:"website,omitempty"`
	MailingState string  `json:"mailing_state"`
	MailingZip   string  `json:"mailing_zip"`
}

type locationPayload struct {
	Address       string                 `json:"address"`
	Address2      *string                `json:"address2,omitempty"`
	City          string                 `json:"city"`
	State         string                 `json:"state"`
	Zip           string                 `json:"zip"`
	SquareFootage *int64                 `json:"square_footage,omitempty"`
	ActivityCodes []activityCodePayload  `json:"activity_codes,omitempty"`
}

type activityCodePayload struct {
	ActivityCodeID    int64 `json:"activity_code_id"`
	Payroll           int64 `json:"payroll"`
	FullTimeEmployees int   `json:"full_time_employees"`
	PartTimeEmployees int   `json:"part_time_employees"`
}

type contactPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Primary   bool   `json:"primary"`
}

type ownerPayload struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Ownership float64 `json:"ownership"`
	Title     string  `json:"title"`
	Birthdate string  `json:"birthdate,omitempty"`
}

type claimPayload struct {
	PolicyType     string `json:"policy_type"`
	EventDate      string `json:"event_date"`
	AmountPaid     int64  `json:"amount_paid"`
	AmountReserved int64  `json:"amount_reserved"`
	Open           bool   `json:"open"`
	MissedWork     bool   `json:"missed_work"`
}

type policyPayload struct {
	Type           string `json:"type"`
	EffectiveDate  string `json:"effective_date"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	Limits         string `json:"limits"`
	Deductible     int64  `json:"deductible,omitempty"`
	CoverageLapse  bool   `json:"coverage_lapse,omitempty"`
}

type answerPayload struct {
	QuestionID int64   `json:"question_id"`
	AnswerIDs  []int64 `json:"answer_ids,omitempty"`
	Text       string  `json:"text,omitempty"`
}

type quoteResultResponse struct {
	QuoteID     string           `json:"quote_id"`
	InsurerID   int64            `json:"insurer_id"`
	PolicyType  string           `json:"policy_type"`
	Outcome     string           `json:"outcome"`
	Premium     *int64           `json:"premium,omitempty"`
	Limits      map[string]int64 `json:"limits,omitempty"`
	QuoteNumber string           `json:"quote_number,omitempty"`
	DeepLink    string           `json:"deep_link,omitempty"`
	Reasons     []string         `json:"reasons,omitempty"`
}

type storedQuoteResponse struct {
	QuoteID      string   `json:"quote_id"`
	InsurerID    int64    `json:"insurer_id"`
	PolicyType   string   `json:"policy_type"`
	Outcome      string   `json:"outcome"`
	Premium      *int64   `json:"premium,omitempty"`
	QuoteNumber  string   `json:"quote_number,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
	Bound        bool     `json:"bound"`
	PolicyNumber *string  `json:"policy_number,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

type priceResponse struct {
	GotPricing    bool     `json:"got_pricing"`
	OutOfAppetite bool     `json:"out_of_appetite"`
	PricingError  bool     `json:"pricing_error"`
	Price         int64    `json:"price,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
}

type bindResponse struct {
	Status        string   `json:"status"`
	PolicyID      string   `json:"policy_id,omitempty"`
	PolicyNumber  string   `json:"policy_number,omitempty"`
	Premium       int64    `json:"premium,omitempty"`
	EffectiveDate string   `json:"effective_date,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
}

type questionResponse struct {
	ID              int64                    `json:"id"`
	Parent          int64                    `json:"parent,omitempty"`
	ParentAnswerID  int64                    `json:"parent_answer_id,omitempty"`
	Type            string                   `json:"type"`
	SubjectArea     string                   `json:"subject_area"`
	Text            string                   `json:"text"`
	PossibleAnswers []possibleAnswerResponse `json:"possible_answers,omitempty"`
}

type possibleAnswerResponse struct {
	ID      int64  `json:"id"`
	Answer  string `json:"answer"`
	Default bool   `json:"default"`
}

const dateLayout = "2006-01-02"

func (p applicationPayload) toDomain() (*domain.Application, error) {
	app := &domain.Application{
		ID:           p.ID,
		AgencyID:     p.AgencyID,
		IndustryCode: p.IndustryCode,
		Business: domain.Business{
			Name:         p.Business.Name,
			DBA:          p.Business.DBA,
			EIN:          p.Business.EIN,
			EntityType:   domain.EntityType(p.Business.EntityType),
			Website:      p.Business.Website,
			MailingState: p.Business.MailingState,
			MailingZip:   p.Business.MailingZip,
		},
		Answers: make(map[int64]domain.QuestionAnswer),
	}

	if p.Business.FoundedDate != "" {
		founded, err := time.Parse(dateLayout, p.Business.FoundedDate)
		if err != nil {
			return nil, fmt.Errorf("invalid founded_date: %w", err)
		}
		app.Business.FoundedDate = founded
	}

	for _, lp := range p.Locations {
		loc := domain.Location{
			Address:       lp.Address,
			Address2:      lp.Address2,
			City:          lp.City,
			State:         lp.State,
			Zip:           lp.Zip,
			SquareFootage: lp.SquareFootage,
		}
		for _, ac := range lp.ActivityCodes {
			loc.ActivityCodes = append(loc.ActivityCodes, domain.ActivityCodeExposure{
				ActivityCodeID:    ac.ActivityCodeID,
				Payroll:           ac.Payroll,
				FullTimeEmployees: ac.FullTimeEmployees,
				PartTimeEmployees: ac.PartTimeEmployees,
			})
		}
		app.Locations = append(app.Locations, loc)
	}

	for _, cp := range p.Contacts {
		app.Contacts = append(app.Contacts, domain.Contact{
			FirstName: cp.FirstName,
			LastName:  cp.LastName,
			Email:     cp.Email,
			Phone:     cp.Phone,
			Primary:   cp.Primary,
		})
	}

	for _, op := range p.Owners {
		owner := domain.Owner{
			FirstName: op.FirstName,
			LastName:  op.LastName,
			Ownership: op.Ownership,
			Title:     op.Title,
		}
		if op.Birthdate != "" {
			bd, err := time.Parse(dateLayout, op.Birthdate)
			if err != nil {
				return nil, fmt.Errorf("invalid owner birthdate: %w", err)
			}
			owner.Birthdate = &bd
		}
		app.Owners = append(app.Owners, owner)
	}

	for _, cp := range p.Claims {
		event, err := time.Parse(dateLayout, cp.EventDate)
		if err != nil {
			return nil, fmt.Errorf("invalid claim event_date: %w", err)
		}
		app.Claims = append(app.Claims, domain.Claim{
			PolicyType:     domain.PolicyType(cp.PolicyType),
			EventDate:      event,
			AmountPaid:     cp.AmountPaid,
			AmountReserved: cp.AmountReserved,
			Open:           cp.Open,
			MissedWork:     cp.MissedWork,
		})
	}

	for _, pp := range p.Policies {
		effective, err := time.Parse(dateLayout, pp.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("invalid policy effective_date: %w", err)
		}
		policy := domain.Policy{
			Type:          domain.PolicyType(pp.Type),
			EffectiveDate: effective,
			Limits:        pp.Limits,
			Deductible:    pp.Deductible,
			CoverageLapse: pp.CoverageLapse,
		}
		if pp.ExpirationDate != "" {
			expiration, err := time.Parse(dateLayout, pp.ExpirationDate)
			if err != nil {
				return nil, fmt.Errorf("invalid policy expiration_date: %w", err)
			}
			policy.ExpirationDate = expiration
		}
		app.Policies = append(app.Policies, policy)
	}

	for _, ap := range p.Answers {
		app.Answers[ap.QuestionID] = domain.QuestionAnswer{
			QuestionID: ap.QuestionID,
			AnswerIDs:  ap.AnswerIDs,
			Text:       ap.Text,
		}
	}

	return app, nil
}
