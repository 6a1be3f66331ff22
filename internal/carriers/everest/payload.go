package everest

import (
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var quoteSchemaJSON string

var (
	quoteSchemaOnce sync.Once
	quoteSchema     *jsonschema.Schema
	quoteSchemaErr  error
)

// validatePayload checks the assembled quote request against Everest's
// published submission schema before the wire call.
func validatePayload(p *quoteRequest) error {
	quoteSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("everest-quote.json", strings.NewReader(quoteSchemaJSON)); err != nil {
			quoteSchemaErr = err
			return
		}
		quoteSchema, quoteSchemaErr = c.Compile("everest-quote.json")
	})
	if quoteSchemaErr != nil {
		return fmt.Errorf("compiling submission schema: %w", quoteSchemaErr)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return quoteSchema.Validate(doc)
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<unencodable payload: %v>", err)
	}
	return string(data)
}

type quoteRequest struct {
	AgencyCode  string          `json:"agencyCode"`
	AgentCode   string          `json:"agentCode,omitempty"`
	EffectiveOn string          `json:"effectiveOn"`
	Limits      []string        `json:"employerLiabilityLimits"`
	Business    businessInfo    `json:"business"`
	Locations   []locationInfo  `json:"locations"`
	LossHistory []lossYearInfo  `json:"lossHistory,omitempty"`
	Questions   []questionInfo  `json:"questions,omitempty"`
}

type businessInfo struct {
	Name            string `json:"name"`
	DBA             string `json:"dba,omitempty"`
	FEIN            string `json:"fein"`
	EntityType      string `json:"entityType"`
	YearsInBusiness int    `json:"yearsInBusiness"`
}

type locationInfo struct {
	Address    string          `json:"address"`
	City       string          `json:"city"`
	State      string          `json:"state"`
	Zip        string          `json:"zip"`
	ClassCodes []classCodeInfo `json:"classCodes"`
}

type classCodeInfo struct {
	Code     string `json:"code"`
	Payroll  int64  `json:"payroll"`
	FullTime int    `json:"fullTimeEmployees"`
	PartTime int    `json:"partTimeEmployees"`
}

type lossYearInfo struct {
	Year     int   `json:"year"`
	Claims   int   `json:"claims"`
	Paid     int64 `json:"amountPaid"`
	Reserved int64 `json:"amountReserved"`
	LostTime int   `json:"lostTime"`
}

type questionInfo struct {
	Code   string `json:"code"`
	Answer string `json:"answer"`
}

type quoteResponse struct {
	Status    string           `json:"status"`
	QuoteID   string           `json:"quoteId"`
	Premium   int64            `json:"premium"`
	Limits    map[string]int64 `json:"limits"`
	PortalURL string           `json:"portalUrl"`
	Reasons   []string         `json:"reasons"`
	Errors    []string         `json:"errors"`
}

type letterResponse struct {
	Document string `json:"document"`
	MIMEType string `json:"mimeType"`
}

// Decode returns the base64-encoded document bytes.
func (l *letterResponse) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(l.Document)
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type priceRequest struct {
	AgencyCode   string `json:"agencyCode"`
	EntityType   string `json:"entityType"`
	State        string `json:"state"`
	TotalPayroll int64  `json:"totalPayroll"`
	EffectiveOn  string `json:"effectiveOn"`
}

type priceResponse struct {
	Eligible bool     `json:"eligible"`
	Price    int64    `json:"price"`
	Reasons  []string `json:"reasons"`
}

type bindRequest struct {
	QuoteID     string `json:"quoteId"`
	AgencyCode  string `json:"agencyCode"`
	AgentCode   string `json:"agentCode,omitempty"`
	EffectiveOn string `json:"effectiveOn"`
}

type bindResponse struct {
	Status       string   `json:"status"`
	PolicyID     string   `json:"policyId"`
	PolicyNumber string   `json:"policyNumber"`
	Premium      int64    `json:"premium"`
	EffectiveOn  string   `json:"effectiveOn"`
	Reasons      []string `json:"reasons"`
}
