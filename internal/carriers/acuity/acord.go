package acuity

// ACORD P&C XML shapes, reduced to the elements Acuity's BOP service
// reads and writes.

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

type acordRequest struct {
	XMLName        xml.Name `xml:"ACORD"`
	SignonRq       signonRq `xml:"SignonRq"`
	InsuranceSvcRq struct {
		BOPPolicyQuoteInqRq bopQuoteInqRq `xml:"BOPPolicyQuoteInqRq"`
	} `xml:"InsuranceSvcRq"`
}

type signonRq struct {
	ClientDt        string `xml:"ClientDt"`
	CustLangPref    string `xml:"CustLangPref"`
	OrgName         string `xml:"ClientApp>Org"`
	AgencyID        string `xml:"ClientApp>AgencyId"`
	ProducerSubCode string `xml:"ClientApp>ProducerSubCode,omitempty"`
}

type bopQuoteInqRq struct {
	TransactionRequestDt string                `xml:"TransactionRequestDt"`
	InsuredOrPrincipal   insuredOrPrincipal    `xml:"InsuredOrPrincipal"`
	BOPPolicy            bopPolicy             `xml:"BOPPolicy"`
	Locations            []acordLocation       `xml:"Location"`
	QuestionAnswers      []acordQuestionAnswer `xml:"QuestionAnswer"`
}

type insuredOrPrincipal struct {
	CommercialName    string `xml:"GeneralPartyInfo>NameInfo>CommlName>CommercialName"`
	SupplementaryName string `xml:"GeneralPartyInfo>NameInfo>CommlName>SupplementaryNameInfo>SupplementaryName,omitempty"`
	FEIN              string `xml:"GeneralPartyInfo>NameInfo>TaxIdentity>TaxId"`
	LegalEntityCd     string `xml:"GeneralPartyInfo>NameInfo>LegalEntityCd"`
	IndustryCd        string `xml:"InsuredOrPrincipalInfo>BusinessInfo>SICCd"`
	ContactName       string `xml:"GeneralPartyInfo>Communications>ContactName,omitempty"`
	EmailAddr         string `xml:"GeneralPartyInfo>Communications>EmailInfo>EmailAddr,omitempty"`
	PhoneNumber       string `xml:"GeneralPartyInfo>Communications>PhoneInfo>PhoneNumber,omitempty"`
}

type bopPolicy struct {
	ContractTerm struct {
		EffectiveDt  string `xml:"EffectiveDt"`
		ExpirationDt string `xml:"ExpirationDt,omitempty"`
	} `xml:"ContractTerm"`
	OccurrenceLimit string `xml:"Coverage>Limit>FormatInteger"`
	AggregateLimit  string `xml:"Coverage>Limit>AggregateFormatInteger"`
	DeductibleAmt   string `xml:"Coverage>Deductible>FormatInteger,omitempty"`
}

type acordLocation struct {
	ID           string `xml:"id,attr"`
	Addr1        string `xml:"Addr>Addr1"`
	Addr2        string `xml:"Addr>Addr2,omitempty"`
	City         string `xml:"Addr>City"`
	StateCd      string `xml:"Addr>StateProvCd"`
	PostalCd     string `xml:"Addr>PostalCode"`
	AreaOccupied int64  `xml:"BldgOccupancy>AreaOccupied,omitempty"`
}

type acordQuestionAnswer struct {
	QuestionCd  string `xml:"QuestionCd"`
	YesNoCd     string `xml:"YesNoCd,omitempty"`
	Explanation string `xml:"Explanation,omitempty"`
}

type acordResponse struct {
	XMLName        xml.Name `xml:"ACORD"`
	InsuranceSvcRs struct {
		BOPPolicyQuoteInqRs bopQuoteInqRs `xml:"BOPPolicyQuoteInqRs"`
	} `xml:"InsuranceSvcRs"`
}

type bopQuoteInqRs struct {
	MsgStatus         msgStatus         `xml:"MsgStatus"`
	PolicySummaryInfo policySummaryInfo `xml:"PolicySummaryInfo"`
}

type msgStatus struct {
	MsgStatusCd    string `xml:"MsgStatusCd"`
	MsgStatusDesc  string `xml:"MsgStatusDesc"`
	ExtendedStatus []struct {
		ExtendedStatusCd   string `xml:"ExtendedStatusCd"`
		ExtendedStatusDesc string `xml:"ExtendedStatusDesc"`
	} `xml:"ExtendedStatus"`
}

// ReasonTexts collects reason strings from the status block.
func (m msgStatus) ReasonTexts() []string {
	var out []string
	if desc := strings.TrimSpace(m.MsgStatusDesc); desc != "" {
		out = append(out, desc)
	}
	for _, es := range m.ExtendedStatus {
		if desc := strings.TrimSpace(es.ExtendedStatusDesc); desc != "" {
			out = append(out, desc)
		}
	}
	return out
}

type policySummaryInfo struct {
	PolicyNumber    string    `xml:"PolicyNumberId"`
	PolicyStatusCd  string    `xml:"PolicyStatusCd"`
	FullTermAmt     acordAmt  `xml:"FullTermAmt>Amt"`
	OccurrenceLimit acordAmt  `xml:"Coverage>Limit>FormatInteger"`
}

// acordAmt is a decimal dollar amount element.
type acordAmt string

// Cents converts the decimal string to cents. Unparseable or absent
// amounts are zero.
func (a acordAmt) Cents() int64 {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return 0
	}
	dollars, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(dollars*100 + 0.5)
}

func mustXML(v any) string {
	data, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<unencodable payload: %v>", err)
	}
	return xml.Header + string(data)
}
