package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PolicyType identifies the line of business.
type PolicyType string

const (
	PolicyTypeWC  PolicyType = "WC"
	PolicyTypeBOP PolicyType = "BOP"
	PolicyTypeGL  PolicyType = "GL"
)

// maxEffectiveDateWindow bounds how far in the future a policy may start.
const maxEffectiveDateWindow = 90 * 24 * time.Hour

// Policy is one line of coverage requested on an application.
type Policy struct {
	Type           PolicyType
	EffectiveDate  time.Time
	ExpirationDate time.Time
	// Limits is the slash-delimited limit triple requested by the
	// applicant, e.g. "1000000/1000000/1000000".
	Limits        string
	Deductible    int64
	CoverageLapse bool
}

// ParseLimits splits a slash-delimited limit string into its numeric
// dimensions.
func ParseLimits(limits string) ([]int64, error) {
	parts := strings.Split(strings.TrimSpace(limits), "/")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid limit %q in %q", p, limits)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty limits string")
	}
	return out, nil
}

// EffectiveDateInPast reports whether the policy starts before today.
// Comparison is by calendar day, not instant.
func (p *Policy) EffectiveDateInPast(now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return p.EffectiveDate.Before(today)
}

// EffectiveDateTooFarOut reports whether the policy starts beyond the
// supported future window.
func (p *Policy) EffectiveDateTooFarOut(now time.Time) bool {
	return p.EffectiveDate.After(now.Add(maxEffectiveDateWindow))
}

// PolicyYear aggregates the claim history for one rolling 12-month
// window counted back from the policy effective date. Year 1 is the
// most recent 12 months. Amounts are in cents.
type PolicyYear struct {
	Year           int
	Count          int
	OpenCount      int
	AmountPaid     int64
	AmountReserved int64
	MissedWork     int
}

// ClaimsToPolicyYears buckets claims into rolling 1-year windows
// relative to the policy effective date. Years with no claims are still
// present so state rules can index by year directly. Claims older than
// the requested number of years are dropped.
func ClaimsToPolicyYears(claims []Claim, effectiveDate time.Time, years int) []PolicyYear {
	if years <= 0 {
		years = 3
	}
	out := make([]PolicyYear, years)
	for i := range out {
		out[i].Year = i + 1
	}

	for _, c := range claims {
		if c.EventDate.After(effectiveDate) {
			continue
		}
		age := effectiveDate.Sub(c.EventDate)
		year := int(age/(365*24*time.Hour)) + 1
		if year < 1 || year > years {
			continue
		}
		py := &out[year-1]
		py.Count++
		py.AmountPaid += c.AmountPaid
		py.AmountReserved += c.AmountReserved
		if c.Open {
			py.OpenCount++
		}
		if c.MissedWork {
			py.MissedWork++
		}
	}

	return out
}
