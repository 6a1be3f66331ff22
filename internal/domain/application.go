package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType is the canonical legal-entity vocabulary used across the
// platform. Carrier adapters map these onto their own enumerations.
type EntityType string

const (
	EntityCorporation        EntityType = "Corporation"
	EntityLLC                EntityType = "LLC"
	EntityPartnership        EntityType = "Partnership"
	EntitySoleProprietorship EntityType = "Sole Proprietorship"
	EntityAssociation        EntityType = "Association"
	EntityNonProfit          EntityType = "Non Profit"
	EntityOther              EntityType = "Other"
)

// Application is the normalized submission an adapter quotes against.
// It is created upstream and read-only to adapters.
type Application struct {
	ID           string
	AgencyID     string
	Business     Business
	Locations    []Location
	Contacts     []Contact
	Owners       []Owner
	Claims       []Claim
	Policies     []Policy
	IndustryCode int64
	// Answers holds the applicant's responses keyed by question ID.
	Answers map[int64]QuestionAnswer
}

// Business describes the insured entity.
type Business struct {
	Name         string
	DBA          *string
	EIN          string
	EntityType   EntityType
	FoundedDate  time.Time
	Website      *string
	MailingState string
	MailingZip   string
}

// Location is a physical business location with its class-code exposure.
type Location struct {
	Address       string
	Address2      *string
	City          string
	State         string
	Zip           string
	SquareFootage *int64
	ActivityCodes []ActivityCodeExposure
}

// ActivityCodeExposure carries payroll and headcount for one activity
// (class) code at a location.
type ActivityCodeExposure struct {
	ActivityCodeID    int64
	Payroll           int64
	FullTimeEmployees int
	PartTimeEmployees int
}

// Contact is a person attached to the application. Exactly one contact
// must be primary.
type Contact struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Primary   bool
}

// Owner is an officer or owner of the business.
type Owner struct {
	FirstName string
	LastName  string
	Ownership float64
	Title     string
	Birthdate *time.Time
}

// Claim is one entry in the applicant's loss history. Amounts are in
// cents.
type Claim struct {
	PolicyType     PolicyType
	EventDate      time.Time
	AmountPaid     int64
	AmountReserved int64
	Open           bool
	MissedWork     bool
}

// QuestionAnswer is the applicant's response to a single underwriting
// question. AnswerIDs is used for enumerated types, Text for free-form
// types.
type QuestionAnswer struct {
	QuestionID int64
	AnswerIDs  []int64
	Text       string
}

// PrimaryContact returns the application's primary contact.
func (a *Application) PrimaryContact() (Contact, bool) {
	for _, c := range a.Contacts {
		if c.Primary {
			return c, true
		}
	}
	return Contact{}, false
}

// ActivityCodeIDs returns the deduplicated set of activity code IDs
// across all locations.
func (a *Application) ActivityCodeIDs() []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, loc := range a.Locations {
		for _, ac := range loc.ActivityCodes {
			if !seen[ac.ActivityCodeID] {
				seen[ac.ActivityCodeID] = true
				ids = append(ids, ac.ActivityCodeID)
			}
		}
	}
	return ids
}

// Territories returns the deduplicated set of states across all
// locations plus the mailing state.
func (a *Application) Territories() []string {
	seen := make(map[string]bool)
	var states []string
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			states = append(states, s)
		}
	}
	add(a.Business.MailingState)
	for _, loc := range a.Locations {
		add(loc.State)
	}
	return states
}

// TotalPayroll sums payroll across every location and activity code.
func (a *Application) TotalPayroll() int64 {
	var total int64
	for _, loc := range a.Locations {
		for _, ac := range loc.ActivityCodes {
			total += ac.Payroll
		}
	}
	return total
}

// PolicyOfType returns the application's policy of the given type.
func (a *Application) PolicyOfType(t PolicyType) (*Policy, bool) {
	for i := range a.Policies {
		if a.Policies[i].Type == t {
			return &a.Policies[i], true
		}
	}
	return nil, false
}

// Validate enforces the structural invariants every adapter may assume:
// exactly one primary contact, at least one location, and for WC at
// least one activity code with payroll at every location.
func (a *Application) Validate() error {
	primaries := 0
	for _, c := range a.Contacts {
		if c.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("application %s: expected exactly one primary contact, found %d", a.ID, primaries)
	}

	if len(a.Locations) == 0 {
		return fmt.Errorf("application %s: at least one location is required", a.ID)
	}

	if len(a.Policies) == 0 {
		return fmt.Errorf("application %s: at least one policy is required", a.ID)
	}

	if _, ok := a.PolicyOfType(PolicyTypeWC); ok {
		for i, loc := range a.Locations {
			hasPayroll := false
			for _, ac := range loc.ActivityCodes {
				if ac.Payroll > 0 {
					hasPayroll = true
					break
				}
			}
			if !hasPayroll {
				return fmt.Errorf("application %s: WC location %d has no activity code with payroll", a.ID, i)
			}
		}
	}

	return nil
}
