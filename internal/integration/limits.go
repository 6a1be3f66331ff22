package integration

import (
	"strings"

	"github.com/quotelane/quotecore/internal/domain"
)

// BestLimits selects, from a carrier's finite tier list, the first tier
// that satisfies the requested limits on every dimension. Tiers are
// slash-delimited strings in the carrier's listed order; carriers list
// tiers cheapest first, so first-match is the conservative
// closest-at-or-above choice.
//
// Returns the matched tier split into its components, or (nil, false)
// when no tier dominates the request; callers treat that as an
// autodecline condition, not a fault.
func BestLimits(requested []int64, tiers []string) ([]string, bool) {
	for _, tier := range tiers {
		dims, err := domain.ParseLimits(tier)
		if err != nil {
			// Malformed carrier tier; skip rather than fail the quote.
			continue
		}
		if len(dims) < len(requested) {
			continue
		}
		ok := true
		for i, want := range requested {
			if dims[i] < want {
				ok = false
				break
			}
		}
		if ok {
			return strings.Split(strings.TrimSpace(tier), "/"), true
		}
	}
	return nil, false
}

// BestLimitsString is BestLimits for a requested limit string in the
// policy's own "A/B/C" form.
func BestLimitsString(requested string, tiers []string) ([]string, bool) {
	dims, err := domain.ParseLimits(requested)
	if err != nil {
		return nil, false
	}
	return BestLimits(dims, tiers)
}

// EntityMap is a carrier's lookup from the canonical entity-type
// vocabulary to its own enumeration. An entity type absent from the map
// is an autodecline: insurers genuinely do not support all entity
// types.
type EntityMap map[domain.EntityType]string

// Code returns the carrier's code for an entity type.
func (m EntityMap) Code(t domain.EntityType) (string, bool) {
	code, ok := m[t]
	return code, ok
}
