package domain

import (
	dErrors "buildgate/pkg/domain-errors"
)

// TrustTier is the classification level governing how much capability a
// build receives. Tiers are totally ordered: a lower value is more
// restrictive, and the most restrictive tier wins whenever multiple
// classifications could apply.
type TrustTier int

const (
	// TierRevoked is absorbing: once an actor classifies as Revoked no
	// branch or path rule can readmit it.
	TierRevoked TrustTier = iota
	// TierFirstTimeExternal covers unknown or freshly created accounts.
	TierFirstTimeExternal
	// TierRecurringExternal covers external contributors with an established
	// merge history and no prior denial.
	TierRecurringExternal
	// TierInternal covers roster-verified organization members.
	TierInternal
)

var tierNames = map[TrustTier]string{
	TierRevoked:           "revoked",
	TierFirstTimeExternal: "first_time_external",
	TierRecurringExternal: "recurring_external",
	TierInternal:          "internal",
}

var tiersByName = map[string]TrustTier{
	"revoked":             TierRevoked,
	"first_time_external": TierFirstTimeExternal,
	"recurring_external":  TierRecurringExternal,
	"internal":            TierInternal,
}

// ParseTrustTier parses the wire/config representation of a tier.
func ParseTrustTier(s string) (TrustTier, error) {
	tier, ok := tiersByName[s]
	if !ok {
		return TierRevoked, dErrors.Newf(dErrors.CodeInvalidInput, "unknown trust tier %q", s)
	}
	return tier, nil
}

// AllTrustTiers returns every tier, most restrictive first. Used by config
// validation to prove the sandbox mapping is total.
func AllTrustTiers() []TrustTier {
	return []TrustTier{TierRevoked, TierFirstTimeExternal, TierRecurringExternal, TierInternal}
}

// MoreRestrictive returns the lower of the two tiers.
func MoreRestrictive(a, b TrustTier) TrustTier {
	if a < b {
		return a
	}
	return b
}

// String returns the config/wire name of the tier.
func (t TrustTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether the tier is one of the defined values.
func (t TrustTier) IsValid() bool {
	_, ok := tierNames[t]
	return ok
}

// IsExternal reports whether the tier denotes a non-roster actor.
func (t TrustTier) IsExternal() bool {
	return t == TierFirstTimeExternal || t == TierRecurringExternal
}
