// Package policy computes the admission verdict for an event and trust tier.
//
// The rule list is strictly ordered and first-match-wins: each decision
// carries the reason code of exactly one rule, so an auditor reads a single
// tag instead of reconstructing a boolean expression. All branching is
// data-driven from policy configuration; no identifier is ever hardcoded.
package policy

import (
	"strings"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
)

// Rules is the data the engine branches on, extracted from the validated
// policy configuration.
type Rules struct {
	ProtectedBranches []string
	SensitivePaths    []string
}

// Verdict pairs the outcome with the rule that produced it.
type Verdict struct {
	Outcome models.Outcome
	Reason  models.ReasonCode
}

// Decide evaluates the ordered rule list:
//
//  1. Revoked tier: Deny. Absorbing; nothing below can override it.
//  2. Unrecognized event type: Deny. The event still reaches the audit log.
//  3. Fork event touching a sensitive path: AdmitWithApproval regardless of
//     tier. Dependency-manifest tampering is the attack's entry vector.
//  4. Internal tier targeting a protected branch: Admit.
//  5. Recurring external, not from a fork: Admit.
//  6. First-time external, or any fork from a non-internal actor:
//     AdmitWithApproval.
//  7. Default: Deny. Never default-allow.
func Decide(event models.Event, tier id.TrustTier, rules Rules) Verdict {
	if tier == id.TierRevoked {
		return Verdict{models.OutcomeDeny, models.ReasonActorRevoked}
	}

	if !event.Type.IsValid() {
		return Verdict{models.OutcomeDeny, models.ReasonUnrecognizedEvent}
	}

	if event.IsFork && touchesSensitivePath(event.ChangedPaths, rules.SensitivePaths) {
		return Verdict{models.OutcomeAdmitWithApproval, models.ReasonDependencyOrCIChange}
	}

	if tier == id.TierInternal && containsBranch(rules.ProtectedBranches, event.TargetBranch) {
		return Verdict{models.OutcomeAdmit, models.ReasonTrustedInternal}
	}

	if tier == id.TierRecurringExternal && !event.IsFork {
		return Verdict{models.OutcomeAdmit, models.ReasonTrustedRecurring}
	}

	if tier == id.TierFirstTimeExternal || (event.IsFork && tier != id.TierInternal) {
		return Verdict{models.OutcomeAdmitWithApproval, models.ReasonManualReviewRequired}
	}

	return Verdict{models.OutcomeDeny, models.ReasonNoMatchingPolicy}
}

// touchesSensitivePath reports whether any changed path hits the sensitive
// set. Entries ending in "/" are directory rules and match files under that
// directory; all other entries match the full path exactly. Path rules are
// policy data, not identity matching; the anchored-equality rule for actor
// identifiers is untouched by this.
func touchesSensitivePath(changed, sensitive []string) bool {
	for _, path := range changed {
		for _, rule := range sensitive {
			if strings.HasSuffix(rule, "/") {
				if strings.HasPrefix(path, rule) {
					return true
				}
				continue
			}
			if path == rule {
				return true
			}
		}
	}
	return false
}

func containsBranch(branches []string, target string) bool {
	for _, b := range branches {
		if b == target {
			return true
		}
	}
	return false
}
