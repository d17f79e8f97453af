// Package sandbox derives the execution constraint profile attached to a
// decision. The engine only computes the profile; the external build
// executor enforces it.
package sandbox

import (
	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
)

// Resolver maps TrustTier × Outcome onto a SandboxProfile. The mapping is
// total: the per-tier profiles come from validated policy configuration, and
// every non-admit outcome resolves to the locked profile. There is no
// permissive fallback anywhere in the lookup.
type Resolver struct {
	profiles map[id.TrustTier]models.SandboxProfile
}

// NewResolver wraps validated per-tier admit profiles. The caller is
// expected to have run the config package's load-time validation; this
// constructor does not re-check tier monotonicity.
func NewResolver(profiles map[id.TrustTier]models.SandboxProfile) *Resolver {
	copied := make(map[id.TrustTier]models.SandboxProfile, len(profiles))
	for tier, p := range profiles {
		copied[tier] = p
	}
	return &Resolver{profiles: copied}
}

// Resolve returns the profile for the tier and outcome. Only an Admit
// receives the tier's configured profile; AdmitWithApproval holds the build,
// and Deny never launches one, so both get the locked profile. If a tier is
// somehow missing (which validated config makes impossible), the locked
// profile is returned rather than anything permissive.
func (r *Resolver) Resolve(tier id.TrustTier, outcome models.Outcome) models.SandboxProfile {
	if outcome != models.OutcomeAdmit {
		return Locked()
	}
	profile, ok := r.profiles[tier]
	if !ok {
		return Locked()
	}
	return profile
}

// Locked is the zero-capability profile: no network, read-only filesystem,
// no credentials, minimal resources.
func Locked() models.SandboxProfile {
	return models.SandboxProfile{
		NetworkMode:     models.NetworkNone,
		FilesystemMode:  models.FilesystemReadOnly,
		CPUMillis:       100,
		MemoryMB:        64,
		CredentialScope: nil,
		TokenTTL:        0,
	}
}
