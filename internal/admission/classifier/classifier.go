// Package classifier maps an actor plus repository history onto a trust
// tier. Classification is a pure function of its inputs and is recomputed on
// every event, never cached across an actor's lifetime, so a ban takes
// effect on the very next event.
package classifier

import (
	"time"

	"buildgate/internal/admission/identity"
	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
)

// Input carries everything the classifier consults. All fields are resolved
// by the caller; the classifier does no I/O.
type Input struct {
	Actor          models.Actor
	RegistryStatus identity.Status
	History        models.ContributorHistory
	InternalRoster []id.ActorLogin
	MinAccountAge  time.Duration
	MinRecurring   int
	Now            time.Time
}

// Classify applies the priority-ordered rules; the first matching rule wins.
//
//  1. Denylisted identifier: Revoked.
//  2. Account younger than the configured minimum: FirstTimeExternal,
//     regardless of any other signal. A fresh account with an internal
//     association claim is exactly the shape of a takeover.
//  3. Member association verified against the internal roster: Internal.
//  4. Enough prior merged contributions and no prior denial: RecurringExternal.
//  5. Default: FirstTimeExternal.
func Classify(in Input) id.TrustTier {
	if in.RegistryStatus == identity.StatusDenylisted {
		return id.TierRevoked
	}

	if in.Actor.CreatedAt.IsZero() || in.Now.Sub(in.Actor.CreatedAt) < in.MinAccountAge {
		return id.TierFirstTimeExternal
	}

	if in.Actor.Association == models.AssociationMember &&
		identity.InRoster(in.Actor.Login, in.InternalRoster) {
		return id.TierInternal
	}

	if in.History.MergedContributions >= in.MinRecurring && !in.History.PriorDenial {
		return id.TierRecurringExternal
	}

	return id.TierFirstTimeExternal
}
