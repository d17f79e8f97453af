// Package service orchestrates one build event's path through the gate:
// throttle, identity, classification, policy, sandbox resolution, audit.
// The decision is final only after the audit record is durably accepted.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"buildgate/internal/admission/classifier"
	"buildgate/internal/admission/config"
	"buildgate/internal/admission/identity"
	"buildgate/internal/admission/models"
	"buildgate/internal/admission/policy"
	"buildgate/internal/admission/sandbox"
	"buildgate/internal/admission/throttle"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	audit "buildgate/pkg/platform/audit"
	"buildgate/pkg/requestcontext"
)

// HistoryStore resolves per-actor contribution history.
type HistoryStore interface {
	Get(ctx context.Context, login id.ActorLogin) (models.ContributorHistory, error)
	RecordContribution(ctx context.Context, login id.ActorLogin) error
	RecordDenial(ctx context.Context, login id.ActorLogin) error
}

// ThrottleStore bounds per-repository ingestion rate.
type ThrottleStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*throttle.Result, error)
}

// AuditRecorder accepts audit events. The admission path uses a synchronous
// recorder: Emit returning an error means the event was NOT durably recorded.
type AuditRecorder interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ApprovalOpener creates pending approval requests.
type ApprovalOpener interface {
	Open(ctx context.Context, event models.Event) (*models.ApprovalRequest, error)
}

// TokenMinter issues scoped build tokens for admitted builds.
type TokenMinter interface {
	Mint(eventID id.EventID, actor id.ActorLogin, profile models.SandboxProfile, now time.Time) (string, error)
}

// Metrics records admission observability signals. Nil-safe.
type Metrics interface {
	DecisionIssued(outcome models.Outcome, reason models.ReasonCode)
	TierAssigned(tier string)
	IdentityRejected()
	EventThrottled()
	AuditFailed()
	ObserveEvaluateLatency(d time.Duration)
}

// Service evaluates build events into decisions.
type Service struct {
	cfg       *config.Config
	matcher   *identity.Matcher
	history   HistoryStore
	resolver  *sandbox.Resolver
	approvals ApprovalOpener
	tokens    TokenMinter
	auditor   AuditRecorder
	throttler ThrottleStore
	metrics   Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithThrottle enables the ingestion throttle.
func WithThrottle(t ThrottleStore) Option {
	return func(s *Service) { s.throttler = t }
}

// NewService constructs the admission service. The approval opener may be
// set later via SetApprovals to break the construction cycle with the
// approval service, which needs this service as its finalizer.
func NewService(
	cfg *config.Config,
	matcher *identity.Matcher,
	history HistoryStore,
	resolver *sandbox.Resolver,
	tokens TokenMinter,
	auditor AuditRecorder,
	opts ...Option,
) *Service {
	s := &Service{
		cfg:      cfg,
		matcher:  matcher,
		history:  history,
		resolver: resolver,
		tokens:   tokens,
		auditor:  auditor,
		logger:   slog.Default(),
		tracer:   otel.Tracer("buildgate/admission"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SetApprovals wires the approval opener after construction.
func (s *Service) SetApprovals(opener ApprovalOpener) {
	s.approvals = opener
}

// AdmitEvent evaluates one build event. rawActor is the identifier exactly
// as received; it is never trusted before parsing. A returned error with
// code Unavailable or Throttled means no decision was made and the caller
// should retry; any returned Decision is final and already audited.
func (s *Service) AdmitEvent(ctx context.Context, rawActor string, event models.Event) (*models.Decision, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveEvaluateLatency(time.Since(start))
		}
	}()

	ctx, span := s.tracer.Start(ctx, "admission.evaluate",
		trace.WithAttributes(
			attribute.String("event.id", event.ID.String()),
			attribute.String("event.repository", event.Repository),
		))
	defer span.End()

	requestID := requestcontext.RequestID(ctx)
	now := requestcontext.Now(ctx)

	if err := s.checkThrottle(ctx, event, rawActor, requestID); err != nil {
		return nil, err
	}

	status, err := s.matcher.Lookup(ctx, rawActor)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeMalformedIdentity) {
			return s.denyMalformed(ctx, rawActor, event, requestID, now)
		}
		// Registry outage: no decision, caller retries.
		return nil, err
	}

	history, err := s.history.Get(ctx, event.Actor.Login)
	if err != nil {
		return nil, err
	}

	tier := classifier.Classify(classifier.Input{
		Actor:          event.Actor,
		RegistryStatus: status,
		History:        history,
		InternalRoster: s.cfg.InternalRoster,
		MinAccountAge:  s.cfg.MinAccountAge,
		MinRecurring:   s.cfg.MinRecurringContributions,
		Now:            now,
	})
	if s.metrics != nil {
		s.metrics.TierAssigned(tier.String())
	}
	span.SetAttributes(attribute.String("admission.tier", tier.String()))

	verdict := policy.Decide(event, tier, policy.Rules{
		ProtectedBranches: s.cfg.ProtectedBranches,
		SensitivePaths:    s.cfg.SensitivePaths,
	})

	decision := &models.Decision{
		EventID:   event.ID,
		Actor:     event.Actor.Login,
		Outcome:   verdict.Outcome,
		Tier:      tier,
		Reason:    verdict.Reason,
		Profile:   s.resolver.Resolve(tier, verdict.Outcome),
		CreatedAt: now,
	}

	if verdict.Outcome == models.OutcomeAdmitWithApproval {
		req, err := s.approvals.Open(ctx, event)
		if err != nil {
			return nil, err
		}
		decision.ApprovalID = &req.ID
	}

	if verdict.Outcome == models.OutcomeAdmit {
		token, err := s.tokens.Mint(event.ID, event.Actor.Login, decision.Profile, now)
		if err != nil {
			return nil, err
		}
		decision.BuildToken = token
	}

	if err := s.finalize(ctx, decision, event, requestID); err != nil {
		return nil, err
	}
	return decision, nil
}

// FinalizeApproval re-evaluates an approval request's event once the request
// reaches a terminal state and issues the final decision. Classification and
// policy run again against current state: an approval cannot resurrect an
// actor who was revoked while the request sat pending.
func (s *Service) FinalizeApproval(ctx context.Context, req *models.ApprovalRequest) error {
	requestID := requestcontext.RequestID(ctx)
	now := requestcontext.Now(ctx)
	event := req.Event

	decision := &models.Decision{
		EventID:    event.ID,
		Actor:      event.Actor.Login,
		ApprovalID: &req.ID,
		CreatedAt:  now,
	}

	switch req.State {
	case models.ApprovalRejected:
		decision.Outcome = models.OutcomeDeny
		decision.Reason = models.ReasonApprovalRejected
		decision.Tier = id.TierFirstTimeExternal
		decision.Profile = sandbox.Locked()
		if err := s.history.RecordDenial(ctx, event.Actor.Login); err != nil {
			s.logger.ErrorContext(ctx, "recording denial failed",
				"actor", event.Actor.Login.String(),
				"error", err,
			)
		}

	case models.ApprovalExpired:
		decision.Outcome = models.OutcomeDeny
		decision.Reason = models.ReasonApprovalExpired
		decision.Tier = id.TierFirstTimeExternal
		decision.Profile = sandbox.Locked()

	case models.ApprovalApproved:
		status, err := s.matcher.LookupLogin(ctx, event.Actor.Login)
		if err != nil {
			return err
		}
		history, err := s.history.Get(ctx, event.Actor.Login)
		if err != nil {
			return err
		}
		tier := classifier.Classify(classifier.Input{
			Actor:          event.Actor,
			RegistryStatus: status,
			History:        history,
			InternalRoster: s.cfg.InternalRoster,
			MinAccountAge:  s.cfg.MinAccountAge,
			MinRecurring:   s.cfg.MinRecurringContributions,
			Now:            now,
		})
		decision.Tier = tier

		if tier == id.TierRevoked {
			decision.Outcome = models.OutcomeDeny
			decision.Reason = models.ReasonActorRevoked
			decision.Profile = sandbox.Locked()
		} else {
			decision.Outcome = models.OutcomeAdmit
			decision.Reason = models.ReasonApprovalGranted
			decision.Profile = s.resolver.Resolve(tier, models.OutcomeAdmit)
			token, err := s.tokens.Mint(event.ID, event.Actor.Login, decision.Profile, now)
			if err != nil {
				return err
			}
			decision.BuildToken = token
		}

	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"finalize called with non-terminal state %q", req.State)
	}

	if err := s.finalize(ctx, decision, event, requestID); err != nil {
		return err
	}

	// A human-reviewed, granted contribution builds trust toward the
	// recurring tier. Best effort: the decision is already final.
	if decision.Outcome == models.OutcomeAdmit {
		if err := s.history.RecordContribution(ctx, event.Actor.Login); err != nil {
			s.logger.ErrorContext(ctx, "recording contribution failed",
				"actor", event.Actor.Login.String(),
				"error", err,
			)
		}
	}
	return nil
}

// finalize persists the audit record for a decision. A failed write blocks
// the decision: the error is retryable and the caller must not treat the
// outcome as final.
func (s *Service) finalize(ctx context.Context, decision *models.Decision, event models.Event, requestID string) error {
	record := audit.Event{
		Timestamp:  decision.CreatedAt,
		EventID:    event.ID.String(),
		Actor:      event.Actor.Login.String(),
		Repository: event.Repository,
		Action:     string(audit.EventDecisionIssued),
		Outcome:    string(decision.Outcome),
		Tier:       decision.Tier.String(),
		Reason:     string(decision.Reason),
		RequestID:  requestID,
	}
	if decision.ApprovalID != nil {
		record.ApprovalID = decision.ApprovalID.String()
	}

	if err := s.auditor.Emit(ctx, record); err != nil {
		if s.metrics != nil {
			s.metrics.AuditFailed()
		}
		s.logger.ErrorContext(ctx, "audit write failed, decision withheld",
			"event_id", event.ID.String(),
			"request_id", requestID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable")
	}

	if s.metrics != nil {
		s.metrics.DecisionIssued(decision.Outcome, decision.Reason)
	}
	s.logger.InfoContext(ctx, "decision issued",
		"event_id", event.ID.String(),
		"repository", event.Repository,
		"actor", event.Actor.Login.String(),
		"outcome", string(decision.Outcome),
		"tier", decision.Tier.String(),
		"reason", string(decision.Reason),
		"request_id", requestID,
	)
	return nil
}

// denyMalformed issues the fail-closed decision for identifiers that did not
// survive charset validation. The raw identifier goes to the audit log only;
// the decision carries no actor login because none could be parsed.
func (s *Service) denyMalformed(ctx context.Context, rawActor string, event models.Event, requestID string, now time.Time) (*models.Decision, error) {
	if s.metrics != nil {
		s.metrics.IdentityRejected()
	}

	record := audit.Event{
		Timestamp:  now,
		EventID:    event.ID.String(),
		Actor:      rawActor,
		Repository: event.Repository,
		Action:     string(audit.EventIdentityRejected),
		Outcome:    string(models.OutcomeDeny),
		Reason:     string(models.ReasonMalformedIdentity),
		RequestID:  requestID,
	}
	if err := s.auditor.Emit(ctx, record); err != nil {
		if s.metrics != nil {
			s.metrics.AuditFailed()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit log unavailable")
	}

	decision := &models.Decision{
		EventID:   event.ID,
		Outcome:   models.OutcomeDeny,
		Tier:      id.TierRevoked,
		Reason:    models.ReasonMalformedIdentity,
		Profile:   sandbox.Locked(),
		CreatedAt: now,
	}
	if s.metrics != nil {
		s.metrics.DecisionIssued(decision.Outcome, decision.Reason)
	}
	s.logger.WarnContext(ctx, "identifier failed validation, denying",
		"event_id", event.ID.String(),
		"repository", event.Repository,
		"request_id", requestID,
	)
	return decision, nil
}

// checkThrottle enforces the per-repository ingestion window. Refusals are
// audited and surface as retryable so producers back off instead of losing
// events. A throttle store outage does not block intake; rate limiting is
// load protection, not a security boundary.
func (s *Service) checkThrottle(ctx context.Context, event models.Event, rawActor string, requestID string) error {
	if s.throttler == nil {
		return nil
	}

	res, err := s.throttler.Allow(ctx, event.Repository, s.cfg.IngestLimit, s.cfg.IngestWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "throttle store unavailable, admitting traffic",
			"repository", event.Repository,
			"error", err,
		)
		return nil
	}
	if res.Allowed {
		return nil
	}

	if s.metrics != nil {
		s.metrics.EventThrottled()
	}
	record := audit.Event{
		Timestamp:  requestcontext.Now(ctx),
		EventID:    event.ID.String(),
		Actor:      rawActor,
		Repository: event.Repository,
		Action:     string(audit.EventIngestionThrottle),
		RequestID:  requestID,
	}
	if err := s.auditor.Emit(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "throttle audit write failed", "error", err)
	}
	return dErrors.Newf(dErrors.CodeThrottled,
		"repository %s exceeded %d events per %s", event.Repository, s.cfg.IngestLimit, s.cfg.IngestWindow)
}
