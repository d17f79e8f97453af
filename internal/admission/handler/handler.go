// Package handler is the HTTP surface of the admission engine. It stays
// thin: decode, validate, delegate to services, translate errors.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"buildgate/internal/admission/models"
	"buildgate/internal/platform/middleware"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	audit "buildgate/pkg/platform/audit"
	"buildgate/pkg/platform/httputil"
	"buildgate/pkg/requestcontext"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AdmissionService evaluates build events.
type AdmissionService interface {
	AdmitEvent(ctx context.Context, rawActor string, event models.Event) (*models.Decision, error)
}

// ApprovalService exposes the manual review workflow.
type ApprovalService interface {
	Get(ctx context.Context, approvalID id.ApprovalID) (*models.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]*models.ApprovalRequest, error)
	Approve(ctx context.Context, approvalID id.ApprovalID, approver id.ActorLogin) (*models.ApprovalRequest, error)
	Reject(ctx context.Context, approvalID id.ApprovalID, approver id.ActorLogin) (*models.ApprovalRequest, error)
}

// RegistryService manages allowlist and denylist entries.
type RegistryService interface {
	Add(ctx context.Context, list models.ListKind, identifier id.ActorLogin, reason string, expiresAt *time.Time, addedBy string) (*models.RegistryEntry, error)
	Remove(ctx context.Context, list models.ListKind, identifier id.ActorLogin, removedBy string) error
	List(ctx context.Context, list models.ListKind) ([]*models.RegistryEntry, error)
}

// AuditReader reads back recent audit records for the admin surface.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Handler wires admission endpoints to their services.
type Handler struct {
	admission  AdmissionService
	approvals  ApprovalService
	registry   RegistryService
	auditLog   AuditReader
	logger     *slog.Logger
	adminToken string
}

// New constructs the HTTP handler with its dependencies.
func New(
	admission AdmissionService,
	approvals ApprovalService,
	registry RegistryService,
	auditLog AuditReader,
	adminToken string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		admission:  admission,
		approvals:  approvals,
		registry:   registry,
		auditLog:   auditLog,
		logger:     logger,
		adminToken: adminToken,
	}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.ContentTypeJSON)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/admissions", h.handleAdmit)
		r.Get("/approvals", h.handleListApprovals)
		r.Get("/approvals/{approvalID}", h.handleGetApproval)
		r.Post("/approvals/{approvalID}/approve", h.handleApprove)
		r.Post("/approvals/{approvalID}/reject", h.handleReject)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
		r.Post("/registry/{list}", h.handleRegistryAdd)
		r.Get("/registry/{list}", h.handleRegistryList)
		r.Delete("/registry/{list}/{identifier}", h.handleRegistryRemove)
		r.Get("/audit/recent", h.handleAuditRecent)
	})
}

// handleAdmit handles POST /v1/admissions. Admit and Deny are final and
// return 200; AdmitWithApproval returns 202 with the approval reference.
// Retryable failures (audit outage, throttle) come back 503/429 and the
// producer redelivers.
func (h *Handler) handleAdmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AdmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	decision, err := h.admission.AdmitEvent(ctx, req.RawActor(), req.Event(requestcontext.Now(ctx)))
	if err != nil {
		if !dErrors.IsRetryable(err) {
			h.logger.ErrorContext(ctx, "admission evaluation failed",
				"request_id", requestID,
				"repository", req.Repository,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if decision.Outcome == models.OutcomeAdmitWithApproval {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, FromDecision(decision))
}

func (h *Handler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.approvals.ListPending(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromApprovals(reqs))
}

func (h *Handler) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.approvals.Get(r.Context(), approvalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromApproval(req))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleVote(w, r, h.approvals.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleVote(w, r, h.approvals.Reject)
}

// handleVote is the shared body of approve and reject.
func (h *Handler) handleVote(
	w http.ResponseWriter,
	r *http.Request,
	vote func(context.Context, id.ApprovalID, id.ActorLogin) (*models.ApprovalRequest, error),
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[VoteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := vote(ctx, approvalID, req.ParsedApprover())
	if err != nil {
		h.logger.WarnContext(ctx, "approval vote rejected",
			"request_id", requestID,
			"approval_id", approvalID.String(),
			"approver", req.Approver,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromApproval(result))
}

func (h *Handler) handleRegistryAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	list, err := models.ParseListKind(chi.URLParam(r, "list"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[RegistryAddRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.registry.Add(ctx, list, req.ParsedIdentifier(), req.Reason, req.ExpiresAt,
		operatorIdentity(r.Header.Get("X-Admin-Actor")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromEntry(entry))
}

func (h *Handler) handleRegistryList(w http.ResponseWriter, r *http.Request) {
	list, err := models.ParseListKind(chi.URLParam(r, "list"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.registry.List(r.Context(), list)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntries(entries))
}

func (h *Handler) handleRegistryRemove(w http.ResponseWriter, r *http.Request) {
	list, err := models.ParseListKind(chi.URLParam(r, "list"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identifier, err := id.ParseActorLogin(chi.URLParam(r, "identifier"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.registry.Remove(r.Context(), list, identifier,
		operatorIdentity(r.Header.Get("X-Admin-Actor"))); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		if n > maxAuditLimit {
			n = maxAuditLimit
		}
		limit = n
	}
	events, err := h.auditLog.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAuditEvents(events))
}
