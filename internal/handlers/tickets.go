// Package handlers implements the HTTP endpoints of the ticket kernel:
// session establishment, ticket issuance along the grant hierarchy,
// validation, revocation and health checks.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/auth"
	"github.com/castlepoint/sso-kernel/internal/constants"
	"github.com/castlepoint/sso-kernel/internal/policy"
	"github.com/castlepoint/sso-kernel/internal/registry"
	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// TicketHandler exposes the kernel facade over HTTP.
type TicketHandler struct {
	service  *auth.Service
	registry *registry.Registry
	logger   *logrus.Logger
}

// NewTicketHandler creates the ticket API handler.
func NewTicketHandler(service *auth.Service, reg *registry.Registry, logger *logrus.Logger) *TicketHandler {
	return &TicketHandler{service: service, registry: reg, logger: logger}
}

// RegisterRoutes registers the ticket API on the router.
func (h *TicketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions", h.CreateSession).Methods(http.MethodPost)
	router.HandleFunc("/sessions/{id}/service-tickets", h.GrantServiceTicket).Methods(http.MethodPost)
	router.HandleFunc("/tickets/{id}/proxy-granting", h.GrantProxyGranting).Methods(http.MethodPost)
	router.HandleFunc("/proxy-granting/{id}/proxy-tickets", h.GrantProxyTicket).Methods(http.MethodPost)
	router.HandleFunc("/transient", h.CreateTransient).Methods(http.MethodPost)
	router.HandleFunc("/tickets/{id}/validate", h.Validate).Methods(http.MethodPost)
	router.HandleFunc("/tickets/{id}", h.Revoke).Methods(http.MethodDelete)
	router.HandleFunc("/stats/sessions", h.SessionStats).Methods(http.MethodGet)
}

// ticketResponse is the wire form of an issued or validated ticket.
type ticketResponse struct {
	ID         string            `json:"id"`
	Kind       ticket.Kind       `json:"kind"`
	ParentID   string            `json:"parentId,omitempty"`
	Service    string            `json:"service,omitempty"`
	UseCount   int               `json:"useCount"`
	Principal  string            `json:"principal,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func toResponse(t *ticket.Ticket) ticketResponse {
	resp := ticketResponse{
		ID:         t.ID,
		Kind:       t.Kind,
		ParentID:   t.ParentID,
		Service:    t.Service,
		UseCount:   t.UseCount,
		Attributes: t.Attributes,
	}
	if t.Payload != nil {
		resp.Principal = t.Payload.Principal.ID
	}
	return resp
}

// CreateSession runs the policy chain over the posted authentication and
// issues a session ticket.
func (h *TicketHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var authn ticket.Authentication
	if err := json.NewDecoder(r.Body).Decode(&authn); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "malformed authentication payload")
		return
	}
	if authn.Principal.ID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "authentication requires a principal")
		return
	}

	t, err := h.service.Issue(r.Context(), ticket.KindTicketGranting, "", auth.IssueRequest{
		Authentication: &authn,
	})
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(t))
}

// grantRequest is the body of child ticket issuance endpoints.
type grantRequest struct {
	Service string `json:"service"`
}

// GrantServiceTicket issues a service ticket under a session.
func (h *TicketHandler) GrantServiceTicket(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Service == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "a target service is required")
		return
	}

	t, err := h.service.Issue(r.Context(), ticket.KindService, mux.Vars(r)["id"], auth.IssueRequest{
		Service: req.Service,
	})
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(t))
}

// GrantProxyGranting issues a proxy-granting ticket under a service or
// proxy ticket.
func (h *TicketHandler) GrantProxyGranting(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Issue(r.Context(), ticket.KindProxyGranting, mux.Vars(r)["id"], auth.IssueRequest{})
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(t))
}

// GrantProxyTicket issues a proxy ticket under a proxy-granting ticket.
func (h *TicketHandler) GrantProxyTicket(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Service == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "a target service is required")
		return
	}

	t, err := h.service.Issue(r.Context(), ticket.KindProxy, mux.Vars(r)["id"], auth.IssueRequest{
		Service: req.Service,
	})
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(t))
}

// CreateTransient issues a transient session ticket carrying the posted
// attributes.
func (h *TicketHandler) CreateTransient(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]string
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "malformed attribute payload")
		return
	}

	t, err := h.service.Issue(r.Context(), ticket.KindTransient, "", auth.IssueRequest{
		Attributes: attrs,
	})
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(t))
}

// Validate validates a ticket for use, consuming single-use tickets. The
// optional kind query parameter pins the expected ticket type.
func (h *TicketHandler) Validate(w http.ResponseWriter, r *http.Request) {
	kind := ticket.Kind(r.URL.Query().Get("kind"))

	t, err := h.service.ValidateAndConsume(r.Context(), mux.Vars(r)["id"], kind)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(t))
}

// Revoke removes a ticket and its descendants.
func (h *TicketHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.Revoke(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// SessionStats reports the number of active sessions, optionally filtered
// by principal.
func (h *TicketHandler) SessionStats(w http.ResponseWriter, r *http.Request) {
	var pred registry.Predicate
	if principal := r.URL.Query().Get("principal"); principal != "" {
		pred = registry.TicketGrantingFor(principal)
	} else {
		pred = func(t *ticket.Ticket) bool { return t.Kind == ticket.KindTicketGranting }
	}

	count, err := h.registry.CountTickets(r.Context(), pred)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"active_sessions": count})
}

// writeTicketError maps kernel errors onto HTTP statuses. Policy
// rejections reuse the account-state status convention of remote policy
// services, so upstream adapters see symmetric semantics.
func (h *TicketHandler) writeTicketError(w http.ResponseWriter, err error) {
	var rejection *auth.RejectionError
	if errors.As(err, &rejection) {
		h.writeError(w, statusForCause(rejection.Result.Cause), "authentication_rejected", rejection.Result.Detail)
		return
	}

	switch {
	case errors.Is(err, ticket.ErrTicketNotFound):
		h.writeError(w, http.StatusNotFound, "ticket_not_found", "the ticket does not exist or is expired")
	case errors.Is(err, ticket.ErrTicketAlreadyConsumed):
		h.writeError(w, http.StatusGone, "ticket_consumed", "the ticket has already been used")
	case errors.Is(err, ticket.ErrInvalidTicketType),
		errors.Is(err, ticket.ErrUnrecognizedTicketType),
		errors.Is(err, ticket.ErrInvalidTicketIdentifier):
		h.writeError(w, http.StatusBadRequest, "invalid_ticket", err.Error())
	case errors.Is(err, ticket.ErrDuplicateTicket):
		h.writeError(w, http.StatusConflict, "duplicate_ticket", err.Error())
	case errors.Is(err, ticket.ErrStorageUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "ticket storage is unavailable")
	default:
		h.logger.WithError(err).Error("Unhandled ticket operation failure")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

// statusForCause is the inverse of the remote policy status mapping.
func statusForCause(cause policy.Cause) int {
	switch cause {
	case policy.CauseAccountDisabled:
		return http.StatusForbidden
	case policy.CauseAccountLocked:
		return http.StatusLocked
	case policy.CauseAccountExpired:
		return http.StatusPreconditionFailed
	case policy.CauseAccountNotFound:
		return http.StatusNotFound
	case policy.CauseMustChangePassword:
		return http.StatusPreconditionRequired
	default:
		return http.StatusUnauthorized
	}
}

func (h *TicketHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *TicketHandler) writeError(w http.ResponseWriter, status int, code, description string) {
	h.writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
