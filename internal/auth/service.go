// Package auth implements the ticket kernel facade: session establishment
// through the authentication policy chain, ticket issuance along the
// grant hierarchy, validation and revocation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/metrics"
	"github.com/castlepoint/sso-kernel/internal/policy"
	"github.com/castlepoint/sso-kernel/internal/registry"
	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// ErrPolicyRejected marks authentications refused by the policy chain.
// The wrapping RejectionError carries the cause.
var ErrPolicyRejected = errors.New("authentication rejected by policy")

// RejectionError reports a policy chain rejection with its classified
// cause, so callers can render account-state-specific responses.
type RejectionError struct {
	Result policy.Result
}

// Error implements error.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("authentication rejected by policy: %s (%s)", e.Result.Detail, e.Result.Cause)
}

// Unwrap lets errors.Is match ErrPolicyRejected.
func (e *RejectionError) Unwrap() error { return ErrPolicyRejected }

// IssueRequest carries the per-issuance inputs of Issue. Fields are
// consulted per ticket kind; unused fields are ignored.
type IssueRequest struct {
	// Authentication is the established authentication. Required for
	// ticket-granting tickets, optional for proxy-granting tickets where
	// it defaults to the root session's payload.
	Authentication *ticket.Authentication
	// Service is the target service identifier. Required for service and
	// proxy tickets.
	Service string
	// Attributes is the key/value payload of transient session tickets.
	Attributes map[string]string
}

// Service is the ticket kernel facade.
type Service struct {
	registry *registry.Registry
	catalog  *ticket.Catalog
	ids      *ticket.IDGenerator
	chain    policy.Policy
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	clock    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the kernel facade. The chain may be nil for
// deployments without post-authentication policies.
func NewService(reg *registry.Registry, catalog *ticket.Catalog, ids *ticket.IDGenerator,
	chain policy.Policy, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		catalog:  catalog,
		ids:      ids,
		chain:    chain,
		logger:   logger,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs the authentication policy chain without issuing anything.
func (s *Service) Evaluate(ctx context.Context, authn *ticket.Authentication) (policy.Result, error) {
	if s.chain == nil {
		return policy.Result{Satisfied: true}, nil
	}
	res, err := s.chain.Evaluate(ctx, authn)
	if err != nil {
		return policy.Result{}, err
	}
	if !res.Satisfied && s.metrics != nil {
		s.metrics.AuthnRejected.WithLabelValues(string(res.Cause)).Inc()
	}
	return res, nil
}

// Issue creates and persists a ticket of the given kind. Root kinds
// reject a parent identifier; child kinds demand a live parent of the
// right kind, and issuance from a granting parent counts as a use of that
// parent, refreshing its sliding expiration.
//
// Session issuance runs the policy chain first; a rejection fails with a
// RejectionError before any state is written.
func (s *Service) Issue(ctx context.Context, kind ticket.Kind, parentID string, req IssueRequest) (*ticket.Ticket, error) {
	def, err := s.catalog.FindByKind(kind)
	if err != nil {
		return nil, err
	}

	t := &ticket.Ticket{
		Kind:         kind,
		ParentID:     parentID,
		CreationTime: s.clock(),
	}

	switch kind {
	case ticket.KindTicketGranting:
		if parentID != "" {
			return nil, fmt.Errorf("%w: session tickets are roots", ticket.ErrInvalidTicketType)
		}
		if req.Authentication == nil {
			return nil, errors.New("session issuance requires an authentication")
		}
		res, evalErr := s.Evaluate(ctx, req.Authentication)
		if evalErr != nil {
			return nil, evalErr
		}
		if !res.Satisfied {
			return nil, &RejectionError{Result: res}
		}
		t.Payload = req.Authentication

	case ticket.KindService:
		if req.Service == "" {
			return nil, errors.New("service ticket issuance requires a service identifier")
		}
		if _, useErr := s.useParent(ctx, parentID, ticket.KindTicketGranting); useErr != nil {
			return nil, useErr
		}
		t.Service = req.Service

	case ticket.KindProxyGranting:
		parent, getErr := s.activeParent(ctx, parentID, ticket.KindService, ticket.KindProxy)
		if getErr != nil {
			return nil, getErr
		}
		// The presenting ticket is single-use and vanishes on redemption,
		// so the proxy subtree chains off its granter instead: revoking
		// the session must reach every proxy ticket.
		granter, getErr := s.activeParent(ctx, parent.ParentID,
			ticket.KindTicketGranting, ticket.KindProxyGranting)
		if getErr != nil {
			return nil, getErr
		}
		t.ParentID = granter.ID
		t.Payload = req.Authentication
		if t.Payload == nil {
			t.Payload, err = s.rootPayload(ctx, parent)
			if err != nil {
				return nil, err
			}
		}

	case ticket.KindProxy:
		if req.Service == "" {
			return nil, errors.New("proxy ticket issuance requires a service identifier")
		}
		if _, useErr := s.useParent(ctx, parentID, ticket.KindProxyGranting); useErr != nil {
			return nil, useErr
		}
		t.Service = req.Service

	case ticket.KindTransient:
		if parentID != "" {
			return nil, fmt.Errorf("%w: transient tickets are roots", ticket.ErrInvalidTicketType)
		}
		t.Attributes = req.Attributes

	default:
		return nil, fmt.Errorf("%w: %q", ticket.ErrUnrecognizedTicketType, kind)
	}

	t.ID, err = s.ids.New(def.Prefix)
	if err != nil {
		return nil, err
	}
	t.Policy = def.NewPolicy(req.Authentication)

	if err := s.registry.AddTicket(ctx, t); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TicketsIssued.WithLabelValues(def.Name).Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"ticket_type": def.Name,
		"has_parent":  parentID != "",
	}).Debug("Ticket issued")
	return t, nil
}

// useParent validates the parent as part of child issuance, marking one
// use so sliding session expiration refreshes on activity.
func (s *Service) useParent(ctx context.Context, parentID string, kind ticket.Kind) (*ticket.Ticket, error) {
	if parentID == "" {
		return nil, fmt.Errorf("%w: issuance requires a %s parent", ticket.ErrInvalidTicketType, kind)
	}
	parent, err := s.registry.ValidateTicket(ctx, parentID, kind)
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// activeParent checks that the parent exists, is unexpired and is one of
// the allowed kinds, without consuming a use. Used for proxy-granting
// issuance, which happens while the presenting ticket is mid-validation.
func (s *Service) activeParent(ctx context.Context, parentID string, kinds ...ticket.Kind) (*ticket.Ticket, error) {
	if parentID == "" {
		return nil, fmt.Errorf("%w: issuance requires a parent", ticket.ErrInvalidTicketType)
	}
	parent, err := s.registry.GetTicket(ctx, parentID, "")
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		if parent.Kind == k {
			return parent, nil
		}
	}
	return nil, fmt.Errorf("%w: %s cannot grant this ticket", ticket.ErrInvalidTicketType, parent.Kind)
}

// rootPayload walks parent pointers until it finds an authentication
// payload, normally on the root session ticket.
func (s *Service) rootPayload(ctx context.Context, from *ticket.Ticket) (*ticket.Authentication, error) {
	current := from
	for {
		if current.Payload != nil {
			return current.Payload, nil
		}
		if current.ParentID == "" {
			return nil, fmt.Errorf("ticket %s has no authentication in its chain", from.ID)
		}
		next, err := s.registry.GetRawTicket(ctx, current.ParentID)
		if err != nil {
			return nil, err
		}
		current = next
	}
}

// ValidateAndConsume validates a ticket for use, consuming it when its
// policy exhausts. Under concurrent redemption of a single-use ticket
// exactly one caller succeeds.
func (s *Service) ValidateAndConsume(ctx context.Context, id string, kind ticket.Kind) (*ticket.Ticket, error) {
	t, err := s.registry.ValidateTicket(ctx, id, kind)

	if s.metrics != nil {
		name := string(kind)
		if def, defErr := s.catalog.FindByID(id); defErr == nil {
			name = def.Name
		}
		outcome := "success"
		switch {
		case err == nil:
		case errors.Is(err, ticket.ErrTicketAlreadyConsumed):
			outcome = "consumed"
		case errors.Is(err, ticket.ErrTicketNotFound):
			outcome = "not-found"
		default:
			outcome = "error"
		}
		s.metrics.TicketsValidated.WithLabelValues(name, outcome).Inc()
	}

	return t, err
}

// Revoke removes a ticket and everything granted beneath it, returning
// the number of tickets removed.
func (s *Service) Revoke(ctx context.Context, id string) (int, error) {
	removed, err := s.registry.DeleteTicket(ctx, id)
	if s.metrics != nil && removed > 0 {
		s.metrics.TicketsRevoked.Add(float64(removed))
	}
	return removed, err
}
