package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/castlepoint/sso-kernel/internal/registry"
	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// AnyHandler is satisfied when at least one credential handler reported
// success. This is the default acceptance rule.
type AnyHandler struct{}

// Name implements Policy.
func (AnyHandler) Name() string { return "any-handler" }

// Evaluate implements Policy.
func (AnyHandler) Evaluate(_ context.Context, authn *ticket.Authentication) (Result, error) {
	if len(authn.Successes()) > 0 {
		return satisfied(), nil
	}
	return unsatisfied(CauseFailedLogin, "no credential handler succeeded"), nil
}

// AllHandlers is satisfied only when every attempted credential handler
// succeeded, for deployments that demand multi-factor agreement.
type AllHandlers struct{}

// Name implements Policy.
func (AllHandlers) Name() string { return "all-handlers" }

// Evaluate implements Policy.
func (AllHandlers) Evaluate(_ context.Context, authn *ticket.Authentication) (Result, error) {
	if len(authn.Successes()) == 0 {
		return unsatisfied(CauseFailedLogin, "no credential handler succeeded"), nil
	}
	if failed := authn.Failures(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, f := range failed {
			names = append(names, f.HandlerName)
		}
		return unsatisfied(CauseFailedLogin,
			fmt.Sprintf("handlers failed: %s", strings.Join(names, ", "))), nil
	}
	return satisfied(), nil
}

// RequiredAttributes rejects principals missing required attributes. Each
// requirement is either a bare attribute name, demanding presence, or a
// name=value pair, demanding that specific value among the attribute's
// values.
type RequiredAttributes struct {
	requirements []requirement
}

type requirement struct {
	name  string
	value string
	exact bool
}

// NewRequiredAttributes parses requirements in name or name=value form.
func NewRequiredAttributes(specs []string) *RequiredAttributes {
	p := &RequiredAttributes{}
	for _, spec := range specs {
		name, value, found := strings.Cut(spec, "=")
		p.requirements = append(p.requirements, requirement{
			name:  name,
			value: value,
			exact: found,
		})
	}
	return p
}

// Name implements Policy.
func (*RequiredAttributes) Name() string { return "required-attributes" }

// Evaluate implements Policy.
func (p *RequiredAttributes) Evaluate(_ context.Context, authn *ticket.Authentication) (Result, error) {
	for _, req := range p.requirements {
		values, ok := authn.Principal.Attributes[req.name]
		if !ok || len(values) == 0 {
			return unsatisfied(CauseRejected,
				fmt.Sprintf("missing required attribute %q", req.name)), nil
		}
		if req.exact && !contains(values, req.value) {
			return unsatisfied(CauseRejected,
				fmt.Sprintf("attribute %q does not carry required value", req.name)), nil
		}
	}
	return satisfied(), nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// SessionLimit caps concurrent active sessions per principal by counting
// live session tickets in the registry.
type SessionLimit struct {
	limit    int
	registry *registry.Registry
}

// NewSessionLimit builds the limit policy. A limit below one accepts
// unconditionally.
func NewSessionLimit(limit int, reg *registry.Registry) *SessionLimit {
	return &SessionLimit{limit: limit, registry: reg}
}

// Name implements Policy.
func (*SessionLimit) Name() string { return "session-limit" }

// Evaluate implements Policy.
func (p *SessionLimit) Evaluate(ctx context.Context, authn *ticket.Authentication) (Result, error) {
	if p.limit < 1 {
		return satisfied(), nil
	}
	count, err := p.registry.CountTickets(ctx, registry.TicketGrantingFor(authn.Principal.ID))
	if err != nil {
		return Result{}, fmt.Errorf("failed to count sessions: %w", err)
	}
	if count >= p.limit {
		return unsatisfied(CauseRejected,
			fmt.Sprintf("principal has %d active sessions, limit is %d", count, p.limit)), nil
	}
	return satisfied(), nil
}
