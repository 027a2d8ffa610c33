// Package ticket defines the ticket model of the SSO kernel: the tagged
// ticket variants, the authentication payload they carry, the catalog that
// maps identifier prefixes to type metadata, and the identifier scheme.
//
// Tickets are a closed set of variants discriminated by Kind; the catalog
// is the single source of truth mapping identifiers to variant metadata.
// The expired state is always derived from the ticket's expiration policy
// at read time and is never persisted, so a stored flag can never drift
// from the policy's own judgment.
package ticket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

// Kind discriminates the ticket variants.
type Kind string

const (
	// KindTicketGranting is the root credential of a principal's session.
	KindTicketGranting Kind = "ticket-granting"
	// KindService is a single-use credential presented to one service.
	KindService Kind = "service"
	// KindProxyGranting lets a service obtain proxy tickets on the
	// principal's behalf.
	KindProxyGranting Kind = "proxy-granting"
	// KindProxy is a single-use credential a proxying service presents to
	// a second service.
	KindProxy Kind = "proxy"
	// KindTransient is a short-lived protocol-agnostic key/value carrier
	// used to stash request context across a redirect.
	KindTransient Kind = "transient"
)

// Ticket is an issued credential. Identity fields are immutable once
// created; LastUsedTime and UseCount mutate only through the registry's
// validate/use path.
//
// The parent/child relation is a parent pointer only. The registry owns
// the child index used for cascading revocation, so tickets never embed
// live references to their descendants.
type Ticket struct {
	// ID is the globally unique identifier, prefix-tagged per catalog.
	ID string
	// Kind is the variant discriminator.
	Kind Kind
	// ParentID references the parent ticket, empty for roots. The parent
	// must already exist in the registry when the child is created, which
	// keeps the graph a forest by construction.
	ParentID string
	// Service is the target service identifier for service and proxy
	// tickets.
	Service string
	// CreationTime is the issuance instant.
	CreationTime time.Time
	// LastUsedTime is the instant of the last validated use.
	LastUsedTime time.Time
	// UseCount is the number of validated uses.
	UseCount int
	// Payload is the authentication carried by ticket-granting and
	// proxy-granting tickets.
	Payload *Authentication
	// Attributes is the key/value carrier of transient session tickets.
	Attributes map[string]string
	// Policy judges expiration. Owned by the ticket so per-context
	// selections (remember-me) travel with it.
	Policy expiration.Policy
}

// state snapshots the lifecycle fields the expiration policy evaluates.
func (t *Ticket) state() expiration.State {
	s := expiration.State{
		CreationTime: t.CreationTime,
		LastUsedTime: t.LastUsedTime,
		UseCount:     t.UseCount,
	}
	if t.Payload != nil {
		s.RememberMe = t.Payload.RememberMe
	}
	return s
}

// IsExpired reports whether the ticket is expired at the given instant,
// recomputed from the policy on every call.
func (t *Ticket) IsExpired(now time.Time) bool {
	return t.Policy.IsExpired(t.state(), now)
}

// TTL returns the remaining lifetime at the given instant, zero for
// policies that are not time based.
func (t *Ticket) TTL(now time.Time) time.Duration {
	return t.Policy.TTL(t.state(), now)
}

// MarkUsed records a validated use. Only the registry's validate path may
// call it.
func (t *Ticket) MarkUsed(now time.Time) {
	t.UseCount++
	t.LastUsedTime = now
}

// IsRoot reports whether the ticket has no parent.
func (t *Ticket) IsRoot() bool { return t.ParentID == "" }

// Clone returns a shallow copy suitable for the registry's optimistic
// validate-and-consume protocol. The payload and policy are shared; both
// are immutable after issuance.
func (t *Ticket) Clone() *Ticket {
	c := *t
	return &c
}

// wire is the storage form of a ticket. The policy is embedded in its
// envelope encoding so any backend can round-trip it.
type wire struct {
	ID           string            `json:"id"`
	Kind         Kind              `json:"kind"`
	ParentID     string            `json:"parentId,omitempty"`
	Service      string            `json:"service,omitempty"`
	CreationTime time.Time         `json:"creationTime"`
	LastUsedTime time.Time         `json:"lastUsedTime,omitempty"`
	UseCount     int               `json:"useCount"`
	Payload      *Authentication   `json:"payload,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Policy       json.RawMessage   `json:"policy"`
}

// MarshalJSON implements json.Marshaler.
func (t *Ticket) MarshalJSON() ([]byte, error) {
	policy, err := expiration.Marshal(t.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ticket %s: %w", t.ID, err)
	}
	return json.Marshal(wire{
		ID:           t.ID,
		Kind:         t.Kind,
		ParentID:     t.ParentID,
		Service:      t.Service,
		CreationTime: t.CreationTime,
		LastUsedTime: t.LastUsedTime,
		UseCount:     t.UseCount,
		Payload:      t.Payload,
		Attributes:   t.Attributes,
		Policy:       policy,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	policy, err := expiration.Unmarshal(w.Policy)
	if err != nil {
		return fmt.Errorf("failed to unmarshal policy of ticket %s: %w", w.ID, err)
	}
	*t = Ticket{
		ID:           w.ID,
		Kind:         w.Kind,
		ParentID:     w.ParentID,
		Service:      w.Service,
		CreationTime: w.CreationTime,
		LastUsedTime: w.LastUsedTime,
		UseCount:     w.UseCount,
		Payload:      w.Payload,
		Attributes:   w.Attributes,
		Policy:       policy,
	}
	return nil
}
