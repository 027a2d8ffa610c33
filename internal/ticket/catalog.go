package ticket

import (
	"fmt"

	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

// PolicyFactory builds a fresh expiration policy for a ticket about to be
// issued. The authentication context may be nil for tickets that carry no
// payload (service, proxy and transient tickets).
type PolicyFactory func(authn *Authentication) expiration.Policy

// Definition is the catalog metadata of one ticket type.
type Definition struct {
	// Name is the human-readable type name, e.g. "ticket-granting".
	Name string
	// Kind is the ticket variant this definition describes.
	Kind Kind
	// Prefix tags identifiers of this type, e.g. "TGT".
	Prefix string
	// StoreName routes tickets of this type to a named registry store,
	// letting short-lived and long-lived tickets live in separate
	// backends without the catalog knowing the backend type.
	StoreName string
	// SingleUse marks types whose validation consumes the ticket. Used
	// for caller-visible error semantics on the consume path.
	SingleUse bool
	// NewPolicy builds the expiration policy for each issued ticket.
	NewPolicy PolicyFactory
	// Properties carries backend-specific settings, e.g. an encryption
	// requirement for a distributed store.
	Properties map[string]string
}

// Catalog is the load-time-populated registry of ticket definitions,
// indexed by kind and by identifier prefix. It is immutable after New and
// safe for concurrent reads.
type Catalog struct {
	byKind   map[Kind]*Definition
	byPrefix map[string]*Definition
}

// NewCatalog builds a catalog from the given definitions. Duplicate kinds
// or prefixes and incomplete definitions are configuration bugs and fail
// loudly.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		byKind:   make(map[Kind]*Definition, len(defs)),
		byPrefix: make(map[string]*Definition, len(defs)),
	}
	for i := range defs {
		def := defs[i]
		if def.Kind == "" || def.Prefix == "" || def.NewPolicy == nil {
			return nil, fmt.Errorf("incomplete ticket definition %q", def.Name)
		}
		if _, ok := c.byKind[def.Kind]; ok {
			return nil, fmt.Errorf("duplicate ticket definition for kind %q", def.Kind)
		}
		if _, ok := c.byPrefix[def.Prefix]; ok {
			return nil, fmt.Errorf("duplicate ticket prefix %q", def.Prefix)
		}
		c.byKind[def.Kind] = &def
		c.byPrefix[def.Prefix] = &def
	}
	return c, nil
}

// FindByID resolves the definition for a ticket identifier by parsing its
// prefix. An unregistered prefix fails with ErrUnrecognizedTicketType and
// must be treated as a reject: it can indicate a forged identifier.
func (c *Catalog) FindByID(id string) (*Definition, error) {
	prefix, err := ParsePrefix(id)
	if err != nil {
		return nil, err
	}
	def, ok := c.byPrefix[prefix]
	if !ok {
		return nil, fmt.Errorf("%w: prefix %q", ErrUnrecognizedTicketType, prefix)
	}
	return def, nil
}

// FindByKind resolves the definition for a ticket variant.
func (c *Catalog) FindByKind(kind Kind) (*Definition, error) {
	def, ok := c.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", ErrUnrecognizedTicketType, kind)
	}
	return def, nil
}

// Definitions returns all registered definitions.
func (c *Catalog) Definitions() []*Definition {
	defs := make([]*Definition, 0, len(c.byKind))
	for _, def := range c.byKind {
		defs = append(defs, def)
	}
	return defs
}
