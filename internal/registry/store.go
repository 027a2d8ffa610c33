// Package registry implements the ticket registry: a storage abstraction
// over pluggable backends that owns CRUD, atomic issuance, atomic
// validate-and-consume, cascading revocation and expired-ticket cleanup.
//
// The registry relies on exactly two cross-process synchronization
// primitives, both provided by the Store port: insert-if-absent and
// compare-and-delete. Everything else in the kernel is stateless, so
// multiple server instances can share one logical registry behind a load
// balancer without in-process locking.
package registry

import (
	"context"

	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// Store is the storage port a backend driver must satisfy. Implementations
// must be safe for concurrent use across goroutines and, for distributed
// backends, across process boundaries.
//
// Error contract: Insert returns ticket.ErrDuplicateTicket on an existing
// identifier; Get returns ticket.ErrTicketNotFound on absence. Update is
// either strict (ticket.ErrTicketNotFound when the record vanished) or
// best-effort (the write is dropped); each implementation documents its
// choice. Any other error is treated as transient by the registry and
// retried with backoff.
type Store interface {
	// Close releases backend resources.
	Close() error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Insert atomically stores a ticket if and only if its identifier is
	// absent. Returns ticket.ErrDuplicateTicket on collision.
	Insert(ctx context.Context, t *ticket.Ticket) error

	// Get returns the raw stored record, expired or not. Expiration
	// filtering is the registry's concern.
	Get(ctx context.Context, id string) (*ticket.Ticket, error)

	// Update persists mutated lifecycle fields.
	Update(ctx context.Context, t *ticket.Ticket) error

	// CompareAndDelete atomically removes the record if its current use
	// count equals expectedUses. Returns false when the record is absent
	// or the count moved, letting racing consumers and sweepers win or
	// lose cleanly.
	CompareAndDelete(ctx context.Context, id string, expectedUses int) (bool, error)

	// Delete unconditionally removes the record. Returns whether a record
	// was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteAll removes every record and returns the count.
	DeleteAll(ctx context.Context) (int, error)

	// Children returns the identifiers of tickets in this store whose
	// parent is parentID. The store owns the traversal index; tickets
	// never embed child references.
	Children(ctx context.Context, parentID string) ([]string, error)

	// Scan visits every stored ticket. Used for counting and sweeping;
	// visit errors abort the scan.
	Scan(ctx context.Context, visit func(*ticket.Ticket) error) error
}
