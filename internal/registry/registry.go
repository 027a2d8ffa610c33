package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/castlepoint/sso-kernel/internal/ticket"
	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

const (
	// defaultMaxRetries bounds retries of transient storage failures.
	defaultMaxRetries = 3
	// defaultRetryBackoff is the base delay between storage retries.
	defaultRetryBackoff = 50 * time.Millisecond
	// defaultConsumeAttempts bounds the optimistic validate-and-consume
	// loop before the registry reports the ticket as already consumed.
	defaultConsumeAttempts = 3
)

// Predicate selects tickets for counting.
type Predicate func(*ticket.Ticket) bool

// TicketGrantingFor matches active ticket-granting tickets owned by the
// given principal. Used by the concurrent-session-limit policy.
func TicketGrantingFor(principalID string) Predicate {
	return func(t *ticket.Ticket) bool {
		return t.Kind == ticket.KindTicketGranting &&
			t.Payload != nil &&
			t.Payload.Principal.ID == principalID
	}
}

// Registry is the ticket registry: catalog-driven sharding over named
// stores, typed lookups, atomic issuance and consumption, cascading
// revocation and expired-ticket sweeping.
//
// All synchronization is delegated to the stores' atomic primitives, so a
// Registry instance per server process shares state correctly with its
// peers.
type Registry struct {
	catalog         *ticket.Catalog
	defaultStore    Store
	stores          map[string]Store
	logger          *logrus.Logger
	clock           func() time.Time
	maxRetries      int
	retryBackoff    time.Duration
	consumeAttempts int
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore routes catalog definitions with the given StoreName to a
// dedicated backend.
func WithStore(name string, s Store) Option {
	return func(r *Registry) { r.stores[name] = s }
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithRetry overrides the transient-failure retry bounds.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Registry) {
		r.maxRetries = attempts
		r.retryBackoff = backoff
	}
}

// WithConsumeAttempts overrides the optimistic consume retry bound.
func WithConsumeAttempts(attempts int) Option {
	return func(r *Registry) { r.consumeAttempts = attempts }
}

// New builds a Registry over the given catalog and default store.
func New(catalog *ticket.Catalog, defaultStore Store, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		catalog:         catalog,
		defaultStore:    defaultStore,
		stores:          make(map[string]Store),
		logger:          logger,
		clock:           time.Now,
		maxRetries:      defaultMaxRetries,
		retryBackoff:    defaultRetryBackoff,
		consumeAttempts: defaultConsumeAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// storeFor resolves the backend for a catalog definition.
func (r *Registry) storeFor(def *ticket.Definition) Store {
	if s, ok := r.stores[def.StoreName]; ok {
		return s
	}
	return r.defaultStore
}

// allStores returns the distinct configured stores.
func (r *Registry) allStores() []Store {
	stores := []Store{r.defaultStore}
	for _, s := range r.stores {
		if s != r.defaultStore {
			stores = append(stores, s)
		}
	}
	return stores
}

// AddTicket persists a newly issued ticket. The insert is atomic
// insert-if-absent: an existing identifier fails with
// ticket.ErrDuplicateTicket and never overwrites, since a collision is
// either an ID-generation bug or an attack.
func (r *Registry) AddTicket(ctx context.Context, t *ticket.Ticket) error {
	def, err := r.catalog.FindByKind(t.Kind)
	if err != nil {
		return err
	}
	store := r.storeFor(def)

	if err := r.withRetry(ctx, func() error { return store.Insert(ctx, t) }); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"ticket_id":   maskID(t.ID),
		"ticket_type": def.Name,
	}).Debug("Ticket added to registry")
	return nil
}

// GetTicket returns the ticket with the given identifier, checked against
// the expected kind. An expired ticket is reported as not found: from the
// caller's perspective it no longer exists. A zero kind skips the type
// check.
func (r *Registry) GetTicket(ctx context.Context, id string, kind ticket.Kind) (*ticket.Ticket, error) {
	t, err := r.GetRawTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if kind != "" && t.Kind != kind {
		return nil, fmt.Errorf("%w: %s is %s, requested %s", ticket.ErrInvalidTicketType, id, t.Kind, kind)
	}
	if t.IsExpired(r.clock()) {
		return nil, fmt.Errorf("%w: %s is expired", ticket.ErrTicketNotFound, id)
	}
	return t, nil
}

// GetRawTicket returns the stored record without expiration filtering, for
// diagnostics and cleanup.
func (r *Registry) GetRawTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	def, err := r.catalog.FindByID(id)
	if err != nil {
		return nil, err
	}
	store := r.storeFor(def)

	var t *ticket.Ticket
	err = r.withRetry(ctx, func() error {
		var getErr error
		t, getErr = store.Get(ctx, id)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTicket persists mutated lifecycle fields. Only the validate/use
// path mutates them; read-only lookups never write.
func (r *Registry) UpdateTicket(ctx context.Context, t *ticket.Ticket) error {
	def, err := r.catalog.FindByKind(t.Kind)
	if err != nil {
		return err
	}
	store := r.storeFor(def)
	return r.withRetry(ctx, func() error { return store.Update(ctx, t) })
}

// ValidateTicket atomically validates and consumes one use of a ticket.
// Single-use tickets are removed as part of the same logical operation
// that validates them: under concurrent redemption exactly one caller
// succeeds and the others fail with ticket.ErrTicketAlreadyConsumed.
//
// The consume protocol is optimistic: read, check, compare-and-delete on
// the observed use count, retry a bounded number of times on conflict.
func (r *Registry) ValidateTicket(ctx context.Context, id string, kind ticket.Kind) (*ticket.Ticket, error) {
	def, err := r.catalog.FindByID(id)
	if err != nil {
		return nil, err
	}
	if kind != "" && def.Kind != kind {
		return nil, fmt.Errorf("%w: %s is %s, requested %s", ticket.ErrInvalidTicketType, id, def.Kind, kind)
	}
	store := r.storeFor(def)

	for attempt := 0; attempt < r.consumeAttempts; attempt++ {
		current, getErr := r.getForValidation(ctx, store, id, def)
		if getErr != nil {
			return nil, getErr
		}

		now := r.clock()
		if current.IsExpired(now) {
			// Lazy cleanup. A dead granting ticket takes its subtree with
			// it, exactly as the sweeper would; leaves go through a
			// conditional delete so a racing consumer is safe.
			if isGranting(current.Kind) {
				if _, delErr := r.DeleteTicket(ctx, id); delErr != nil {
					r.logger.WithError(delErr).WithField("ticket_id", maskID(id)).
						Warn("Failed to clean up expired ticket")
				}
			} else {
				_, _ = store.CompareAndDelete(ctx, id, current.UseCount)
			}
			return nil, fmt.Errorf("%w: %s is expired", ticket.ErrTicketNotFound, id)
		}

		next := current.Clone()
		next.MarkUsed(now)

		if consumesOnUse(next) {
			swapped, casErr := store.CompareAndDelete(ctx, id, current.UseCount)
			if casErr != nil {
				return nil, r.asStorageFailure(casErr)
			}
			if swapped {
				r.logger.WithField("ticket_id", maskID(id)).Debug("Ticket validated and consumed")
				return next, nil
			}
			// Lost the race; re-read and try again.
			continue
		}

		if updErr := r.withRetry(ctx, func() error { return store.Update(ctx, next) }); updErr != nil {
			if errors.Is(updErr, ticket.ErrTicketNotFound) {
				// Deleted between read and write by a logout or sweep.
				return nil, fmt.Errorf("%w: %s", ticket.ErrTicketNotFound, id)
			}
			return nil, updErr
		}
		return next, nil
	}

	return nil, fmt.Errorf("%w: %s", ticket.ErrTicketAlreadyConsumed, id)
}

// getForValidation loads a ticket on the consume path, translating absence
// of a single-use ticket into the caller-visible already-consumed error.
func (r *Registry) getForValidation(ctx context.Context, store Store, id string, def *ticket.Definition) (*ticket.Ticket, error) {
	var t *ticket.Ticket
	err := r.withRetry(ctx, func() error {
		var getErr error
		t, getErr = store.Get(ctx, id)
		return getErr
	})
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) && def.SingleUse {
			return nil, fmt.Errorf("%w: %s", ticket.ErrTicketAlreadyConsumed, id)
		}
		return nil, err
	}
	return t, nil
}

// isGranting reports whether tickets of this kind grant children, so a
// dead instance invalidates its whole subtree.
func isGranting(kind ticket.Kind) bool {
	return kind == ticket.KindTicketGranting || kind == ticket.KindProxyGranting
}

// consumesOnUse reports whether the ticket's policy exhausts with this
// use, requiring validate-and-consume semantics.
func consumesOnUse(next *ticket.Ticket) bool {
	if ul, ok := next.Policy.(expiration.UseLimited); ok {
		return next.UseCount >= ul.MaxUses()
	}
	return false
}

// DeleteTicket removes a ticket and, transitively, every ticket chained
// beneath it, returning the total number removed so callers can audit
// revocation breadth. Partial cascade failure is surfaced with the count
// of successfully removed tickets plus the aggregated failure, never
// silently ignored.
func (r *Registry) DeleteTicket(ctx context.Context, id string) (int, error) {
	removed := 0
	var failure error
	seen := make(map[string]struct{})

	var remove func(id string)
	remove = func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		// Children first, so a crash mid-cascade leaves no orphaned
		// descendants reachable through a dead root.
		for _, store := range r.allStores() {
			kids, err := store.Children(ctx, id)
			if err != nil {
				failure = multierr.Append(failure, fmt.Errorf("failed to list children of %s: %w", id, err))
				continue
			}
			for _, kid := range kids {
				remove(kid)
			}
		}

		def, err := r.catalog.FindByID(id)
		if err != nil {
			failure = multierr.Append(failure, err)
			return
		}
		ok, err := r.storeFor(def).Delete(ctx, id)
		if err != nil {
			failure = multierr.Append(failure, fmt.Errorf("failed to delete %s: %w", id, err))
			return
		}
		if ok {
			removed++
		}
	}
	remove(id)

	if failure != nil {
		return removed, fmt.Errorf("cascade removed %d tickets before failing: %w", removed, failure)
	}

	r.logger.WithFields(logrus.Fields{
		"ticket_id":       maskID(id),
		"tickets_removed": removed,
	}).Info("Ticket revoked")
	return removed, nil
}

// DeleteAll flushes every configured store. Administrative use only.
func (r *Registry) DeleteAll(ctx context.Context) (int, error) {
	total := 0
	var failure error
	for _, store := range r.allStores() {
		n, err := store.DeleteAll(ctx)
		total += n
		if err != nil {
			failure = multierr.Append(failure, err)
		}
	}
	return total, failure
}

// CountTickets counts unexpired tickets matching the predicate across all
// stores. A nil predicate counts every active ticket.
func (r *Registry) CountTickets(ctx context.Context, pred Predicate) (int, error) {
	now := r.clock()
	count := 0
	for _, store := range r.allStores() {
		err := store.Scan(ctx, func(t *ticket.Ticket) error {
			if t.IsExpired(now) {
				return nil
			}
			if pred == nil || pred(t) {
				count++
			}
			return nil
		})
		if err != nil {
			return count, r.asStorageFailure(err)
		}
	}
	return count, nil
}

// SweepExpired removes tickets whose policy reports them expired. Roots
// with descendants cascade; leaf removals are conditional on the observed
// use count so a sweep racing a consumption wins or loses cleanly with no
// double free. Failures are reported for logging and retried on the next
// cycle, never fatal to the issuing path.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	now := r.clock()
	removed := 0
	var failure error

	for _, store := range r.allStores() {
		type candidate struct {
			id       string
			useCount int
			granting bool
		}
		var expired []candidate

		err := store.Scan(ctx, func(t *ticket.Ticket) error {
			if t.IsExpired(now) {
				expired = append(expired, candidate{
					id:       t.ID,
					useCount: t.UseCount,
					granting: isGranting(t.Kind),
				})
			}
			return nil
		})
		if err != nil {
			failure = multierr.Append(failure, err)
			continue
		}

		for _, c := range expired {
			if c.granting {
				// Descendants of a dead granting ticket are invalid
				// regardless of their own policies.
				n, delErr := r.DeleteTicket(ctx, c.id)
				removed += n
				if delErr != nil {
					failure = multierr.Append(failure, delErr)
				}
				continue
			}
			ok, delErr := store.CompareAndDelete(ctx, c.id, c.useCount)
			if delErr != nil {
				failure = multierr.Append(failure, delErr)
				continue
			}
			if ok {
				removed++
			}
		}
	}

	if removed > 0 {
		r.logger.WithField("tickets_removed", removed).Debug("Swept expired tickets")
	}
	return removed, failure
}

// Ping verifies connectivity of every configured store.
func (r *Registry) Ping(ctx context.Context) error {
	var failure error
	for _, store := range r.allStores() {
		if err := store.Ping(ctx); err != nil {
			failure = multierr.Append(failure, err)
		}
	}
	return failure
}

// withRetry runs op, retrying transient storage failures a bounded number
// of times with linear backoff before surfacing
// ticket.ErrStorageUnavailable. Domain errors pass through untouched so
// absence is never conflated with unreachability.
func (r *Registry) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ticket.ErrStorageUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * r.retryBackoff):
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		if isDomainError(err) {
			return err
		}
		lastErr = err
		r.logger.WithError(err).WithField("attempt", attempt+1).Warn("Transient ticket storage failure")
	}
	return fmt.Errorf("%w: %w", ticket.ErrStorageUnavailable, lastErr)
}

// asStorageFailure wraps non-domain errors as storage-unavailable.
func (r *Registry) asStorageFailure(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ticket.ErrStorageUnavailable, err)
}

// isDomainError reports whether err is part of the kernel's error
// taxonomy rather than a backend fault.
func isDomainError(err error) bool {
	return errors.Is(err, ticket.ErrDuplicateTicket) ||
		errors.Is(err, ticket.ErrTicketNotFound) ||
		errors.Is(err, ticket.ErrInvalidTicketType) ||
		errors.Is(err, ticket.ErrTicketAlreadyConsumed) ||
		errors.Is(err, ticket.ErrUnrecognizedTicketType) ||
		errors.Is(err, ticket.ErrInvalidTicketIdentifier)
}
