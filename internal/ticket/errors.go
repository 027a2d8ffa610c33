package ticket

import "errors"

// Sentinel errors for the ticket kernel. Callers match them with errors.Is;
// the registry and service layers wrap them with contextual detail.
var (
	// ErrDuplicateTicket indicates an insert collided with an existing
	// identifier. Issuance must be collision free, so this is either an
	// ID-generation bug or an attack and is never silently overwritten.
	ErrDuplicateTicket = errors.New("ticket already exists")

	// ErrTicketNotFound indicates the requested ticket is absent, or is
	// expired and therefore treated as absent from the caller's
	// perspective.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrInvalidTicketType indicates the stored ticket does not match the
	// type the caller asked for.
	ErrInvalidTicketType = errors.New("ticket type mismatch")

	// ErrTicketAlreadyConsumed indicates a single-use ticket lost a
	// redemption race or was redeemed before.
	ErrTicketAlreadyConsumed = errors.New("ticket already consumed")

	// ErrUnrecognizedTicketType indicates an identifier prefix that maps
	// to no catalog definition. Treated as security relevant: the caller
	// must reject, never guess, because it can indicate a forged
	// identifier.
	ErrUnrecognizedTicketType = errors.New("unrecognized ticket type")

	// ErrInvalidTicketIdentifier indicates a malformed ticket identifier.
	ErrInvalidTicketIdentifier = errors.New("invalid ticket identifier")

	// ErrStorageUnavailable indicates the backing store could not be
	// reached after bounded retries. It is deliberately distinct from
	// ErrTicketNotFound: absence and unreachability must never be
	// conflated.
	ErrStorageUnavailable = errors.New("ticket storage unavailable")
)
