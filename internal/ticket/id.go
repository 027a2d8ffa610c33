package ticket

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// idSeparator joins the prefix, random token and node suffix.
	idSeparator = "-"
	// idTokenBytes is the entropy of the random token. 32 bytes is well
	// above the 128-bit floor for unguessable identifiers.
	idTokenBytes = 32
)

// idTokenEncoding is URL-safe base64 with "." in place of "-", so the
// token can never contain the identifier separator.
var idTokenEncoding = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789._",
).WithPadding(base64.NoPadding)

// IDGenerator mints collision-resistant, prefix-tagged ticket identifiers
// of the form <prefix>-<token>[-<suffix>]. The suffix attributes a ticket
// to the issuing cluster member for affinity and routing; it never affects
// validity.
type IDGenerator struct {
	suffix string
}

// NewIDGenerator returns a generator with the given node suffix. An empty
// suffix omits the trailing component.
func NewIDGenerator(suffix string) *IDGenerator {
	return &IDGenerator{suffix: suffix}
}

// DefaultNodeSuffix derives a stable-per-process node suffix for cluster
// members that have no configured identity.
func DefaultNodeSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// New mints an identifier for the given catalog prefix.
func (g *IDGenerator) New(prefix string) (string, error) {
	token := make([]byte, idTokenBytes)
	if _, err := rand.Read(token); err != nil {
		return "", fmt.Errorf("failed to generate ticket token: %w", err)
	}
	id := prefix + idSeparator + idTokenEncoding.EncodeToString(token)
	if g.suffix != "" {
		id += idSeparator + g.suffix
	}
	return id, nil
}

// ParsePrefix extracts the catalog prefix from a ticket identifier.
// Malformed input fails with ErrInvalidTicketIdentifier.
func ParsePrefix(id string) (string, error) {
	prefix, rest, ok := strings.Cut(id, idSeparator)
	if !ok || prefix == "" || rest == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicketIdentifier, id)
	}
	return prefix, nil
}
