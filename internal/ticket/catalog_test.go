package ticket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlepoint/sso-kernel/internal/ticket"
	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

func testCatalog(t *testing.T) *ticket.Catalog {
	t.Helper()
	catalog, err := ticket.NewCatalog(
		ticket.Definition{
			Name:      "ticket-granting",
			Kind:      ticket.KindTicketGranting,
			Prefix:    "TGT",
			StoreName: "sessions",
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return expiration.NewSliding(2*time.Hour, 8*time.Hour)
			},
		},
		ticket.Definition{
			Name:      "service",
			Kind:      ticket.KindService,
			Prefix:    "ST",
			StoreName: "grants",
			SingleUse: true,
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return expiration.NewUseLimit(1, 10*time.Second)
			},
		},
	)
	require.NoError(t, err)
	return catalog
}

func TestCatalogFindByID(t *testing.T) {
	catalog := testCatalog(t)

	def, err := catalog.FindByID("TGT-abcdef-node1")
	require.NoError(t, err)
	assert.Equal(t, ticket.KindTicketGranting, def.Kind)
	assert.Equal(t, "sessions", def.StoreName)

	def, err = catalog.FindByID("ST-xyz")
	require.NoError(t, err)
	assert.True(t, def.SingleUse)
}

func TestCatalogFindByIDUnregisteredPrefix(t *testing.T) {
	catalog := testCatalog(t)

	// Forged or foreign prefixes are rejected, never defaulted.
	_, err := catalog.FindByID("PGT-abcdef")
	assert.ErrorIs(t, err, ticket.ErrUnrecognizedTicketType)
}

func TestCatalogFindByIDMalformed(t *testing.T) {
	catalog := testCatalog(t)

	_, err := catalog.FindByID("garbage")
	assert.ErrorIs(t, err, ticket.ErrInvalidTicketIdentifier)
}

func TestCatalogFindByKind(t *testing.T) {
	catalog := testCatalog(t)

	def, err := catalog.FindByKind(ticket.KindService)
	require.NoError(t, err)
	assert.Equal(t, "ST", def.Prefix)

	_, err = catalog.FindByKind(ticket.KindProxy)
	assert.ErrorIs(t, err, ticket.ErrUnrecognizedTicketType)
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	def := ticket.Definition{
		Name:   "service",
		Kind:   ticket.KindService,
		Prefix: "ST",
		NewPolicy: func(*ticket.Authentication) expiration.Policy {
			return expiration.NewUseLimit(1, 10*time.Second)
		},
	}

	_, err := ticket.NewCatalog(def, def)
	require.Error(t, err)
}

func TestCatalogRejectsIncompleteDefinition(t *testing.T) {
	_, err := ticket.NewCatalog(ticket.Definition{Name: "broken", Kind: ticket.KindService})
	require.Error(t, err)
}
