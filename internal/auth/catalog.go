package auth

import (
	"fmt"

	"github.com/castlepoint/sso-kernel/internal/config"
	"github.com/castlepoint/sso-kernel/internal/ticket"
	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

// Ticket identifier prefixes. Stable wire-level contract: identifiers
// issued under one deployment must remain resolvable after upgrades.
const (
	PrefixTicketGranting = "TGT"
	PrefixService        = "ST"
	PrefixProxyGranting  = "PGT"
	PrefixProxy          = "PT"
	PrefixTransient      = "TST"
)

// NewCatalog builds the ticket catalog from configured lifetimes. The
// session policy slides on activity up to a hard ceiling; remember-me
// sessions trade the sliding window for a long fixed ceiling when a
// lifetime is configured.
func NewCatalog(cfg *config.TicketConfig) (*ticket.Catalog, error) {
	sessionPolicy := func(*ticket.Authentication) expiration.Policy {
		plain := &expiration.Sliding{
			IdleTimeout:   cfg.GrantingIdleTimeout,
			MaxTimeToLive: cfg.GrantingMaxLifetime,
		}
		if cfg.RememberMeLifetime <= 0 {
			return plain
		}
		return &expiration.RememberMe{
			Plain:         plain,
			RememberMeTTL: cfg.RememberMeLifetime,
		}
	}

	catalog, err := ticket.NewCatalog(
		ticket.Definition{
			Name:      "ticket-granting",
			Kind:      ticket.KindTicketGranting,
			Prefix:    PrefixTicketGranting,
			NewPolicy: sessionPolicy,
		},
		ticket.Definition{
			Name:      "service",
			Kind:      ticket.KindService,
			Prefix:    PrefixService,
			SingleUse: true,
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return expiration.NewUseLimit(cfg.ServiceMaxUses, cfg.ServiceLifetime)
			},
		},
		ticket.Definition{
			Name:   "proxy-granting",
			Kind:   ticket.KindProxyGranting,
			Prefix: PrefixProxyGranting,
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return &expiration.HardTimeout{MaxTimeToLive: cfg.ProxyGrantingMaxLifetime}
			},
		},
		ticket.Definition{
			Name:      "proxy",
			Kind:      ticket.KindProxy,
			Prefix:    PrefixProxy,
			SingleUse: true,
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return expiration.NewUseLimit(cfg.ProxyMaxUses, cfg.ProxyLifetime)
			},
		},
		ticket.Definition{
			Name:   "transient",
			Kind:   ticket.KindTransient,
			Prefix: PrefixTransient,
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return &expiration.HardTimeout{MaxTimeToLive: cfg.TransientLifetime}
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build ticket catalog: %w", err)
	}
	return catalog, nil
}
