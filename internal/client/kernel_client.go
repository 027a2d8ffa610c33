package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// Ticket is the wire form of an issued or validated ticket as returned
// by the kernel API.
type Ticket struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	ParentID   string            `json:"parentId,omitempty"`
	Service    string            `json:"service,omitempty"`
	UseCount   int               `json:"useCount"`
	Principal  string            `json:"principal,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// KernelClient is a typed client for the ticket kernel API. It covers
// session establishment, ticket issuance along the grant hierarchy,
// validation and revocation.
type KernelClient struct {
	*BaseClient
}

// NewKernelClient creates a client rooted at the kernel API base URL,
// including the version prefix (e.g., "http://localhost:8080/api/v1").
func NewKernelClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *KernelClient {
	return &KernelClient{BaseClient: NewBaseClient(baseURL, timeout, logger)}
}

// CreateSession establishes a session from an authentication result and
// returns the issued session ticket.
func (c *KernelClient) CreateSession(ctx context.Context, authn *ticket.Authentication) (*Ticket, error) {
	return c.issue(ctx, "/sessions", authn)
}

// GrantServiceTicket issues a single-use service ticket under a session.
func (c *KernelClient) GrantServiceTicket(ctx context.Context, sessionID, service string) (*Ticket, error) {
	path := "/sessions/" + url.PathEscape(sessionID) + "/service-tickets"
	return c.issue(ctx, path, map[string]string{"service": service})
}

// GrantProxyGranting issues a proxy-granting ticket under a service or
// proxy ticket.
func (c *KernelClient) GrantProxyGranting(ctx context.Context, ticketID string) (*Ticket, error) {
	path := "/tickets/" + url.PathEscape(ticketID) + "/proxy-granting"
	return c.issue(ctx, path, nil)
}

// GrantProxyTicket issues a single-use proxy ticket under a
// proxy-granting ticket.
func (c *KernelClient) GrantProxyTicket(ctx context.Context, pgtID, service string) (*Ticket, error) {
	path := "/proxy-granting/" + url.PathEscape(pgtID) + "/proxy-tickets"
	return c.issue(ctx, path, map[string]string{"service": service})
}

// CreateTransient issues a transient session ticket carrying the given
// attributes.
func (c *KernelClient) CreateTransient(ctx context.Context, attributes map[string]string) (*Ticket, error) {
	if attributes == nil {
		attributes = map[string]string{}
	}
	return c.issue(ctx, "/transient", attributes)
}

// Validate validates a ticket for use, consuming single-use tickets. An
// empty kind accepts any ticket type.
func (c *KernelClient) Validate(ctx context.Context, ticketID, kind string) (*Ticket, error) {
	path := "/tickets/" + url.PathEscape(ticketID) + "/validate"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}

	resp, err := c.Do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.ParseErrorResponse(resp)
	}
	return decodeTicket(resp)
}

// Revoke removes a ticket and its descendants, returning the number of
// tickets removed.
func (c *KernelClient) Revoke(ctx context.Context, ticketID string) (int, error) {
	resp, err := c.Do(ctx, http.MethodDelete, "/tickets/"+url.PathEscape(ticketID), nil)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, c.ParseErrorResponse(resp)
	}
	defer resp.Body.Close()

	var result map[string]int
	if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil {
		return 0, fmt.Errorf("failed to decode revocation response: %w", decodeErr)
	}
	return result["removed"], nil
}

// SessionStats reports the number of active sessions, optionally
// filtered by principal.
func (c *KernelClient) SessionStats(ctx context.Context, principal string) (int, error) {
	path := "/stats/sessions"
	if principal != "" {
		path += "?principal=" + url.QueryEscape(principal)
	}

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, c.ParseErrorResponse(resp)
	}
	defer resp.Body.Close()

	var stats map[string]int
	if decodeErr := json.NewDecoder(resp.Body).Decode(&stats); decodeErr != nil {
		return 0, fmt.Errorf("failed to decode stats response: %w", decodeErr)
	}
	return stats["active_sessions"], nil
}

// issue posts an issuance request and decodes the created ticket.
func (c *KernelClient) issue(ctx context.Context, path string, body interface{}) (*Ticket, error) {
	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, c.ParseErrorResponse(resp)
	}
	return decodeTicket(resp)
}

func decodeTicket(resp *http.Response) (*Ticket, error) {
	defer resp.Body.Close()

	var t Ticket
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode ticket response: %w", err)
	}
	return &t, nil
}
