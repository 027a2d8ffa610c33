package ticket

import "time"

// Principal identifies the authenticated subject together with the
// attributes released by the identity source. Attributes are multi-valued
// to match directory-style sources.
type Principal struct {
	ID         string              `json:"id"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// HandlerResult records the outcome of a single credential handler that
// participated in the authentication attempt.
type HandlerResult struct {
	// HandlerName is the configured name of the handler.
	HandlerName string `json:"handlerName"`
	// Success indicates the handler accepted the credential.
	Success bool `json:"success"`
	// Detail carries an optional handler-supplied message, typically a
	// failure reason.
	Detail string `json:"detail,omitempty"`
}

// Authentication is the payload a protocol adapter hands to the policy
// chain after credential validation, and the payload a ticket-granting
// ticket carries for the lifetime of the session. It is immutable once the
// ticket is issued.
type Authentication struct {
	Principal  Principal           `json:"principal"`
	Results    []HandlerResult     `json:"results,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
	AuthnTime  time.Time           `json:"authnTime"`
	RememberMe bool                `json:"rememberMe,omitempty"`
}

// Successes returns the names of handlers that succeeded.
func (a *Authentication) Successes() []string {
	var names []string
	for _, r := range a.Results {
		if r.Success {
			names = append(names, r.HandlerName)
		}
	}
	return names
}

// Failures returns the results of handlers that failed.
func (a *Authentication) Failures() []HandlerResult {
	var failed []HandlerResult
	for _, r := range a.Results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}

// Attribute returns the merged values for a named attribute, preferring
// authentication-level attributes over principal attributes.
func (a *Authentication) Attribute(name string) []string {
	if vals, ok := a.Attributes[name]; ok {
		return vals
	}
	return a.Principal.Attributes[name]
}
