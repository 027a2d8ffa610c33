// Package policy implements the authentication policy chain: a set of
// post-authentication checks that decide whether an established
// authentication is acceptable for issuing a session. Policies never
// verify credentials; they judge an authentication that credential
// handlers already produced.
package policy

import (
	"context"

	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// Cause classifies why a policy rejected an authentication, so callers
// can distinguish a bad login from a disabled or locked account.
type Cause string

const (
	// CauseNone marks a satisfied result.
	CauseNone Cause = ""
	// CauseFailedLogin is a generic authentication failure.
	CauseFailedLogin Cause = "failed-login"
	// CauseAccountDisabled marks a disabled account.
	CauseAccountDisabled Cause = "account-disabled"
	// CauseAccountLocked marks a locked account.
	CauseAccountLocked Cause = "account-locked"
	// CauseAccountExpired marks an expired account.
	CauseAccountExpired Cause = "account-expired"
	// CauseAccountNotFound marks an unknown principal.
	CauseAccountNotFound Cause = "account-not-found"
	// CauseMustChangePassword marks an account with a stale password.
	CauseMustChangePassword Cause = "must-change-password"
	// CauseRejected marks a policy rejection unrelated to account state,
	// e.g. a missing attribute or an exceeded session limit.
	CauseRejected Cause = "rejected"
)

// Result is the outcome of one policy evaluation. An unsatisfied result
// carries the cause and a human-readable detail; a transport or backend
// fault is reported through the error return instead, so callers never
// mistake an outage for a rejection.
type Result struct {
	// Satisfied reports whether the policy accepts the authentication.
	Satisfied bool
	// Cause classifies the rejection, CauseNone when satisfied.
	Cause Cause
	// Detail is a human-readable explanation for logs and error pages.
	Detail string
}

// Policy is one post-authentication check.
type Policy interface {
	// Name identifies the policy in logs and evaluation traces.
	Name() string

	// Evaluate judges the authentication. The error return is reserved
	// for evaluation faults; a rejection is a successful evaluation with
	// an unsatisfied Result.
	Evaluate(ctx context.Context, authn *ticket.Authentication) (Result, error)
}

func satisfied() Result {
	return Result{Satisfied: true}
}

func unsatisfied(cause Cause, detail string) Result {
	return Result{Cause: cause, Detail: detail}
}
