package policy

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// Chain evaluates an ordered set of policies and requires every one of
// them to be satisfied. Evaluation short-circuits on the first rejection
// or fault, so expensive policies (remote calls) belong at the end of the
// chain.
type Chain struct {
	policies []Policy
	logger   *logrus.Logger
}

// NewChain builds a policy chain. An empty chain is satisfied by any
// authentication.
func NewChain(logger *logrus.Logger, policies ...Policy) *Chain {
	return &Chain{policies: policies, logger: logger}
}

// Name implements Policy, so chains compose.
func (c *Chain) Name() string { return "chain" }

// Evaluate implements Policy.
func (c *Chain) Evaluate(ctx context.Context, authn *ticket.Authentication) (Result, error) {
	for _, p := range c.policies {
		res, err := p.Evaluate(ctx, authn)
		if err != nil {
			return Result{}, fmt.Errorf("policy %s failed to evaluate: %w", p.Name(), err)
		}
		if !res.Satisfied {
			c.logger.WithFields(logrus.Fields{
				"policy":    p.Name(),
				"principal": authn.Principal.ID,
				"cause":     string(res.Cause),
			}).Info("Authentication rejected by policy")
			return res, nil
		}
	}
	return satisfied(), nil
}

// AnyOf evaluates a set of alternative policies and is satisfied when at
// least one of them is. The rejection of the last evaluated policy is
// reported when none accepts.
type AnyOf struct {
	policies []Policy
	logger   *logrus.Logger
}

// NewAnyOf builds an alternative group. An empty group rejects every
// authentication, since no alternative accepted it.
func NewAnyOf(logger *logrus.Logger, policies ...Policy) *AnyOf {
	return &AnyOf{policies: policies, logger: logger}
}

// Name implements Policy.
func (a *AnyOf) Name() string { return "any-of" }

// Evaluate implements Policy.
func (a *AnyOf) Evaluate(ctx context.Context, authn *ticket.Authentication) (Result, error) {
	last := unsatisfied(CauseRejected, "no policy accepted the authentication")
	for _, p := range a.policies {
		res, err := p.Evaluate(ctx, authn)
		if err != nil {
			return Result{}, fmt.Errorf("policy %s failed to evaluate: %w", p.Name(), err)
		}
		if res.Satisfied {
			return res, nil
		}
		last = res
	}
	a.logger.WithField("principal", authn.Principal.ID).
		Info("Authentication rejected by every alternative policy")
	return last, nil
}
