// Package expiration provides the expiration policies applied to issued
// tickets. Policies are pure with respect to the wall clock: expiration is
// recomputed from the ticket's recorded state and the caller-supplied clock
// on every evaluation, so no backend ever needs to track per-ticket timers
// and a stored ticket can never carry a stale expired flag.
package expiration

import (
	"time"
)

// State is the snapshot of ticket lifecycle fields a policy evaluates.
// It deliberately excludes the ticket identity so policies stay reusable
// across ticket types.
type State struct {
	// CreationTime is the instant the ticket was issued.
	CreationTime time.Time
	// LastUsedTime is the instant of the most recent validated use.
	LastUsedTime time.Time
	// UseCount is the number of successful redemptions so far.
	UseCount int
	// RememberMe indicates the originating authentication requested
	// long-lived ("remember me") semantics.
	RememberMe bool
}

// Policy decides whether a ticket is still valid at a given instant.
//
// Implementations must be safe for concurrent use and must not retain
// references to the supplied state.
type Policy interface {
	// Kind returns the discriminator used for serialization.
	Kind() string
	// IsExpired reports whether a ticket with the given state is expired
	// at the supplied instant.
	IsExpired(s State, now time.Time) bool
	// TTL returns the remaining time to live at the supplied instant.
	// Policies that are not time based return zero.
	TTL(s State, now time.Time) time.Duration
}

// UseLimited is implemented by policies that bound the number of
// redemptions. The registry consults it to decide whether a validated
// ticket must be consumed as part of the same operation.
type UseLimited interface {
	MaxUses() int
}

// Lifetimed is implemented by time-based policies with a hard ceiling.
// Storage backends may use it to set a backstop TTL on stored records.
type Lifetimed interface {
	MaxLifetime() time.Duration
}

// Policy kind discriminators.
const (
	KindHardTimeout = "hard-timeout"
	KindSliding     = "sliding"
	KindUseLimit    = "use-limit"
	KindRememberMe  = "remember-me"
	KindNever       = "never"
)

// HardTimeout expires a ticket exactly MaxTimeToLive after its creation,
// regardless of use.
type HardTimeout struct {
	MaxTimeToLive time.Duration `json:"maxTimeToLive"`
}

// NewHardTimeout returns a hard-timeout policy with the given lifetime.
func NewHardTimeout(ttl time.Duration) *HardTimeout {
	return &HardTimeout{MaxTimeToLive: ttl}
}

func (p *HardTimeout) Kind() string { return KindHardTimeout }

func (p *HardTimeout) IsExpired(s State, now time.Time) bool {
	return now.Sub(s.CreationTime) >= p.MaxTimeToLive
}

func (p *HardTimeout) TTL(s State, now time.Time) time.Duration {
	remaining := p.MaxTimeToLive - now.Sub(s.CreationTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *HardTimeout) MaxLifetime() time.Duration { return p.MaxTimeToLive }

// Sliding expires a ticket after IdleTimeout without use, bounded by an
// optional hard ceiling counted from creation. A zero MaxTimeToLive
// disables the ceiling. The ticket is expired if either bound is exceeded.
type Sliding struct {
	IdleTimeout   time.Duration `json:"idleTimeout"`
	MaxTimeToLive time.Duration `json:"maxTimeToLive,omitempty"`
}

// NewSliding returns a sliding-window policy. ceiling may be zero for no
// hard bound.
func NewSliding(idle, ceiling time.Duration) *Sliding {
	return &Sliding{IdleTimeout: idle, MaxTimeToLive: ceiling}
}

func (p *Sliding) Kind() string { return KindSliding }

func (p *Sliding) IsExpired(s State, now time.Time) bool {
	last := s.LastUsedTime
	if last.IsZero() {
		last = s.CreationTime
	}
	if now.Sub(last) >= p.IdleTimeout {
		return true
	}
	if p.MaxTimeToLive > 0 && now.Sub(s.CreationTime) >= p.MaxTimeToLive {
		return true
	}
	return false
}

func (p *Sliding) TTL(s State, now time.Time) time.Duration {
	last := s.LastUsedTime
	if last.IsZero() {
		last = s.CreationTime
	}
	idleRemaining := p.IdleTimeout - now.Sub(last)
	if p.MaxTimeToLive > 0 {
		hardRemaining := p.MaxTimeToLive - now.Sub(s.CreationTime)
		if hardRemaining < idleRemaining {
			idleRemaining = hardRemaining
		}
	}
	if idleRemaining < 0 {
		return 0
	}
	return idleRemaining
}

func (p *Sliding) MaxLifetime() time.Duration { return p.MaxTimeToLive }

// UseLimit expires a ticket after Uses redemptions, or after an optional
// wall-clock lifetime counted from creation, whichever comes first. A zero
// MaxTimeToLive disables the time bound. Single-use service and proxy
// tickets use a limit of one with a short lifetime.
type UseLimit struct {
	Uses          int           `json:"maxUses"`
	MaxTimeToLive time.Duration `json:"maxTimeToLive,omitempty"`
}

// NewUseLimit returns a use-count policy bounded by ttl. ttl may be zero
// for a pure count limit.
func NewUseLimit(uses int, ttl time.Duration) *UseLimit {
	return &UseLimit{Uses: uses, MaxTimeToLive: ttl}
}

func (p *UseLimit) Kind() string { return KindUseLimit }

func (p *UseLimit) IsExpired(s State, now time.Time) bool {
	if s.UseCount >= p.Uses {
		return true
	}
	return p.MaxTimeToLive > 0 && now.Sub(s.CreationTime) >= p.MaxTimeToLive
}

func (p *UseLimit) TTL(s State, now time.Time) time.Duration {
	if p.MaxTimeToLive == 0 {
		return 0
	}
	remaining := p.MaxTimeToLive - now.Sub(s.CreationTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *UseLimit) MaxUses() int { return p.Uses }

func (p *UseLimit) MaxLifetime() time.Duration { return p.MaxTimeToLive }

// RememberMe delegates to Plain unless the ticket's authentication carries
// the remember-me flag, in which case a materially longer hard ceiling
// applies. The selection depends on the authentication context, not on the
// ticket type, so a single catalog definition covers both cases.
type RememberMe struct {
	Plain         Policy        `json:"plain"`
	RememberMeTTL time.Duration `json:"rememberMeTimeToLive"`
}

// NewRememberMe wraps plain with a remember-me ceiling.
func NewRememberMe(plain Policy, rememberTTL time.Duration) *RememberMe {
	return &RememberMe{Plain: plain, RememberMeTTL: rememberTTL}
}

func (p *RememberMe) Kind() string { return KindRememberMe }

func (p *RememberMe) IsExpired(s State, now time.Time) bool {
	if s.RememberMe {
		return now.Sub(s.CreationTime) >= p.RememberMeTTL
	}
	return p.Plain.IsExpired(s, now)
}

func (p *RememberMe) TTL(s State, now time.Time) time.Duration {
	if s.RememberMe {
		remaining := p.RememberMeTTL - now.Sub(s.CreationTime)
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return p.Plain.TTL(s, now)
}

func (p *RememberMe) MaxLifetime() time.Duration {
	ttl := p.RememberMeTTL
	if lt, ok := p.Plain.(Lifetimed); ok && lt.MaxLifetime() > ttl {
		ttl = lt.MaxLifetime()
	}
	return ttl
}

// Never keeps a ticket valid until it is explicitly deleted.
type Never struct{}

// NewNever returns a policy that never expires.
func NewNever() *Never { return &Never{} }

func (*Never) Kind() string { return KindNever }

func (*Never) IsExpired(State, time.Time) bool { return false }

func (*Never) TTL(State, time.Time) time.Duration { return 0 }
