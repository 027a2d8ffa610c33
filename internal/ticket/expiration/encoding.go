package expiration

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the wire form of a policy: a kind discriminator next to the
// policy's own fields. Tickets carry their policy instance (per-ticket
// counters such as remember-me selection live in the ticket state), so the
// policy must survive a JSON round trip through any storage backend.
type envelope struct {
	Kind string          `json:"kind"`
	Spec json.RawMessage `json:"spec"`
}

// rememberMeWire mirrors RememberMe with the nested policy in envelope form.
type rememberMeWire struct {
	Plain         json.RawMessage `json:"plain"`
	RememberMeTTL int64           `json:"rememberMeTimeToLive"`
}

// Marshal encodes a policy into its storage representation.
func Marshal(p Policy) ([]byte, error) {
	var (
		spec []byte
		err  error
	)
	switch v := p.(type) {
	case *RememberMe:
		var plain []byte
		plain, err = Marshal(v.Plain)
		if err != nil {
			return nil, err
		}
		spec, err = json.Marshal(rememberMeWire{
			Plain:         plain,
			RememberMeTTL: int64(v.RememberMeTTL),
		})
	default:
		spec, err = json.Marshal(p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s policy: %w", p.Kind(), err)
	}
	return json.Marshal(envelope{Kind: p.Kind(), Spec: spec})
}

// Unmarshal decodes a policy from its storage representation. Unknown kinds
// are rejected so a corrupted or forged record can never silently fall back
// to a more permissive policy.
func Unmarshal(data []byte) (Policy, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy envelope: %w", err)
	}

	switch env.Kind {
	case KindHardTimeout:
		p := &HardTimeout{}
		return p, unmarshalSpec(env, p)
	case KindSliding:
		p := &Sliding{}
		return p, unmarshalSpec(env, p)
	case KindUseLimit:
		p := &UseLimit{}
		return p, unmarshalSpec(env, p)
	case KindNever:
		return NewNever(), nil
	case KindRememberMe:
		var wire rememberMeWire
		if err := json.Unmarshal(env.Spec, &wire); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remember-me policy: %w", err)
		}
		plain, err := Unmarshal(wire.Plain)
		if err != nil {
			return nil, err
		}
		return NewRememberMe(plain, time.Duration(wire.RememberMeTTL)), nil
	default:
		return nil, fmt.Errorf("unknown expiration policy kind %q", env.Kind)
	}
}

func unmarshalSpec(env envelope, p Policy) error {
	if err := json.Unmarshal(env.Spec, p); err != nil {
		return fmt.Errorf("failed to unmarshal %s policy: %w", env.Kind, err)
	}
	return nil
}
