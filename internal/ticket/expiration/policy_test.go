package expiration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

func TestHardTimeout(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := expiration.NewHardTimeout(10 * time.Second)
	state := expiration.State{CreationTime: created}

	assert.False(t, policy.IsExpired(state, created))
	assert.False(t, policy.IsExpired(state, created.Add(9*time.Second)))
	assert.True(t, policy.IsExpired(state, created.Add(10*time.Second)))
	assert.True(t, policy.IsExpired(state, created.Add(time.Hour)))

	assert.Equal(t, 4*time.Second, policy.TTL(state, created.Add(6*time.Second)))
	assert.Equal(t, time.Duration(0), policy.TTL(state, created.Add(time.Minute)))
}

func TestHardTimeoutIgnoresUse(t *testing.T) {
	created := time.Now()
	policy := expiration.NewHardTimeout(time.Minute)
	state := expiration.State{
		CreationTime: created,
		LastUsedTime: created.Add(59 * time.Second),
		UseCount:     100,
	}

	assert.False(t, policy.IsExpired(state, created.Add(59*time.Second)))
	assert.True(t, policy.IsExpired(state, created.Add(61*time.Second)))
}

func TestSlidingIdleTimeout(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := expiration.NewSliding(30*time.Second, 0)

	// Never used: idle window counts from creation.
	state := expiration.State{CreationTime: created}
	assert.False(t, policy.IsExpired(state, created.Add(29*time.Second)))
	assert.True(t, policy.IsExpired(state, created.Add(30*time.Second)))

	// A use slides the window.
	state.LastUsedTime = created.Add(25 * time.Second)
	assert.False(t, policy.IsExpired(state, created.Add(50*time.Second)))
	assert.True(t, policy.IsExpired(state, created.Add(56*time.Second)))
}

func TestSlidingHardCeiling(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := expiration.NewSliding(time.Hour, 2*time.Hour)

	// Constant use keeps the idle window open but the ceiling still applies.
	state := expiration.State{
		CreationTime: created,
		LastUsedTime: created.Add(2*time.Hour - time.Second),
	}
	assert.True(t, policy.IsExpired(state, created.Add(2*time.Hour)))

	// TTL is bounded by whichever limit comes first.
	state.LastUsedTime = created.Add(90 * time.Minute)
	assert.Equal(t, 20*time.Minute, policy.TTL(state, created.Add(100*time.Minute)))
}

func TestUseLimit(t *testing.T) {
	policy := expiration.NewUseLimit(1, 0)
	now := time.Now()

	assert.False(t, policy.IsExpired(expiration.State{CreationTime: now, UseCount: 0}, now))
	assert.True(t, policy.IsExpired(expiration.State{CreationTime: now, UseCount: 1}, now))
	assert.True(t, policy.IsExpired(expiration.State{CreationTime: now, UseCount: 5}, now))
	assert.Equal(t, 1, policy.MaxUses())
}

func TestUseLimitWithLifetime(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := expiration.NewUseLimit(1, 10*time.Second)
	state := expiration.State{CreationTime: created}

	// Fresh and unused inside the window.
	assert.False(t, policy.IsExpired(state, created.Add(5*time.Second)))
	// Unused but past the lifetime.
	assert.True(t, policy.IsExpired(state, created.Add(10*time.Second)))
	// Consumed inside the window.
	state.UseCount = 1
	assert.True(t, policy.IsExpired(state, created.Add(time.Second)))
}

func TestRememberMeSelectsCeilingPerContext(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	plain := expiration.NewSliding(time.Hour, 8*time.Hour)
	policy := expiration.NewRememberMe(plain, 14*24*time.Hour)

	// Plain authentication follows the wrapped policy.
	state := expiration.State{CreationTime: created}
	assert.True(t, policy.IsExpired(state, created.Add(2*time.Hour)))

	// Remember-me authentication gets the long ceiling and is immune to idle.
	state.RememberMe = true
	assert.False(t, policy.IsExpired(state, created.Add(10*24*time.Hour)))
	assert.True(t, policy.IsExpired(state, created.Add(15*24*time.Hour)))
}

func TestNever(t *testing.T) {
	policy := expiration.NewNever()
	state := expiration.State{CreationTime: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.False(t, policy.IsExpired(state, time.Now().Add(100*365*24*time.Hour)))
}

func TestPolicyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		policy expiration.Policy
	}{
		{"hard timeout", expiration.NewHardTimeout(10 * time.Second)},
		{"sliding", expiration.NewSliding(time.Minute, time.Hour)},
		{"use limit", expiration.NewUseLimit(1, 10*time.Second)},
		{"never", expiration.NewNever()},
		{"remember me", expiration.NewRememberMe(expiration.NewSliding(time.Hour, 8*time.Hour), 30*24*time.Hour)},
	}

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	states := []expiration.State{
		{CreationTime: created},
		{CreationTime: created, LastUsedTime: created.Add(time.Minute), UseCount: 1},
		{CreationTime: created, RememberMe: true},
	}
	probes := []time.Time{
		created.Add(5 * time.Second),
		created.Add(90 * time.Minute),
		created.Add(20 * 24 * time.Hour),
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := expiration.Marshal(tc.policy)
			require.NoError(t, err)

			decoded, err := expiration.Unmarshal(data)
			require.NoError(t, err)
			require.Equal(t, tc.policy.Kind(), decoded.Kind())

			// Decoded policy must judge every state exactly like the original.
			for _, s := range states {
				for _, now := range probes {
					assert.Equal(t, tc.policy.IsExpired(s, now), decoded.IsExpired(s, now))
					assert.Equal(t, tc.policy.TTL(s, now), decoded.TTL(s, now))
				}
			}
		})
	}
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	_, err := expiration.Unmarshal([]byte(`{"kind":"grace-period","spec":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown expiration policy kind")
}
