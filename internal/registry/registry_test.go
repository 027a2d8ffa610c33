package registry

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlepoint/sso-kernel/internal/ticket"
	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testCatalog(t *testing.T) *ticket.Catalog {
	t.Helper()
	catalog, err := ticket.NewCatalog(
		ticket.Definition{
			Name:   "ticket-granting",
			Kind:   ticket.KindTicketGranting,
			Prefix: "TGT",
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return &expiration.Sliding{IdleTimeout: 2 * time.Hour, MaxTimeToLive: 8 * time.Hour}
			},
		},
		ticket.Definition{
			Name:      "service",
			Kind:      ticket.KindService,
			Prefix:    "ST",
			SingleUse: true,
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return expiration.NewUseLimit(1, 10*time.Second)
			},
		},
		ticket.Definition{
			Name:   "proxy-granting",
			Kind:   ticket.KindProxyGranting,
			Prefix: "PGT",
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return &expiration.HardTimeout{MaxTimeToLive: 8 * time.Hour}
			},
		},
		ticket.Definition{
			Name:      "proxy",
			Kind:      ticket.KindProxy,
			Prefix:    "PT",
			SingleUse: true,
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return expiration.NewUseLimit(1, 10*time.Second)
			},
		},
		ticket.Definition{
			Name:   "transient",
			Kind:   ticket.KindTransient,
			Prefix: "TST",
			NewPolicy: func(*ticket.Authentication) expiration.Policy {
				return &expiration.HardTimeout{MaxTimeToLive: 5 * time.Minute}
			},
		},
	)
	require.NoError(t, err)
	return catalog
}

func testRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	return New(testCatalog(t), NewMemoryStore(testLogger()), testLogger(), opts...)
}

func makeTicket(id string, kind ticket.Kind, parentID string, policy expiration.Policy, now time.Time) *ticket.Ticket {
	return &ticket.Ticket{
		ID:           id,
		Kind:         kind,
		ParentID:     parentID,
		CreationTime: now,
		Policy:       policy,
	}
}

func TestAddAndGetTicket(t *testing.T) {
	r := testRegistry(t)
	now := time.Now()

	tgt := makeTicket("TGT-abc123456789", ticket.KindTicketGranting, "",
		&expiration.Sliding{IdleTimeout: 2 * time.Hour, MaxTimeToLive: 8 * time.Hour}, now)
	tgt.Payload = &ticket.Authentication{
		Principal: ticket.Principal{ID: "casuser"},
		AuthnTime: now,
	}
	require.NoError(t, r.AddTicket(context.Background(), tgt))

	got, err := r.GetTicket(context.Background(), tgt.ID, ticket.KindTicketGranting)
	require.NoError(t, err)
	assert.Equal(t, tgt.ID, got.ID)
	assert.Equal(t, "casuser", got.Payload.Principal.ID)
}

func TestAddTicketRejectsDuplicate(t *testing.T) {
	r := testRegistry(t)
	now := time.Now()

	tgt := makeTicket("TGT-abc123456789", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)
	require.NoError(t, r.AddTicket(context.Background(), tgt))

	err := r.AddTicket(context.Background(), tgt)
	assert.ErrorIs(t, err, ticket.ErrDuplicateTicket)
}

func TestGetTicketTypeMismatch(t *testing.T) {
	r := testRegistry(t)
	now := time.Now()

	tgt := makeTicket("TGT-abc123456789", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)
	require.NoError(t, r.AddTicket(context.Background(), tgt))

	_, err := r.GetTicket(context.Background(), tgt.ID, ticket.KindService)
	assert.ErrorIs(t, err, ticket.ErrInvalidTicketType)
}

func TestGetTicketTreatsExpiredAsMissing(t *testing.T) {
	now := time.Now()
	clock := now
	r := testRegistry(t, WithClock(func() time.Time { return clock }))

	tgt := makeTicket("TGT-abc123456789", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)
	require.NoError(t, r.AddTicket(context.Background(), tgt))

	clock = now.Add(2 * time.Hour)
	_, err := r.GetTicket(context.Background(), tgt.ID, ticket.KindTicketGranting)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)

	// The raw record remains until the sweeper or a consume attempt
	// removes it.
	raw, err := r.GetRawTicket(context.Background(), tgt.ID)
	require.NoError(t, err)
	assert.True(t, raw.IsExpired(clock))
}

func TestGetTicketUnknownPrefix(t *testing.T) {
	r := testRegistry(t)
	_, err := r.GetTicket(context.Background(), "XYZ-abc123456789", "")
	assert.ErrorIs(t, err, ticket.ErrUnrecognizedTicketType)
}

func TestValidateTicketMultiUse(t *testing.T) {
	now := time.Now()
	r := testRegistry(t, WithClock(func() time.Time { return now }))

	tgt := makeTicket("TGT-abc123456789", ticket.KindTicketGranting, "",
		&expiration.Sliding{IdleTimeout: 2 * time.Hour, MaxTimeToLive: 8 * time.Hour}, now)
	require.NoError(t, r.AddTicket(context.Background(), tgt))

	used, err := r.ValidateTicket(context.Background(), tgt.ID, ticket.KindTicketGranting)
	require.NoError(t, err)
	assert.Equal(t, 1, used.UseCount)
	assert.Equal(t, now, used.LastUsedTime)

	// Multi-use tickets survive validation.
	got, err := r.GetTicket(context.Background(), tgt.ID, ticket.KindTicketGranting)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
}

func TestValidateTicketConsumesSingleUse(t *testing.T) {
	now := time.Now()
	r := testRegistry(t, WithClock(func() time.Time { return now }))

	st := makeTicket("ST-abc123456789", ticket.KindService, "",
		expiration.NewUseLimit(1, 10*time.Second), now)
	require.NoError(t, r.AddTicket(context.Background(), st))

	used, err := r.ValidateTicket(context.Background(), st.ID, ticket.KindService)
	require.NoError(t, err)
	assert.Equal(t, 1, used.UseCount)

	// Second redemption reports consumption, not absence.
	_, err = r.ValidateTicket(context.Background(), st.ID, ticket.KindService)
	assert.ErrorIs(t, err, ticket.ErrTicketAlreadyConsumed)
}

func TestValidateTicketConcurrentRedemption(t *testing.T) {
	now := time.Now()
	r := testRegistry(t, WithClock(func() time.Time { return now }))

	st := makeTicket("ST-abc123456789", ticket.KindService, "",
		expiration.NewUseLimit(1, 10*time.Second), now)
	require.NoError(t, r.AddTicket(context.Background(), st))

	const goroutines = 16
	var (
		wg        sync.WaitGroup
		successes int64
		consumed  int64
		mu        sync.Mutex
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ValidateTicket(context.Background(), st.ID, ticket.KindService)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ticket.ErrTicketAlreadyConsumed):
				consumed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes)
	assert.Equal(t, int64(goroutines-1), consumed)
}

func TestValidateTicketExpiredSingleUse(t *testing.T) {
	now := time.Now()
	clock := now
	r := testRegistry(t, WithClock(func() time.Time { return clock }))

	st := makeTicket("ST-abc123456789", ticket.KindService, "",
		expiration.NewUseLimit(1, 10*time.Second), now)
	require.NoError(t, r.AddTicket(context.Background(), st))

	clock = now.Add(time.Minute)
	_, err := r.ValidateTicket(context.Background(), st.ID, ticket.KindService)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)

	// Lazy cleanup removed the record; the consume path now reports
	// consumption for the vanished single-use ticket.
	_, err = r.GetRawTicket(context.Background(), st.ID)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)
}

func TestValidateTicketExpiredSessionCascades(t *testing.T) {
	now := time.Now()
	clock := now
	r := testRegistry(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	tgt := makeTicket("TGT-dead0000002", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)
	pgt := makeTicket("PGT-dead0000002", ticket.KindProxyGranting, tgt.ID,
		&expiration.HardTimeout{MaxTimeToLive: 8 * time.Hour}, now)
	pt := makeTicket("PT-dead00000002", ticket.KindProxy, pgt.ID,
		expiration.NewUseLimit(1, 8*time.Hour), now)

	for _, tk := range []*ticket.Ticket{tgt, pgt, pt} {
		require.NoError(t, r.AddTicket(ctx, tk))
	}

	clock = now.Add(2 * time.Hour)
	_, err := r.ValidateTicket(ctx, tgt.ID, ticket.KindTicketGranting)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)

	// Cleanup of the dead session takes the proxy subtree with it, even
	// though the descendants' own policies still had time left.
	for _, id := range []string{tgt.ID, pgt.ID, pt.ID} {
		_, err := r.GetRawTicket(ctx, id)
		assert.ErrorIs(t, err, ticket.ErrTicketNotFound, id)
	}
}

func TestDeleteTicketCascades(t *testing.T) {
	now := time.Now()
	r := testRegistry(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	policy := func() expiration.Policy { return &expiration.HardTimeout{MaxTimeToLive: time.Hour} }

	tgt := makeTicket("TGT-root00000001", ticket.KindTicketGranting, "", policy(), now)
	st := makeTicket("ST-child0000001", ticket.KindService, tgt.ID, policy(), now)
	pgt := makeTicket("PGT-child000001", ticket.KindProxyGranting, st.ID, policy(), now)
	pt1 := makeTicket("PT-leaf00000001", ticket.KindProxy, pgt.ID, policy(), now)
	pt2 := makeTicket("PT-leaf00000002", ticket.KindProxy, pgt.ID, policy(), now)
	other := makeTicket("TGT-other000001", ticket.KindTicketGranting, "", policy(), now)

	for _, tk := range []*ticket.Ticket{tgt, st, pgt, pt1, pt2, other} {
		require.NoError(t, r.AddTicket(ctx, tk))
	}

	removed, err := r.DeleteTicket(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	for _, id := range []string{tgt.ID, st.ID, pgt.ID, pt1.ID, pt2.ID} {
		_, err := r.GetRawTicket(ctx, id)
		assert.ErrorIs(t, err, ticket.ErrTicketNotFound, id)
	}

	// Unrelated sessions are untouched.
	_, err = r.GetRawTicket(ctx, other.ID)
	assert.NoError(t, err)
}

func TestDeleteTicketMissing(t *testing.T) {
	r := testRegistry(t)
	removed, err := r.DeleteTicket(context.Background(), "TGT-missing00001")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestCountTickets(t *testing.T) {
	now := time.Now()
	clock := now
	r := testRegistry(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	authn := &ticket.Authentication{Principal: ticket.Principal{ID: "casuser"}, AuthnTime: now}
	short := &expiration.HardTimeout{MaxTimeToLive: time.Minute}
	long := &expiration.HardTimeout{MaxTimeToLive: time.Hour}

	t1 := makeTicket("TGT-count000001", ticket.KindTicketGranting, "", long, now)
	t1.Payload = authn
	t2 := makeTicket("TGT-count000002", ticket.KindTicketGranting, "", short, now)
	t2.Payload = authn
	t3 := makeTicket("TGT-count000003", ticket.KindTicketGranting, "", long, now)
	t3.Payload = &ticket.Authentication{Principal: ticket.Principal{ID: "other"}, AuthnTime: now}

	for _, tk := range []*ticket.Ticket{t1, t2, t3} {
		require.NoError(t, r.AddTicket(ctx, tk))
	}

	count, err := r.CountTickets(ctx, TicketGrantingFor("casuser"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Expired sessions drop out of the count without any deletion.
	clock = now.Add(30 * time.Minute)
	count, err = r.CountTickets(ctx, TicketGrantingFor("casuser"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	total, err := r.CountTickets(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSweepExpired(t *testing.T) {
	now := time.Now()
	clock := now
	r := testRegistry(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	short := &expiration.HardTimeout{MaxTimeToLive: time.Minute}
	long := &expiration.HardTimeout{MaxTimeToLive: time.Hour}

	dead := makeTicket("TGT-dead0000001", ticket.KindTicketGranting, "", short, now)
	child := makeTicket("ST-dead0000001", ticket.KindService, dead.ID, long, now)
	alive := makeTicket("TGT-alive000001", ticket.KindTicketGranting, "", long, now)

	for _, tk := range []*ticket.Ticket{dead, child, alive} {
		require.NoError(t, r.AddTicket(ctx, tk))
	}

	clock = now.Add(10 * time.Minute)
	removed, err := r.SweepExpired(ctx)
	require.NoError(t, err)

	// The descendant dies with its root even though its own policy still
	// had time left.
	assert.Equal(t, 2, removed)

	_, err = r.GetRawTicket(ctx, dead.ID)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)
	_, err = r.GetRawTicket(ctx, child.ID)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)
	_, err = r.GetRawTicket(ctx, alive.ID)
	assert.NoError(t, err)
}

func TestDeleteAll(t *testing.T) {
	now := time.Now()
	r := testRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"TGT-flush000001", "TGT-flush000002"} {
		require.NoError(t, r.AddTicket(ctx,
			makeTicket(id, ticket.KindTicketGranting, "", &expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)))
	}

	removed, err := r.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

// flakyStore fails every operation a fixed number of times before
// delegating, to exercise the retry path.
type flakyStore struct {
	Store
	mu        sync.Mutex
	remaining int
}

func (f *flakyStore) trip() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining > 0 {
		f.remaining--
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyStore) Insert(ctx context.Context, t *ticket.Ticket) error {
	if err := f.trip(); err != nil {
		return err
	}
	return f.Store.Insert(ctx, t)
}

func (f *flakyStore) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	if err := f.trip(); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, id)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(testLogger()), remaining: 2}
	r := New(testCatalog(t), store, testLogger(), WithRetry(3, time.Millisecond))
	now := time.Now()

	tgt := makeTicket("TGT-retry000001", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)
	require.NoError(t, r.AddTicket(context.Background(), tgt))
}

func TestRetryExhaustionReportsStorageUnavailable(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(testLogger()), remaining: 100}
	r := New(testCatalog(t), store, testLogger(), WithRetry(2, time.Millisecond))

	_, err := r.GetTicket(context.Background(), "TGT-retry000001", "")
	assert.ErrorIs(t, err, ticket.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ticket.ErrTicketNotFound)
}

func TestSweeperLifecycle(t *testing.T) {
	r := testRegistry(t)
	s := NewSweeper(r, 10*time.Millisecond, testLogger())

	s.Start()
	s.Start() // idempotent
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent
}
