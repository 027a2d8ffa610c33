package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlepoint/sso-kernel/internal/ticket"
	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

func TestMemoryStoreHandsOutCopies(t *testing.T) {
	store := NewMemoryStore(testLogger())
	now := time.Now()
	ctx := context.Background()

	original := makeTicket("TGT-copy0000001", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)
	require.NoError(t, store.Insert(ctx, original))

	first, err := store.Get(ctx, original.ID)
	require.NoError(t, err)
	first.UseCount = 99

	second, err := store.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.UseCount)
}

func TestMemoryStoreCompareAndDelete(t *testing.T) {
	store := NewMemoryStore(testLogger())
	now := time.Now()
	ctx := context.Background()

	tk := makeTicket("ST-cas00000001", ticket.KindService, "",
		expiration.NewUseLimit(1, 10*time.Second), now)
	require.NoError(t, store.Insert(ctx, tk))

	// Stale expectation loses without side effects.
	ok, err := store.CompareAndDelete(ctx, tk.ID, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.Get(ctx, tk.ID)
	require.NoError(t, err)

	ok, err = store.CompareAndDelete(ctx, tk.ID, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Absent record loses too.
	ok, err = store.CompareAndDelete(ctx, tk.ID, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreStrictUpdate(t *testing.T) {
	store := NewMemoryStore(testLogger())
	now := time.Now()
	ctx := context.Background()

	tk := makeTicket("TGT-upd00000001", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)

	err := store.Update(ctx, tk)
	assert.ErrorIs(t, err, ticket.ErrTicketNotFound)

	require.NoError(t, store.Insert(ctx, tk))
	tk.UseCount = 3
	require.NoError(t, store.Update(ctx, tk))

	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.UseCount)
}

func TestMemoryStoreChildIndex(t *testing.T) {
	store := NewMemoryStore(testLogger())
	now := time.Now()
	ctx := context.Background()

	parent := makeTicket("TGT-parent00001", ticket.KindTicketGranting, "",
		&expiration.HardTimeout{MaxTimeToLive: time.Hour}, now)
	child := makeTicket("ST-child000001", ticket.KindService, parent.ID,
		expiration.NewUseLimit(1, 10*time.Second), now)

	require.NoError(t, store.Insert(ctx, parent))
	require.NoError(t, store.Insert(ctx, child))

	kids, err := store.Children(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, kids)

	removed, err := store.Delete(ctx, child.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	kids, err = store.Children(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, kids)
}
