package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/storage"
)

var alice = identity.User{ID: 7, Username: "alice", FullName: "Alice"}

func newContainer(t *testing.T) (*Container, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	return New(storage.NewArea(mem, "tab-a"), nil), mem
}

func TestSetAuth_WritesStorageAndNotifies(t *testing.T) {
	ctx := context.Background()
	c, mem := newContainer(t)

	var got []Snapshot
	unsub := c.Subscribe(func(s Snapshot) { got = append(got, s) })
	defer unsub()

	require.NoError(t, c.SetAuth(ctx, alice, "acc", "ref", []string{"B", "A", "A"}, []string{"ADMIN"}))

	require.Len(t, got, 1)
	assert.True(t, got[0].IsAuthenticated)
	assert.Equal(t, []string{"A", "B"}, got[0].Permissions.Sorted())

	v, ok, err := mem.Get(ctx, storage.KeyPermissions)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `["A","B"]`, v)

	access, refresh, err := c.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc", access)
	assert.Equal(t, "ref", refresh)
}

func TestSetAuth_ReplacesNotMerges(t *testing.T) {
	ctx := context.Background()
	c, _ := newContainer(t)

	require.NoError(t, c.SetAuth(ctx, alice, "acc", "ref", []string{"A", "B", "C"}, []string{"ADMIN", "STAFF"}))
	require.NoError(t, c.SetAuth(ctx, alice, "acc", "ref", []string{"D"}, nil))

	snap := c.Snapshot()
	assert.Equal(t, []string{"D"}, snap.Permissions.Sorted())
	assert.Equal(t, 0, snap.Roles.Len())
	assert.False(t, c.HasPermission("A"))
	assert.True(t, c.HasPermission("D"))
}

func TestSetAuth_RequiresAccessToken(t *testing.T) {
	c, _ := newContainer(t)
	err := c.SetAuth(context.Background(), alice, "", "ref", nil, nil)
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.False(t, c.IsAuthenticated())
}

func TestLogout_Idempotent(t *testing.T) {
	ctx := context.Background()
	c, mem := newContainer(t)
	require.NoError(t, c.SetAuth(ctx, alice, "acc", "ref", []string{"A"}, nil))

	notified := 0
	unsub := c.Subscribe(func(Snapshot) { notified++ })
	defer unsub()

	require.NoError(t, c.Logout(ctx))
	first := c.Snapshot()
	require.NoError(t, c.Logout(ctx))

	assert.Equal(t, 1, notified)
	assert.Equal(t, first, c.Snapshot())
	assert.False(t, first.IsAuthenticated)

	for _, key := range []string{storage.KeyAccessToken, storage.KeyRefreshToken, storage.KeyUser, storage.KeyAuthenticated} {
		_, ok, err := mem.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestLoad_RehydratesAuthenticatedState(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	writer := New(storage.NewArea(mem, "tab-a"), nil)
	require.NoError(t, writer.SetAuth(ctx, alice, "acc", "ref", []string{"A"}, []string{"ADMIN"}))

	reader := New(storage.NewArea(mem, "tab-b"), nil)
	snap, err := reader.Load(ctx)
	require.NoError(t, err)

	assert.True(t, snap.IsAuthenticated)
	assert.Equal(t, alice, snap.User)
	assert.True(t, reader.HasRole("ADMIN"))
	assert.True(t, reader.HasAllPermissions("A"))
	assert.False(t, reader.HasAnyPermission("Z"))
}

func TestLoad_SelfHealsMarkerWithoutToken(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	userJSON, _ := json.Marshal(alice)
	require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyAuthenticated, "true"))
	require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyUser, string(userJSON)))
	require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyPermissions, `["A"]`))

	c := New(storage.NewArea(mem, "tab-a"), nil)
	snap, err := c.Load(ctx)
	require.NoError(t, err)

	assert.False(t, snap.IsAuthenticated)
	assert.Equal(t, 0, snap.Permissions.Len())
	for _, key := range []string{storage.KeyAuthenticated, storage.KeyUser, storage.KeyPermissions} {
		_, ok, err := mem.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestLoad_SelfHealsTokenWithoutReadableUser(t *testing.T) {
	for name, userRaw := range map[string]string{
		"missing": "",
		"garbled": "{not json",
		"zero":    "{}",
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := storage.NewMemory()
			require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyAccessToken, "acc"))
			require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyRefreshToken, "ref"))
			require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyAuthenticated, "true"))
			if userRaw != "" {
				require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyUser, userRaw))
			}

			c := New(storage.NewArea(mem, "tab-a"), nil)
			snap, err := c.Load(ctx)
			require.NoError(t, err)
			assert.False(t, snap.IsAuthenticated)

			for _, key := range []string{storage.KeyAccessToken, storage.KeyRefreshToken, storage.KeyUser, storage.KeyAuthenticated} {
				_, ok, err := mem.Get(ctx, key)
				require.NoError(t, err)
				assert.False(t, ok, key)
			}
			access, _, err := c.Tokens(ctx)
			require.NoError(t, err)
			assert.Empty(t, access)
		})
	}
}

func TestLoad_LeavesHalfWrittenLoginAlone(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	userJSON, _ := json.Marshal(alice)
	require.NoError(t, mem.Set(ctx, "other-tab", storage.KeyUser, string(userJSON)))

	c := New(storage.NewArea(mem, "tab-a"), nil)
	snap, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, snap.IsAuthenticated)

	v, ok, err := mem.Get(ctx, storage.KeyUser)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, string(userJSON), v)
}

func TestLoad_CorruptPermissionsDegradeToEmpty(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	userJSON, _ := json.Marshal(alice)
	require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyAccessToken, "acc"))
	require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyUser, string(userJSON)))
	require.NoError(t, mem.Set(ctx, "old-tab", storage.KeyPermissions, `{not json`))

	c := New(storage.NewArea(mem, "tab-a"), nil)
	snap, err := c.Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap.IsAuthenticated)
	assert.Equal(t, 0, snap.Permissions.Len())
}

func TestReplaceAuth_RejectsStaleToken(t *testing.T) {
	ctx := context.Background()
	c, _ := newContainer(t)
	require.NoError(t, c.SetAuth(ctx, alice, "acc", "ref", []string{"A"}, nil))
	require.NoError(t, c.Logout(ctx))

	err := c.ReplaceAuth(ctx, alice, "acc", "ref", []string{"B"}, nil)
	assert.ErrorIs(t, err, ErrStaleToken)
	assert.False(t, c.IsAuthenticated())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	c, _ := newContainer(t)
	n := 0
	unsub := c.Subscribe(func(Snapshot) { n++ })
	unsub()
	unsub()
	require.NoError(t, c.SetAuth(context.Background(), alice, "acc", "", nil, nil))
	assert.Equal(t, 0, n)
}
