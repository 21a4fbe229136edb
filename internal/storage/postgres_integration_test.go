package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/ids"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()

	dsn := os.Getenv("BACKOFFICE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BACKOFFICE_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	p, err := NewPostgres(ctx, pool, "test-"+ids.ULID(time.Now()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPostgres_RoundTrip(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "tab-a", KeyUser, `{"id":7}`))
	v, ok, err := p.Get(ctx, KeyUser)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"id":7}`, v)

	require.NoError(t, p.Remove(ctx, "tab-a", KeyUser))
	_, ok, err = p.Get(ctx, KeyUser)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPostgres_CrossTabNotificationCarriesFingerprints(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	tabA := NewArea(p, "tab-a")
	tabB := NewArea(p, "tab-b")

	var (
		mu  sync.Mutex
		got []Change
	)
	stop, err := tabB.Watch(func(c Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer stop()

	// Give the listener a moment to issue LISTEN.
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, tabA.Set(ctx, KeyAccessToken, "secret-token"))
	require.NoError(t, tabA.Remove(ctx, KeyAccessToken))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, p.Fingerprint("secret-token"), got[0].NewValue)
	require.NotContains(t, got[0].NewValue, "secret")
	require.Equal(t, "", got[1].NewValue)
	require.NotEqual(t, "", got[1].OldValue)
}

func TestPostgres_ScopeSharesFingerprintKey(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	q, err := NewPostgres(ctx, p.pool, p.scope, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	assert.Equal(t, p.Fingerprint("secret-token"), q.Fingerprint("secret-token"))

	r, err := NewPostgres(ctx, p.pool, p.scope+"-other", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	assert.NotEqual(t, p.Fingerprint("secret-token"), r.Fingerprint("secret-token"))
}
