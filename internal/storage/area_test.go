package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArea_OwnWritesAreNotDelivered(t *testing.T) {
	ctx := context.Background()
	shared := NewMemory()
	tabA := NewArea(shared, "tab-a")
	tabB := NewArea(shared, "tab-b")

	var seenByA, seenByB []Change
	stopA, err := tabA.Watch(func(c Change) { seenByA = append(seenByA, c) })
	require.NoError(t, err)
	defer stopA()
	stopB, err := tabB.Watch(func(c Change) { seenByB = append(seenByB, c) })
	require.NoError(t, err)
	defer stopB()

	require.NoError(t, tabA.Set(ctx, KeyAccessToken, "token-1"))

	assert.Empty(t, seenByA)
	require.Len(t, seenByB, 1)
	assert.Equal(t, "token-1", seenByB[0].NewValue)
}

func TestArea_SetEmptyRemoves(t *testing.T) {
	ctx := context.Background()
	shared := NewMemory()
	tab := NewArea(shared, "tab-a")

	require.NoError(t, tab.Set(ctx, KeyRefreshToken, "r1"))
	require.NoError(t, tab.Set(ctx, KeyRefreshToken, ""))

	v, err := tab.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "", v)
	_, ok, err := shared.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprinter_Keyed(t *testing.T) {
	fp, err := NewFingerprinter([]byte("scope-key-one"))
	require.NoError(t, err)
	other, err := NewFingerprinter([]byte("scope-key-two"))
	require.NoError(t, err)

	assert.Equal(t, "", fp.Sum(""))
	assert.Equal(t, fp.Sum("abc"), fp.Sum("abc"))
	assert.NotEqual(t, fp.Sum("abc"), fp.Sum("abd"))
	assert.NotContains(t, fp.Sum("secret-token"), "secret")
	assert.NotEqual(t, fp.Sum("secret-token"), other.Sum("secret-token"))
}

func TestNewFingerprinter_RejectsBadKeys(t *testing.T) {
	_, err := NewFingerprinter(nil)
	assert.Error(t, err)
	_, err = NewFingerprinter(make([]byte, 65))
	assert.Error(t, err)

	key, err := NewFingerprintKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
