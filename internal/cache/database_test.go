package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kitewall/apigate/internal/database/testutil"
)

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "greeting", []byte("hello"), time.Minute))
	value, found, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), value)

	// Upsert replaces the stored value in place.
	require.NoError(t, store.Set(ctx, "greeting", []byte("hola"), time.Minute))
	value, found, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hola"), value)

	require.NoError(t, store.Delete(ctx, "greeting"))
	_, found, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreExpiredEntryNotReturned(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short-lived", []byte("x"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)
	_, found, err := store.Get(ctx, "short-lived")
	require.NoError(t, err)
	require.False(t, found)

	// Zero TTL means the entry never expires.
	require.NoError(t, store.Set(ctx, "pinned", []byte("y"), 0))
	_, found, err = store.Get(ctx, "pinned")
	require.NoError(t, err)
	require.True(t, found)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	count, remaining, err := store.IncrementWithTTL(ctx, "ratelimit:app", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, remaining, time.Duration(0))

	count, _, err = store.IncrementWithTTL(ctx, "ratelimit:app", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// A different key counts independently.
	count, _, err = store.IncrementWithTTL(ctx, "ratelimit:other", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestNewDatabaseStoreNilHandle(t *testing.T) {
	store := NewDatabaseStore(nil)
	require.Nil(t, store)

	_, _, err := store.IncrementWithTTL(context.Background(), "k", time.Minute)
	require.Error(t, err)
}
