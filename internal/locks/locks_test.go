package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kitewall/apigate/internal/database/testutil"
	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	manager, err := NewManager(db)
	require.NoError(t, err)

	lock, err := manager.Acquire(context.Background(), "release:1:1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "release:1:1", lock.Key())

	var count int64
	require.NoError(t, db.Model(&models.NamedLock{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	require.NoError(t, lock.Release(context.Background()))
	require.NoError(t, db.Model(&models.NamedLock{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	manager, err := NewManager(db)
	require.NoError(t, err)

	lock, err := manager.Acquire(context.Background(), "release:1:1", time.Second)
	require.NoError(t, err)
	defer func() { _ = lock.Release(context.Background()) }()

	_, err = manager.Acquire(context.Background(), "release:1:1", 150*time.Millisecond)
	require.ErrorIs(t, err, apperrors.ErrLockTimeout)

	// A different key is unaffected by the held lock.
	other, err := manager.Acquire(context.Background(), "release:1:2", time.Second)
	require.NoError(t, err)
	require.NoError(t, other.Release(context.Background()))
}

func TestAcquireClaimsExpiredLock(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, err := NewManager(db,
		WithTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	first, err := manager.Acquire(context.Background(), "release:1:1", time.Second)
	require.NoError(t, err)

	// Holder went away without releasing; once the TTL passes the next
	// claimant takes over the row.
	now = now.Add(2 * time.Minute)

	second, err := manager.Acquire(context.Background(), "release:1:1", time.Second)
	require.NoError(t, err)

	var row models.NamedLock
	require.NoError(t, db.Take(&row, "key = ?", "release:1:1").Error)
	require.Equal(t, now.Add(time.Minute).Unix(), row.ExpiresAt.Unix())

	// The original holder's release no longer matches the owner column.
	require.NoError(t, first.Release(context.Background()))
	var count int64
	require.NoError(t, db.Model(&models.NamedLock{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	require.NoError(t, second.Release(context.Background()))
	require.NoError(t, db.Model(&models.NamedLock{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestNewManagerRequiresDatabase(t *testing.T) {
	_, err := NewManager(nil)
	require.Error(t, err)
}
