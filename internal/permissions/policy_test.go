package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeNewExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expiry := ComputeNewExpiry(180, now)
	require.Equal(t, now.Add(180*24*time.Hour), expiry)

	forever := ComputeNewExpiry(0, now)
	require.True(t, IsNeverExpires(forever))

	// Renewal computes from now, never from the previous expiry, so a second
	// computation with the same inputs yields the same instant.
	require.Equal(t, expiry, ComputeNewExpiry(180, now))
}

func TestNeverExpiresRoundTrip(t *testing.T) {
	for _, days := range []int{0, -1} {
		expiry := ComputeNewExpiry(days, time.Now())
		require.True(t, IsNeverExpires(expiry))
		require.Nil(t, DisplayExpiry(expiry), "sentinel must serialize as null")
	}

	finite := ComputeNewExpiry(7, time.Now())
	require.False(t, IsNeverExpires(finite))
	require.NotNil(t, DisplayExpiry(finite))
}

func TestRenewableBoundary(t *testing.T) {
	policy := Policy{RenewableWindow: 30 * 24 * time.Hour}

	cases := []struct {
		name      string
		status    PermissionStatus
		expiresIn time.Duration
		want      bool
	}{
		{"owned inside window", StatusOwned, 24 * time.Hour, true},
		{"owned at zero", StatusOwned, 0, true},
		{"owned just below window", StatusOwned, 30*24*time.Hour - time.Second, true},
		{"owned exactly at window", StatusOwned, 30 * 24 * time.Hour, false},
		{"owned beyond window", StatusOwned, 60 * 24 * time.Hour, false},
		{"owned negative", StatusOwned, -time.Second, false},
		{"expired", StatusExpired, time.Hour, false},
		{"unlimited", StatusUnlimited, time.Hour, false},
		{"pending", StatusPending, time.Hour, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, policy.Renewable(tc.status, tc.expiresIn))
		})
	}
}

func TestStatusOf(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	require.Equal(t, StatusUnlimited, StatusOf(&NeverExpiresAt, false, now))
	require.Equal(t, StatusOwned, StatusOf(&future, false, now))
	require.Equal(t, StatusExpired, StatusOf(&past, false, now))

	// A held grant wins over a pending apply, even when expired.
	require.Equal(t, StatusExpired, StatusOf(&past, true, now))
	require.Equal(t, StatusUnlimited, StatusOf(&NeverExpiresAt, true, now))

	require.Equal(t, StatusPending, StatusOf(nil, true, now))
	require.Equal(t, StatusNotApplied, StatusOf(nil, false, now))
}
