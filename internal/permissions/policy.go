package permissions

import (
	"time"
)

// NeverExpiresAt is the sentinel expiry meaning "does not expire". A fixed
// far-future instant keeps expiry comparisons total-order-safe, unlike a
// null value.
var NeverExpiresAt = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultRenewableWindow is the span before expiry during which a grant may
// be renewed.
const DefaultRenewableWindow = 30 * 24 * time.Hour

// DefaultRenewDays is the validity period granted by a renewal.
const DefaultRenewDays = 180

// PermissionStatus is the derived state of an (app, gateway[, resource]) key,
// computed by joining the grant store with pending applies at query time.
type PermissionStatus string

const (
	// StatusUnlimited means a never-expires grant is held.
	StatusUnlimited PermissionStatus = "unlimited"
	// StatusOwned means a finite grant is held and has not expired.
	StatusOwned PermissionStatus = "owned"
	// StatusExpired means a grant row exists but its expiry has passed.
	StatusExpired PermissionStatus = "expired"
	// StatusPending means no live grant exists but an apply is pending.
	StatusPending PermissionStatus = "pending"
	// StatusNotApplied means neither a grant nor a pending apply exists.
	StatusNotApplied PermissionStatus = "not_applied"
)

// Policy bundles the expiry and renewal rules. Values are threaded in
// explicitly so the functions stay independently testable.
type Policy struct {
	RenewableWindow time.Duration
	RenewDays       int
}

// DefaultPolicy returns the policy used when configuration supplies nothing.
func DefaultPolicy() Policy {
	return Policy{
		RenewableWindow: DefaultRenewableWindow,
		RenewDays:       DefaultRenewDays,
	}
}

// IsNeverExpires reports whether the expiry equals the never-expires sentinel.
func IsNeverExpires(expiresAt time.Time) bool {
	return expiresAt.Equal(NeverExpiresAt)
}

// ComputeNewExpiry returns the expiry for a fresh grant or a renewal.
// Renewal always restarts the window from now rather than extending the old
// expiry. expireDays == models.ExpireDaysNever yields the sentinel.
func ComputeNewExpiry(expireDays int, now time.Time) time.Time {
	if expireDays <= 0 {
		return NeverExpiresAt
	}
	return now.Add(time.Duration(expireDays) * 24 * time.Hour)
}

// StatusOf derives the permission status for a key. A held grant, even an
// expired one, takes precedence over a pending apply; the pending state only
// surfaces when no grant row exists.
func StatusOf(expiresAt *time.Time, hasPendingApply bool, now time.Time) PermissionStatus {
	if expiresAt != nil {
		switch {
		case IsNeverExpires(*expiresAt):
			return StatusUnlimited
		case expiresAt.After(now):
			return StatusOwned
		default:
			return StatusExpired
		}
	}
	if hasPendingApply {
		return StatusPending
	}
	return StatusNotApplied
}

// Renewable reports whether a grant in the given status with expiresIn time
// remaining may be renewed. Only owned grants inside the renewable window
// qualify; expired grants must re-apply.
func (p Policy) Renewable(status PermissionStatus, expiresIn time.Duration) bool {
	if status != StatusOwned {
		return false
	}
	return expiresIn >= 0 && expiresIn < p.window()
}

// DisplayExpiry converts a stored expiry into its API form: nil when the
// grant never expires, so serialized rows show "expires": null.
func DisplayExpiry(expiresAt time.Time) *time.Time {
	if IsNeverExpires(expiresAt) {
		return nil
	}
	t := expiresAt
	return &t
}

func (p Policy) window() time.Duration {
	if p.RenewableWindow <= 0 {
		return DefaultRenewableWindow
	}
	return p.RenewableWindow
}

func (p Policy) renewDays() int {
	if p.RenewDays <= 0 {
		return DefaultRenewDays
	}
	return p.RenewDays
}
