package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

const (
	defaultTTL          = 30 * time.Second
	defaultRetryBackoff = 100 * time.Millisecond
)

// Lock is a held named lock. Release it when the guarded work finishes.
type Lock struct {
	key     string
	owner   string
	manager *Manager
}

// Key returns the lock's name.
func (l *Lock) Key() string { return l.key }

// ManagerOption customises lock manager behaviour.
type ManagerOption func(*Manager)

// WithTTL bounds how long a crashed holder can keep a lock stuck.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock injects a custom clock primarily for testing.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// Manager hands out named locks backed by a database table, so mutual
// exclusion holds across processes sharing the database. Expired rows are
// claimed in place rather than waiting for cleanup.
type Manager struct {
	db      *gorm.DB
	ttl     time.Duration
	backoff time.Duration
	now     func() time.Time
}

// NewManager constructs a lock manager.
func NewManager(db *gorm.DB, opts ...ManagerOption) (*Manager, error) {
	if db == nil {
		return nil, errors.New("locks: db is required")
	}
	manager := &Manager{
		db:      db,
		ttl:     defaultTTL,
		backoff: defaultRetryBackoff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager, nil
}

// Acquire attempts to take the named lock, retrying until wait elapses.
// On timeout it returns ErrLockTimeout so callers can surface a retryable
// conflict instead of blocking a request indefinitely.
func (m *Manager) Acquire(ctx context.Context, key string, wait time.Duration) (*Lock, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	owner := uuid.NewString()
	deadline := m.now().Add(wait)

	for {
		ok, err := m.tryAcquire(ctx, key, owner)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{key: key, owner: owner, manager: m}, nil
		}
		if m.now().After(deadline) {
			return nil, apperrors.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.backoff):
		}
	}
}

func (m *Manager) tryAcquire(ctx context.Context, key, owner string) (bool, error) {
	now := m.now()
	expiry := now.Add(m.ttl)

	// Claim an expired row in place with a compare-and-swap update; the
	// expiry guard keeps two claimants from both succeeding.
	claim := m.db.WithContext(ctx).
		Model(&models.NamedLock{}).
		Where("key = ? AND expires_at <= ?", key, now).
		Updates(map[string]any{"owner": owner, "expires_at": expiry})
	if claim.Error != nil {
		return false, fmt.Errorf("locks: claim %q: %w", key, claim.Error)
	}
	if claim.RowsAffected > 0 {
		return true, nil
	}

	// No expired row to claim: the insert wins the key only when nobody
	// holds it. A concurrent creator turns this into a no-op.
	insert := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.NamedLock{Key: key, Owner: owner, ExpiresAt: expiry})
	if insert.Error != nil {
		return false, fmt.Errorf("locks: insert %q: %w", key, insert.Error)
	}
	return insert.RowsAffected > 0, nil
}

// Release frees the lock if this holder still owns it. Releasing an
// already-expired or reclaimed lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.manager == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := l.manager.db.WithContext(ctx).
		Where("key = ? AND owner = ?", l.key, l.owner).
		Delete(&models.NamedLock{}).Error
	if err != nil {
		return fmt.Errorf("locks: release %q: %w", l.key, err)
	}
	return nil
}
