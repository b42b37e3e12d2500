package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
	"github.com/kitewall/apigate/internal/monitoring"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/logger"
	"github.com/kitewall/apigate/pkg/mail"
)

const (
	defaultAuditRetentionDays = 180
	defaultReminderSpec       = "0 2 * * *"
	defaultAuditSpec          = "@daily"
	defaultCacheSpec          = "@hourly"
)

// Cleaner coordinates background maintenance: reminding apps about grants
// that enter their renewal window, pruning stale audit logs, and removing
// expired rate-limit counters and lock rows.
type Cleaner struct {
	db          *gorm.DB
	permissions *services.AppPermissionService
	audit       *services.AuditService
	mailer      mail.Mailer
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger
	enabled     bool
	retention   int
	reminders   bool

	reminderSchedule string
	auditSchedule    string
	cacheSchedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithMailer enables expiring-grant reminder mail through the supplied mailer.
func WithMailer(mailer mail.Mailer) Option {
	return func(cleaner *Cleaner) {
		cleaner.mailer = mailer
	}
}

// WithReminders toggles the expiring-grant reminder job.
func WithReminders(enabled bool) Option {
	return func(cleaner *Cleaner) {
		cleaner.reminders = enabled
	}
}

// WithReminderSchedule overrides the cron specification for grant reminders.
func WithReminderSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.reminderSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache and lock row cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(db *gorm.DB, perms *services.AppPermissionService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:               db,
		permissions:      perms,
		audit:            audit,
		now:              time.Now,
		retention:        defaultAuditRetentionDays,
		reminders:        true,
		reminderSchedule: defaultReminderSpec,
		auditSchedule:    defaultAuditSpec,
		cacheSchedule:    defaultCacheSpec,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.permissions != nil || cleaner.audit != nil || cleaner.db != nil

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.permissions != nil && c.reminders {
		if _, err := c.cron.AddFunc(c.reminderSchedule, func() {
			c.runJob("grant_reminder", c.remindExpiringGrants)
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			c.runJob("audit_cleanup", c.cleanupAudit)
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			c.runJob("cache_cleanup", c.cleanupCacheRows)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.permissions != nil && c.reminders {
		if err := c.remindExpiringGrants(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.retention > 0 {
		if err := c.cleanupAudit(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if err := c.cleanupCacheRows(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) runJob(name string, fn func(ctx context.Context) error) {
	started := c.now()
	err := fn(context.Background())
	duration := time.Since(started)
	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", name), zap.Error(err))
		monitoring.RecordMaintenanceRun(name, "failure", err.Error(), duration)
		return
	}
	monitoring.RecordMaintenanceRun(name, "success", "", duration)
}

// remindExpiringGrants mails each app that holds a grant inside the renewal
// window. One app gets at most one mail per run, regardless of how many of
// its grants are closing.
func (c *Cleaner) remindExpiringGrants(ctx context.Context) error {
	resourceGrants, gatewayGrants, err := c.permissions.ExpiringGrants(ctx)
	if err != nil {
		return err
	}

	type expiry struct {
		appCode string
		soonest time.Time
		count   int
	}
	byApp := map[string]*expiry{}
	note := func(appCode string, expiresAt time.Time) {
		entry, ok := byApp[appCode]
		if !ok {
			entry = &expiry{appCode: appCode, soonest: expiresAt}
			byApp[appCode] = entry
		}
		entry.count++
		if expiresAt.Before(entry.soonest) {
			entry.soonest = expiresAt
		}
	}
	for _, grant := range resourceGrants {
		note(grant.AppCode, grant.ExpiresAt)
	}
	for _, grant := range gatewayGrants {
		note(grant.AppCode, grant.ExpiresAt)
	}

	if len(byApp) == 0 {
		return nil
	}

	c.log.Info("expiring grants found", zap.Int("apps", len(byApp)))
	if c.mailer == nil {
		return nil
	}

	var errs error
	for _, entry := range byApp {
		msg := mail.Message{
			To:      []string{entry.appCode},
			Subject: fmt.Sprintf("%d API permission(s) for %s expire soon", entry.count, entry.appCode),
			Body: fmt.Sprintf("App %s holds %d grant(s) expiring, the earliest at %s. Renew them before they lapse.\n",
				entry.appCode, entry.count, entry.soonest.UTC().Format(time.RFC3339)),
		}
		if err := c.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
			errs = multierr.Append(errs, fmt.Errorf("remind %s: %w", entry.appCode, err))
		}
	}
	return errs
}

func (c *Cleaner) cleanupAudit(ctx context.Context) error {
	removed, err := c.audit.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("audit logs pruned", zap.Int64("removed", removed))
	}
	return nil
}

// cleanupCacheRows drops expired rate-limit counters and stale lock claims.
func (c *Cleaner) cleanupCacheRows(ctx context.Context) error {
	now := c.now()

	var errs error
	if result := c.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.CacheEntry{}); result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cache entries: %w", result.Error))
	}
	if result := c.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.NamedLock{}); result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("lock rows: %w", result.Error))
	}
	return errs
}
