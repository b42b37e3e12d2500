package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kitewall/apigate/internal/locks"
	"github.com/kitewall/apigate/internal/models"
	"github.com/kitewall/apigate/internal/monitoring"
	"github.com/kitewall/apigate/internal/realtime"
	apperrors "github.com/kitewall/apigate/pkg/errors"
	"github.com/kitewall/apigate/pkg/metrics"
)

// ErrResourceVersionNotFound indicates the version does not exist.
var ErrResourceVersionNotFound = apperrors.New("RESOURCE_VERSION_NOT_FOUND", "Resource version not found", 404)

// ErrEmptySnapshot indicates a version cannot be created from zero resources.
var ErrEmptySnapshot = apperrors.NewBadRequest("gateway has no resources to snapshot")

const releaseLockWait = 5 * time.Second

// CreateVersionInput freezes a gateway's current resources into a version.
type CreateVersionInput struct {
	GatewayID int64
	Version   string
	Comment   string
	CreatedBy string
}

// ReleaseInput binds a resource version to a stage.
type ReleaseInput struct {
	GatewayID         int64
	StageID           int64
	ResourceVersionID int64
	Comment           string
	ReleasedBy        string
}

// ReleaseService snapshots resource versions and releases them to stages.
type ReleaseService struct {
	db    *gorm.DB
	locks *locks.Manager
	audit *AuditService
	hub   *realtime.Hub
}

// NewReleaseService constructs the release service.
func NewReleaseService(db *gorm.DB, lockManager *locks.Manager, audit *AuditService, hub *realtime.Hub) (*ReleaseService, error) {
	if db == nil {
		return nil, errors.New("release service: db is required")
	}
	if lockManager == nil {
		return nil, errors.New("release service: lock manager is required")
	}
	return &ReleaseService{db: db, locks: lockManager, audit: audit, hub: hub}, nil
}

// CreateVersion snapshots the gateway's resources under a version label.
// The snapshot is a frozen copy: later resource edits do not touch it.
func (s *ReleaseService) CreateVersion(ctx context.Context, in CreateVersionInput) (*models.ResourceVersion, error) {
	ctx = ensureContext(ctx)

	version := strings.TrimSpace(in.Version)
	if version == "" {
		return nil, apperrors.NewBadRequest("version label is required")
	}

	var resources []models.Resource
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ?", in.GatewayID).
		Order("id ASC").
		Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("release service: load resources: %w", err)
	}
	if len(resources) == 0 {
		return nil, ErrEmptySnapshot
	}

	snapshot, err := json.Marshal(resources)
	if err != nil {
		return nil, fmt.Errorf("release service: marshal snapshot: %w", err)
	}

	record := models.ResourceVersion{
		GatewayID: in.GatewayID,
		Version:   version,
		Comment:   strings.TrimSpace(in.Comment),
		Snapshot:  datatypes.JSON(snapshot),
		CreatedBy: strings.TrimSpace(in.CreatedBy),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("version label already exists on this gateway")
		}
		return nil, fmt.Errorf("release service: create version: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  record.CreatedBy,
		GatewayID: in.GatewayID,
		Action:    "version.create",
		Resource:  fmt.Sprintf("resource-version/%d", record.ID),
		Result:    "success",
		Metadata:  map[string]any{"version": version, "resources": len(resources)},
	})
	return &record, nil
}

// GetVersion loads a version scoped to its gateway.
func (s *ReleaseService) GetVersion(ctx context.Context, gatewayID, versionID int64) (*models.ResourceVersion, error) {
	ctx = ensureContext(ctx)

	var version models.ResourceVersion
	err := s.db.WithContext(ctx).
		Take(&version, "id = ? AND gateway_id = ?", versionID, gatewayID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResourceVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("release service: load version: %w", err)
	}
	return &version, nil
}

// ListVersions returns a gateway's versions, newest first.
func (s *ReleaseService) ListVersions(ctx context.Context, gatewayID int64) ([]models.ResourceVersion, error) {
	ctx = ensureContext(ctx)

	var versions []models.ResourceVersion
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Order("created_at DESC").
		Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("release service: list versions: %w", err)
	}
	return versions, nil
}

// Release binds a version to a stage under a bounded-wait named lock, so
// concurrent releases to the same stage serialise instead of interleaving.
// A stage's previous release is replaced in place and the stage flips to
// active. Lock timeout surfaces as a retryable conflict.
func (s *ReleaseService) Release(ctx context.Context, in ReleaseInput) (*models.Release, error) {
	ctx = ensureContext(ctx)
	started := time.Now()

	version, err := s.GetVersion(ctx, in.GatewayID, in.ResourceVersionID)
	if err != nil {
		metrics.ReleaseAttempts.WithLabelValues("invalid").Inc()
		monitoring.RecordRelease("invalid", err.Error(), time.Since(started))
		return nil, err
	}

	var stage models.Stage
	err = s.db.WithContext(ctx).
		Take(&stage, "id = ? AND gateway_id = ?", in.StageID, in.GatewayID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.ReleaseAttempts.WithLabelValues("invalid").Inc()
		monitoring.RecordRelease("invalid", "stage not found", time.Since(started))
		return nil, ErrStageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("release service: load stage: %w", err)
	}

	lockKey := fmt.Sprintf("release:%d:%d", in.GatewayID, in.StageID)
	lock, err := s.locks.Acquire(ctx, lockKey, releaseLockWait)
	if err != nil {
		if errors.Is(err, apperrors.ErrLockTimeout) {
			metrics.ReleaseAttempts.WithLabelValues("lock_timeout").Inc()
			monitoring.RecordRelease("lock_timeout", "release already in progress", time.Since(started))
		}
		return nil, err
	}
	defer func() { _ = lock.Release(ctx) }()

	release := models.Release{
		GatewayID:         in.GatewayID,
		StageID:           in.StageID,
		ResourceVersionID: version.ID,
		Comment:           strings.TrimSpace(in.Comment),
		ReleasedBy:        strings.TrimSpace(in.ReleasedBy),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stage_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"resource_version_id", "comment", "released_by", "updated_at",
			}),
		}).Create(&release).Error; err != nil {
			return fmt.Errorf("upsert release: %w", err)
		}
		return tx.Model(&models.Stage{}).
			Where("id = ?", stage.ID).
			Update("status", models.StageStatusActive).Error
	})
	if err != nil {
		metrics.ReleaseAttempts.WithLabelValues("error").Inc()
		monitoring.RecordRelease("error", err.Error(), time.Since(started))
		return nil, fmt.Errorf("release service: release: %w", err)
	}

	metrics.ReleaseAttempts.WithLabelValues("success").Inc()
	monitoring.RecordRelease("success", "", time.Since(started))
	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  release.ReleasedBy,
		GatewayID: in.GatewayID,
		Action:    "release.create",
		Resource:  fmt.Sprintf("release/%d", release.ID),
		Result:    "success",
		Metadata:  map[string]any{"stage_id": stage.ID, "version": version.Version},
	})

	if s.hub != nil {
		s.hub.BroadcastStream(realtime.StreamReleases, realtime.Message{
			Stream: realtime.StreamReleases,
			Event:  "release.created",
			Data: map[string]any{
				"gateway_id": in.GatewayID,
				"stage_id":   stage.ID,
				"version":    version.Version,
			},
		})
	}
	return &release, nil
}

// GetStageRelease returns a stage's live release, or nil when the stage has
// never been released.
func (s *ReleaseService) GetStageRelease(ctx context.Context, gatewayID, stageID int64) (*models.Release, error) {
	ctx = ensureContext(ctx)

	var release models.Release
	err := s.db.WithContext(ctx).
		Take(&release, "gateway_id = ? AND stage_id = ?", gatewayID, stageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("release service: load release: %w", err)
	}
	return &release, nil
}
