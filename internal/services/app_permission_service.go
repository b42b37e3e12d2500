package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
	"github.com/kitewall/apigate/internal/monitoring"
	"github.com/kitewall/apigate/internal/permissions"
	"github.com/kitewall/apigate/internal/realtime"
	apperrors "github.com/kitewall/apigate/pkg/errors"
	"github.com/kitewall/apigate/pkg/logger"
	"github.com/kitewall/apigate/pkg/mail"
	"github.com/kitewall/apigate/pkg/metrics"
)

// ErrGatewayNotFound indicates the requested gateway does not exist.
var ErrGatewayNotFound = apperrors.New("GATEWAY_NOT_FOUND", "Gateway not found", 404)

// AppPermissionDTO is one row of the permission listing projection.
type AppPermissionDTO struct {
	ID             int64      `json:"id"`
	BkAppCode      string     `json:"bk_app_code"`
	GatewayID      int64      `json:"gateway_id"`
	ResourceID     *int64     `json:"resource_id,omitempty"`
	ResourceName   string     `json:"resource_name,omitempty"`
	ResourcePath   string     `json:"resource_path,omitempty"`
	ResourceMethod string     `json:"resource_method,omitempty"`
	Expires        *time.Time `json:"expires"`
	GrantDimension string     `json:"grant_dimension"`
	GrantType      string     `json:"grant_type"`
	Renewable      bool       `json:"renewable"`
}

// ApplyPermissionInput describes an app's access request.
type ApplyPermissionInput struct {
	AppCode        string
	GatewayID      int64
	GrantDimension string
	ResourceIDs    []int64
	Reason         string
	ExpireDays     int
	AppliedBy      string
}

// HandlePermissionInput describes a maintainer's resolution of an apply.
type HandlePermissionInput struct {
	GatewayID       int64
	ApplyID         int64
	Status          string
	Comment         string
	HandledBy       string
	PartResourceIDs []int64
}

// GrantPermissionInput describes a direct grant issued by a maintainer,
// bypassing the apply workflow.
type GrantPermissionInput struct {
	AppCode        string
	GatewayID      int64
	GrantDimension string
	ResourceIDs    []int64
	ExpireDays     int
	GrantedBy      string
}

// RenewPermissionInput selects grant rows (by primary key) to extend.
type RenewPermissionInput struct {
	GatewayID      int64
	GrantDimension string
	IDs            []int64
}

// ListRecordsInput filters the resolved-apply history.
type ListRecordsInput struct {
	GatewayID int64
	AppCode   string
	Page      int
	PageSize  int
}

// AppPermissionOption customises AppPermissionService behaviour.
type AppPermissionOption func(*AppPermissionService)

// WithPermissionClock injects a custom clock primarily for testing.
func WithPermissionClock(clock func() time.Time) AppPermissionOption {
	return func(s *AppPermissionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPermissionPolicy overrides the expiry/renewal policy.
func WithPermissionPolicy(policy permissions.Policy) AppPermissionOption {
	return func(s *AppPermissionService) {
		s.policy = policy
	}
}

// AppPermissionService orchestrates the permission apply/grant/renew workflow
// over the dimension managers. It is the only write path into the grant
// stores.
type AppPermissionService struct {
	db     *gorm.DB
	mailer mail.Mailer
	audit  *AuditService
	hub    *realtime.Hub
	policy permissions.Policy
	now    func() time.Time
	log    *zap.Logger
}

// NewAppPermissionService constructs the permission workflow service.
func NewAppPermissionService(db *gorm.DB, mailer mail.Mailer, audit *AuditService, hub *realtime.Hub, opts ...AppPermissionOption) (*AppPermissionService, error) {
	if db == nil {
		return nil, errors.New("app permission service: db is required")
	}

	service := &AppPermissionService{
		db:     db,
		mailer: mailer,
		audit:  audit,
		hub:    hub,
		policy: permissions.DefaultPolicy(),
		now:    time.Now,
		log:    logger.WithModule("permissions"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

func (s *AppPermissionService) manager(dimension string) (permissions.Manager, error) {
	return permissions.GetManager(dimension, s.db, s.policy, permissions.WithClock(s.now))
}

// Apply submits a new permission apply after the dimension manager's
// precondition checks pass.
func (s *AppPermissionService) Apply(ctx context.Context, in ApplyPermissionInput) (*models.AppPermissionApply, error) {
	ctx = ensureContext(ctx)

	gateway, err := s.loadGateway(ctx, in.GatewayID)
	if err != nil {
		return nil, err
	}

	mgr, err := s.manager(in.GrantDimension)
	if err != nil {
		return nil, err
	}

	apply, err := mgr.CreateApplyRecord(ctx, permissions.CreateApplyInput{
		AppCode:     strings.TrimSpace(in.AppCode),
		GatewayID:   gateway.ID,
		ResourceIDs: in.ResourceIDs,
		Reason:      strings.TrimSpace(in.Reason),
		ExpireDays:  in.ExpireDays,
		AppliedBy:   strings.TrimSpace(in.AppliedBy),
	})
	if err != nil {
		return nil, err
	}

	metrics.PermissionApplies.WithLabelValues(in.GrantDimension).Inc()
	monitoring.RecordApplyEvent(in.GrantDimension, "submitted")
	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  apply.AppliedBy,
		GatewayID: gateway.ID,
		Action:    "permission.apply",
		Resource:  fmt.Sprintf("apply/%d", apply.ID),
		Result:    "success",
		Metadata: map[string]any{
			"app_code":  apply.AppCode,
			"dimension": apply.GrantDimension,
		},
	})

	s.notifyMaintainersOfApply(gateway, apply)
	s.broadcast(gateway, "permission.apply.created", map[string]any{
		"apply_id":  apply.ID,
		"app_code":  apply.AppCode,
		"dimension": apply.GrantDimension,
	})

	return apply, nil
}

// Handle resolves a pending apply. The dimension is taken from the stored
// apply row, not from caller input, so a mismatched dimension cannot
// misroute the transition.
func (s *AppPermissionService) Handle(ctx context.Context, in HandlePermissionInput) (*models.AppPermissionRecord, error) {
	ctx = ensureContext(ctx)

	gateway, err := s.loadGateway(ctx, in.GatewayID)
	if err != nil {
		return nil, err
	}

	var apply models.AppPermissionApply
	err = s.db.WithContext(ctx).
		Take(&apply, "id = ? AND gateway_id = ?", in.ApplyID, gateway.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, permissions.ErrApplyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("app permission service: load apply: %w", err)
	}

	mgr, err := s.manager(apply.GrantDimension)
	if err != nil {
		return nil, err
	}

	record, err := mgr.HandlePermissionApply(ctx, permissions.HandleApplyInput{
		ApplyID:         apply.ID,
		Status:          in.Status,
		Comment:         strings.TrimSpace(in.Comment),
		HandledBy:       strings.TrimSpace(in.HandledBy),
		PartResourceIDs: in.PartResourceIDs,
	})
	if err != nil {
		return nil, err
	}

	metrics.PermissionHandled.WithLabelValues(record.GrantDimension, record.Status).Inc()
	monitoring.RecordApplyEvent(record.GrantDimension, record.Status)
	if len(record.ApprovedResourceIDs) > 0 || record.Status == models.ApplyStatusApproved {
		metrics.PermissionGrants.WithLabelValues(record.GrantDimension, "apply").Inc()
		monitoring.RecordGrantEvent(record.GrantDimension, "apply", 1)
	}
	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  record.HandledBy,
		GatewayID: gateway.ID,
		Action:    "permission.handle",
		Resource:  fmt.Sprintf("record/%d", record.ID),
		Result:    "success",
		Metadata: map[string]any{
			"app_code": record.AppCode,
			"status":   record.Status,
		},
	})

	// Mail is dispatched only after the manager's transaction has committed;
	// a rolled-back approval never notifies the applicant.
	s.notifyApplicantOfOutcome(gateway, record)
	s.broadcast(gateway, "permission.apply.handled", map[string]any{
		"record_id": record.ID,
		"app_code":  record.AppCode,
		"status":    record.Status,
	})

	return record, nil
}

// Grant issues or extends permissions directly, recording a history row for
// the grant event.
func (s *AppPermissionService) Grant(ctx context.Context, in GrantPermissionInput) error {
	ctx = ensureContext(ctx)

	gateway, err := s.loadGateway(ctx, in.GatewayID)
	if err != nil {
		return err
	}

	mgr, err := s.manager(in.GrantDimension)
	if err != nil {
		return err
	}

	appCode := strings.TrimSpace(in.AppCode)
	if appCode == "" {
		return apperrors.NewBadRequest("app code is required")
	}

	if err := mgr.SavePermissions(ctx, permissions.SavePermissionsInput{
		AppCode:     appCode,
		GatewayID:   gateway.ID,
		ResourceIDs: in.ResourceIDs,
		ExpireDays:  in.ExpireDays,
		GrantType:   models.GrantTypeInitialize,
	}); err != nil {
		return err
	}

	now := s.now()
	record := models.AppPermissionRecord{
		AppCode:        appCode,
		GatewayID:      gateway.ID,
		GrantDimension: in.GrantDimension,
		Status:         models.ApplyStatusApproved,
		Comment:        "granted by maintainer",
		ExpireDays:     in.ExpireDays,
		HandledBy:      strings.TrimSpace(in.GrantedBy),
		HandledTime:    now,
		AppliedTime:    now,
	}
	if in.GrantDimension == models.GrantDimensionResource {
		record.ApprovedResourceIDs = in.ResourceIDs
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("app permission service: record grant: %w", err)
	}

	metrics.PermissionGrants.WithLabelValues(in.GrantDimension, "grant").Inc()
	monitoring.RecordGrantEvent(in.GrantDimension, "grant", 1)
	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  record.HandledBy,
		GatewayID: gateway.ID,
		Action:    "permission.grant",
		Resource:  fmt.Sprintf("record/%d", record.ID),
		Result:    "success",
		Metadata:  map[string]any{"app_code": appCode, "dimension": in.GrantDimension},
	})
	return nil
}

// Renew extends the selected grant rows. Ids that are missing or not
// renewable are skipped and logged, never errors.
func (s *AppPermissionService) Renew(ctx context.Context, in RenewPermissionInput) (int, error) {
	ctx = ensureContext(ctx)

	mgr, err := s.manager(in.GrantDimension)
	if err != nil {
		return 0, err
	}

	renewed, err := mgr.RenewByIDs(ctx, in.GatewayID, in.IDs)
	if err != nil {
		return renewed, err
	}

	if skipped := len(in.IDs) - renewed; skipped > 0 {
		s.log.Info("renewal skipped ineligible grants",
			zap.Int64("gateway_id", in.GatewayID),
			zap.String("dimension", in.GrantDimension),
			zap.Int("skipped", skipped))
	}
	if renewed > 0 {
		metrics.PermissionGrants.WithLabelValues(in.GrantDimension, "renew").Add(float64(renewed))
		monitoring.RecordGrantEvent(in.GrantDimension, "renew", renewed)
	}
	return renewed, nil
}

// ListAppPermissions projects an app's grants on one gateway, resource rows
// first, with the renewable flag computed from the policy window.
func (s *AppPermissionService) ListAppPermissions(ctx context.Context, gatewayID int64, appCode string) ([]AppPermissionDTO, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var resourceGrants []models.AppResourcePermission
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ? AND app_code = ?", gatewayID, appCode).
		Order("id ASC").
		Find(&resourceGrants).Error; err != nil {
		return nil, fmt.Errorf("app permission service: list resource grants: %w", err)
	}

	resourceByID, err := s.resourceIndex(ctx, gatewayID)
	if err != nil {
		return nil, err
	}

	out := make([]AppPermissionDTO, 0, len(resourceGrants)+1)
	for _, grant := range resourceGrants {
		dto := AppPermissionDTO{
			ID:             grant.ID,
			BkAppCode:      grant.AppCode,
			GatewayID:      grant.GatewayID,
			Expires:        permissions.DisplayExpiry(grant.ExpiresAt),
			GrantDimension: models.GrantDimensionResource,
			GrantType:      grant.GrantType,
			Renewable:      s.renewable(grant.ExpiresAt, now),
		}
		resourceID := grant.ResourceID
		dto.ResourceID = &resourceID
		if res, ok := resourceByID[grant.ResourceID]; ok {
			dto.ResourceName = res.Name
			dto.ResourcePath = res.Path
			dto.ResourceMethod = res.Method
		}
		out = append(out, dto)
	}

	var gatewayGrant models.AppGatewayPermission
	err = s.db.WithContext(ctx).
		Where("gateway_id = ? AND app_code = ?", gatewayID, appCode).
		Take(&gatewayGrant).Error
	switch {
	case err == nil:
		out = append(out, AppPermissionDTO{
			ID:             gatewayGrant.ID,
			BkAppCode:      gatewayGrant.AppCode,
			GatewayID:      gatewayGrant.GatewayID,
			Expires:        permissions.DisplayExpiry(gatewayGrant.ExpiresAt),
			GrantDimension: models.GrantDimensionGateway,
			GrantType:      gatewayGrant.GrantType,
			Renewable:      s.renewable(gatewayGrant.ExpiresAt, now),
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("app permission service: load gateway grant: %w", err)
	}

	return out, nil
}

// StatusFor derives the permission status of one (app, resource) key,
// joining the grant store with pending applies.
func (s *AppPermissionService) StatusFor(ctx context.Context, gatewayID int64, appCode string, resourceID int64) (permissions.PermissionStatus, error) {
	ctx = ensureContext(ctx)

	var expiresAt *time.Time

	var gatewayGrant models.AppGatewayPermission
	err := s.db.WithContext(ctx).
		Where("gateway_id = ? AND app_code = ?", gatewayID, appCode).
		Take(&gatewayGrant).Error
	if err == nil {
		expiresAt = &gatewayGrant.ExpiresAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("app permission service: load gateway grant: %w", err)
	}

	// A resource grant with a later expiry supersedes the gateway grant.
	var resourceGrant models.AppResourcePermission
	err = s.db.WithContext(ctx).
		Where("gateway_id = ? AND app_code = ? AND resource_id = ?", gatewayID, appCode, resourceID).
		Take(&resourceGrant).Error
	if err == nil {
		if expiresAt == nil || resourceGrant.ExpiresAt.After(*expiresAt) {
			expiresAt = &resourceGrant.ExpiresAt
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("app permission service: load resource grant: %w", err)
	}

	var pending int64
	if err := s.db.WithContext(ctx).
		Model(&models.AppPermissionApply{}).
		Where("gateway_id = ? AND app_code = ?", gatewayID, appCode).
		Count(&pending).Error; err != nil {
		return "", fmt.Errorf("app permission service: count pending applies: %w", err)
	}

	status := permissions.StatusOf(expiresAt, pending > 0, s.now())
	switch status {
	case permissions.StatusOwned, permissions.StatusUnlimited:
		monitoring.RecordPermissionCheck(models.GrantDimensionResource, "allowed")
	default:
		monitoring.RecordPermissionCheck(models.GrantDimensionResource, "denied")
	}
	return status, nil
}

// ListPendingApplies returns unresolved applies for a gateway.
func (s *AppPermissionService) ListPendingApplies(ctx context.Context, gatewayID int64) ([]models.AppPermissionApply, error) {
	ctx = ensureContext(ctx)

	var applies []models.AppPermissionApply
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Order("created_at ASC").
		Find(&applies).Error; err != nil {
		return nil, fmt.Errorf("app permission service: list applies: %w", err)
	}
	return applies, nil
}

// GetApplyForApp retrieves one pending apply scoped by both id and app code,
// so one tenant cannot probe another's applies.
func (s *AppPermissionService) GetApplyForApp(ctx context.Context, applyID int64, appCode string) (*models.AppPermissionApply, error) {
	ctx = ensureContext(ctx)

	var apply models.AppPermissionApply
	err := s.db.WithContext(ctx).
		Take(&apply, "id = ? AND app_code = ?", applyID, appCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("app permission service: load apply: %w", err)
	}
	return &apply, nil
}

// ListRecords pages through the resolved-apply history.
func (s *AppPermissionService) ListRecords(ctx context.Context, in ListRecordsInput) ([]models.AppPermissionRecord, int64, error) {
	ctx = ensureContext(ctx)

	page := in.Page
	if page <= 0 {
		page = 1
	}
	perPage := in.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 20
	}

	query := s.db.WithContext(ctx).Model(&models.AppPermissionRecord{}).
		Where("gateway_id = ?", in.GatewayID)
	if code := strings.TrimSpace(in.AppCode); code != "" {
		query = query.Where("app_code = ?", code)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("app permission service: count records: %w", err)
	}

	var records []models.AppPermissionRecord
	if err := query.
		Order("handled_time DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("app permission service: list records: %w", err)
	}
	return records, total, nil
}

// ExpiringGrants returns grants whose expiry falls inside the renewable
// window, used by the reminder job.
func (s *AppPermissionService) ExpiringGrants(ctx context.Context) ([]models.AppResourcePermission, []models.AppGatewayPermission, error) {
	ctx = ensureContext(ctx)
	now := s.now()
	horizon := now.Add(s.policy.RenewableWindow)

	var resourceGrants []models.AppResourcePermission
	if err := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", now, horizon).
		Find(&resourceGrants).Error; err != nil {
		return nil, nil, fmt.Errorf("app permission service: list expiring resource grants: %w", err)
	}

	var gatewayGrants []models.AppGatewayPermission
	if err := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", now, horizon).
		Find(&gatewayGrants).Error; err != nil {
		return nil, nil, fmt.Errorf("app permission service: list expiring gateway grants: %w", err)
	}
	return resourceGrants, gatewayGrants, nil
}

func (s *AppPermissionService) renewable(expiresAt time.Time, now time.Time) bool {
	status := permissions.StatusOf(&expiresAt, false, now)
	return s.policy.Renewable(status, expiresAt.Sub(now))
}

func (s *AppPermissionService) loadGateway(ctx context.Context, id int64) (*models.Gateway, error) {
	var gateway models.Gateway
	err := s.db.WithContext(ctx).Take(&gateway, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGatewayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("app permission service: load gateway: %w", err)
	}
	return &gateway, nil
}

func (s *AppPermissionService) resourceIndex(ctx context.Context, gatewayID int64) (map[int64]models.Resource, error) {
	var resources []models.Resource
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("app permission service: load resources: %w", err)
	}
	index := make(map[int64]models.Resource, len(resources))
	for _, res := range resources {
		index[res.ID] = res
	}
	return index, nil
}

// notifyMaintainersOfApply mails the gateway maintainers about a new apply.
// Dispatch is fire-and-forget: failures are logged and never surfaced.
func (s *AppPermissionService) notifyMaintainersOfApply(gateway *models.Gateway, apply *models.AppPermissionApply) {
	if s.mailer == nil {
		return
	}
	maintainers := gateway.MaintainerList()
	if len(maintainers) == 0 {
		return
	}

	message := mail.Message{
		To:      maintainers,
		Subject: fmt.Sprintf("[%s] Permission apply from %s awaits approval", gateway.Name, apply.AppCode),
		Body: fmt.Sprintf("App %s applied for %s-level access to gateway %s.\nReason: %s\n",
			apply.AppCode, apply.GrantDimension, gateway.Name, apply.Reason),
	}
	go s.sendMail(message, "apply", apply.ID)
}

func (s *AppPermissionService) notifyApplicantOfOutcome(gateway *models.Gateway, record *models.AppPermissionRecord) {
	if s.mailer == nil || record.AppliedBy == "" {
		return
	}
	message := mail.Message{
		To:      []string{record.AppliedBy},
		Subject: fmt.Sprintf("[%s] Your permission apply was %s", gateway.Name, record.Status),
		Body: fmt.Sprintf("Your apply for gateway %s was resolved as %s.\nComment: %s\n",
			gateway.Name, record.Status, record.Comment),
	}
	go s.sendMail(message, "record", record.ID)
}

func (s *AppPermissionService) sendMail(message mail.Message, kind string, id int64) {
	err := s.mailer.Send(context.Background(), message)
	if err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		s.log.Warn("permission notification failed",
			zap.String("kind", kind),
			zap.Int64("id", id),
			zap.Error(err))
	}
}

func (s *AppPermissionService) broadcast(gateway *models.Gateway, event string, data map[string]any) {
	if s.hub == nil {
		return
	}
	message := realtime.Message{
		Stream: realtime.StreamPermissions,
		Event:  event,
		Data:   data,
	}
	s.hub.BroadcastToUsers(realtime.StreamPermissions, gateway.MaintainerList(), message)
}
