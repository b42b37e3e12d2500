package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
	"github.com/kitewall/apigate/internal/monitoring"
	apperrors "github.com/kitewall/apigate/pkg/errors"
	"github.com/kitewall/apigate/pkg/logger"
	"github.com/kitewall/apigate/pkg/metrics"
)

// ESBComponentDefinition is one component entry in the YAML definition file.
type ESBComponentDefinition struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Method      string         `mapstructure:"method"`
	Path        string         `mapstructure:"path"`
	Config      map[string]any `mapstructure:"config"`
	IsPublic    *bool          `mapstructure:"is_public"`
}

// ESBSystemDefinition groups component definitions under a system.
type ESBSystemDefinition struct {
	Name        string                   `mapstructure:"name"`
	Description string                   `mapstructure:"description"`
	Maintainers []string                 `mapstructure:"maintainers"`
	Components  []ESBComponentDefinition `mapstructure:"components"`
}

// ESBDefinition is the root of the definition file.
type ESBDefinition struct {
	Systems []ESBSystemDefinition `mapstructure:"systems"`
}

// ESBSyncResult summarises one reconciliation run.
type ESBSyncResult struct {
	Created     int
	Updated     int
	Deactivated int
	Unchanged   int
}

// ESBService reconciles the legacy component registry against a static
// definition file and serves read queries over it.
type ESBService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewESBService constructs the ESB service.
func NewESBService(db *gorm.DB) (*ESBService, error) {
	if db == nil {
		return nil, errors.New("esb service: db is required")
	}
	return &ESBService{db: db, log: logger.WithModule("esb")}, nil
}

// LoadDefinition reads and decodes the YAML definition file.
func LoadDefinition(path string) (*ESBDefinition, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("esb: read definition %s: %w", path, err)
	}

	var def ESBDefinition
	if err := v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("esb: decode definition: %w", err)
	}
	if err := validateDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func validateDefinition(def *ESBDefinition) error {
	var errs error
	seen := map[string]struct{}{}
	for _, system := range def.Systems {
		if strings.TrimSpace(system.Name) == "" {
			errs = multierr.Append(errs, errors.New("esb: system with empty name"))
			continue
		}
		for _, comp := range system.Components {
			if strings.TrimSpace(comp.Name) == "" {
				errs = multierr.Append(errs,
					fmt.Errorf("esb: system %s: component with empty name", system.Name))
				continue
			}
			key := system.Name + "/" + comp.Name
			if _, dup := seen[key]; dup {
				errs = multierr.Append(errs,
					fmt.Errorf("esb: duplicate component %s", key))
			}
			seen[key] = struct{}{}
		}
	}
	return errs
}

// Sync reconciles the registry against the definition: new components are
// created, drifted ones updated, and stored components missing from the
// definition are deactivated in place. With dryRun set, changes are counted
// and logged but nothing is written.
func (s *ESBService) Sync(ctx context.Context, def *ESBDefinition, dryRun bool) (*ESBSyncResult, error) {
	ctx = ensureContext(ctx)
	started := time.Now()
	result := &ESBSyncResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var errs error
		for _, system := range def.Systems {
			if err := s.syncSystem(tx, system, dryRun); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if err := s.syncComponents(tx, system, dryRun, result); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if err := s.deactivateMissing(tx, def, dryRun, result); err != nil {
			errs = multierr.Append(errs, err)
		}
		// Any failure rolls the whole run back; partial syncs would leave
		// the registry and definition out of step.
		return errs
	})
	if err != nil {
		if !dryRun {
			monitoring.RecordRegistrySync("failure", err.Error(), 0, 0, 0, time.Since(started))
		}
		return result, fmt.Errorf("esb service: sync: %w", err)
	}

	if !dryRun {
		metrics.ESBSyncComponents.WithLabelValues("created").Add(float64(result.Created))
		metrics.ESBSyncComponents.WithLabelValues("updated").Add(float64(result.Updated))
		metrics.ESBSyncComponents.WithLabelValues("deactivated").Add(float64(result.Deactivated))
		monitoring.RecordRegistrySync("success", "",
			int64(result.Created), int64(result.Updated), int64(result.Deactivated), time.Since(started))
	}
	s.log.Info("esb sync finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("deactivated", result.Deactivated),
		zap.Int("unchanged", result.Unchanged))
	return result, nil
}

func (s *ESBService) syncSystem(tx *gorm.DB, def ESBSystemDefinition, dryRun bool) error {
	if dryRun {
		return nil
	}
	system := models.ComponentSystem{
		Name:        def.Name,
		Description: def.Description,
		Maintainers: strings.Join(def.Maintainers, ";"),
	}
	var existing models.ComponentSystem
	err := tx.Take(&existing, "name = ?", def.Name).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&system).Error
	case err != nil:
		return fmt.Errorf("esb: load system %s: %w", def.Name, err)
	}
	existing.Description = def.Description
	existing.Maintainers = system.Maintainers
	return tx.Save(&existing).Error
}

func (s *ESBService) syncComponents(tx *gorm.DB, system ESBSystemDefinition, dryRun bool, result *ESBSyncResult) error {
	for _, def := range system.Components {
		desired, err := componentFromDefinition(system.Name, def)
		if err != nil {
			return err
		}

		var existing models.ESBComponent
		err = tx.Take(&existing, "system_name = ? AND name = ?", system.Name, def.Name).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result.Created++
			if dryRun {
				continue
			}
			if err := tx.Create(desired).Error; err != nil {
				return fmt.Errorf("esb: create component %s/%s: %w", system.Name, def.Name, err)
			}
		case err != nil:
			return fmt.Errorf("esb: load component %s/%s: %w", system.Name, def.Name, err)
		default:
			if componentEqual(&existing, desired) && existing.IsActive {
				result.Unchanged++
				continue
			}
			result.Updated++
			if dryRun {
				continue
			}
			existing.Description = desired.Description
			existing.Method = desired.Method
			existing.Path = desired.Path
			existing.Config = desired.Config
			existing.IsPublic = desired.IsPublic
			existing.IsActive = true
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("esb: update component %s/%s: %w", system.Name, def.Name, err)
			}
		}
	}
	return nil
}

func (s *ESBService) deactivateMissing(tx *gorm.DB, def *ESBDefinition, dryRun bool, result *ESBSyncResult) error {
	defined := map[string]struct{}{}
	for _, system := range def.Systems {
		for _, comp := range system.Components {
			defined[system.Name+"/"+comp.Name] = struct{}{}
		}
	}

	var stored []models.ESBComponent
	if err := tx.Where("is_active = ?", true).Find(&stored).Error; err != nil {
		return fmt.Errorf("esb: list active components: %w", err)
	}
	for _, comp := range stored {
		if _, ok := defined[comp.SystemName+"/"+comp.Name]; ok {
			continue
		}
		result.Deactivated++
		if dryRun {
			continue
		}
		if err := tx.Model(&models.ESBComponent{}).
			Where("id = ?", comp.ID).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("esb: deactivate component %s/%s: %w", comp.SystemName, comp.Name, err)
		}
	}
	return nil
}

func componentFromDefinition(systemName string, def ESBComponentDefinition) (*models.ESBComponent, error) {
	method := strings.ToUpper(strings.TrimSpace(def.Method))
	if method == "" {
		method = "GET"
	}
	config := datatypes.JSON("{}")
	if def.Config != nil {
		raw, err := json.Marshal(def.Config)
		if err != nil {
			return nil, fmt.Errorf("esb: component %s/%s: encode config: %w", systemName, def.Name, err)
		}
		config = datatypes.JSON(raw)
	}
	isPublic := true
	if def.IsPublic != nil {
		isPublic = *def.IsPublic
	}
	return &models.ESBComponent{
		SystemName:  systemName,
		Name:        def.Name,
		Description: def.Description,
		Method:      method,
		Path:        def.Path,
		Config:      config,
		IsActive:    true,
		IsPublic:    isPublic,
	}, nil
}

func componentEqual(a, b *models.ESBComponent) bool {
	return a.Description == b.Description &&
		a.Method == b.Method &&
		a.Path == b.Path &&
		a.IsPublic == b.IsPublic &&
		string(a.Config) == string(b.Config)
}

// ListComponents returns components of one system, optionally including
// deactivated rows.
func (s *ESBService) ListComponents(ctx context.Context, systemName string, includeInactive bool) ([]models.ESBComponent, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Where("system_name = ?", systemName)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	var components []models.ESBComponent
	if err := query.Order("name ASC").Find(&components).Error; err != nil {
		return nil, fmt.Errorf("esb service: list components: %w", err)
	}
	return components, nil
}

// ListSystems returns every registered component system.
func (s *ESBService) ListSystems(ctx context.Context) ([]models.ComponentSystem, error) {
	ctx = ensureContext(ctx)

	var systems []models.ComponentSystem
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&systems).Error; err != nil {
		return nil, fmt.Errorf("esb service: list systems: %w", err)
	}
	return systems, nil
}

// GetComponent looks one component up by system and name.
func (s *ESBService) GetComponent(ctx context.Context, systemName, name string) (*models.ESBComponent, error) {
	ctx = ensureContext(ctx)

	var component models.ESBComponent
	err := s.db.WithContext(ctx).
		Take(&component, "system_name = ? AND name = ?", systemName, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("esb service: load component: %w", err)
	}
	return &component, nil
}
