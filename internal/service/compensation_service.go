package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/payroll-engine/internal/dto"
	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/internal/repository"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
)

type compensationStore interface {
	LockEmployee(ctx context.Context, employeeID string) error
	GetVersionState(ctx context.Context, employeeID string) (*repository.VersionState, error)
	CloseOpen(ctx context.Context, employeeID string, effectiveTo time.Time) (int64, error)
	Create(ctx context.Context, structure *models.CompensationStructure) error
	FindCovering(ctx context.Context, employeeID string, date time.Time) ([]models.CompensationStructure, error)
	ListByEmployee(ctx context.Context, employeeID string) ([]models.CompensationStructure, error)
	ListComponents(ctx context.Context, structureID string) ([]models.CompensationComponent, error)
}

type structureCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

const structureCachePrefix = "payroll:structure:"

// CompensationServiceConfig tunes defaults applied to new versions.
type CompensationServiceConfig struct {
	DefaultOTMultiplier decimal.Decimal
	CacheTTL            time.Duration
}

// CompensationService manages versioned compensation structures. Versions
// are never edited; every change inserts a successor and closes the
// predecessor.
type CompensationService struct {
	tx        txRunner
	store     compensationStore
	audit     *AuditService
	cache     structureCache
	cfg       CompensationServiceConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCompensationService constructs the service. cache may be nil.
func NewCompensationService(tx txRunner, store compensationStore, audit *AuditService, cache structureCache, cfg CompensationServiceConfig, validate *validator.Validate, logger *zap.Logger) *CompensationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultOTMultiplier.IsZero() {
		cfg.DefaultOTMultiplier = decimal.NewFromInt(1)
	}
	return &CompensationService{
		tx:        ensureTx(tx),
		store:     store,
		audit:     audit,
		cache:     cache,
		cfg:       cfg,
		validator: ensureValidator(validate),
		logger:    logger,
		now:       time.Now,
	}
}

// CreateVersion inserts a new structure version effective from req.EffectiveFrom
// and closes the currently open version on the previous day.
func (s *CompensationService) CreateVersion(ctx context.Context, req dto.CreateStructureVersionRequest, actorID string) (*models.CompensationStructure, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	structure, err := s.buildStructure(req, actorID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.LockEmployee(ctx, structure.EmployeeID); err != nil {
			return appErrors.Internal(err, "failed to lock compensation history")
		}
		state, err := s.store.GetVersionState(ctx, structure.EmployeeID)
		if err != nil {
			return appErrors.Internal(err, "failed to load compensation history")
		}
		if state.LatestFrom != nil && !structure.EffectiveFrom.After(models.DateOnly(*state.LatestFrom)) {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("effective from must be after %s", state.LatestFrom.Format("2006-01-02")))
		}
		if state.OpenVersions > 1 {
			return appErrors.Clone(appErrors.ErrAmbiguous, "employee has more than one open compensation version")
		}
		if state.OpenVersions == 1 {
			if _, err := s.store.CloseOpen(ctx, structure.EmployeeID, structure.EffectiveFrom.AddDate(0, 0, -1)); err != nil {
				return appErrors.Internal(err, "failed to close previous compensation version")
			}
		}
		structure.Version = state.MaxVersion + 1
		if err := s.store.Create(ctx, structure); err != nil {
			return appErrors.Internal(err, "failed to create compensation version")
		}
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityCompensationStructure,
			EntityID:   structure.ID,
			Action:     models.AuditActionCreate,
			After:      structure,
			ActorID:    actorID,
			Context:    map[string]interface{}{"employeeId": structure.EmployeeID, "previousVersion": state.MaxVersion},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, structureCachePrefix+structure.EmployeeID+":*"); err != nil {
			s.logger.Warn("structure cache invalidation failed", zap.String("employee_id", structure.EmployeeID), zap.Error(err))
		}
	}
	s.logger.Info("compensation version created",
		zap.String("employee_id", structure.EmployeeID),
		zap.Int("version", structure.Version),
		zap.Time("effective_from", structure.EffectiveFrom))
	return structure, nil
}

// GetEffectiveStructure returns the version in force on date.
func (s *CompensationService) GetEffectiveStructure(ctx context.Context, employeeID string, date time.Time) (*models.CompensationStructure, error) {
	date = models.DateOnly(date)
	key := fmt.Sprintf("%s%s:%s", structureCachePrefix, employeeID, date.Format("2006-01-02"))
	if s.cache != nil {
		var cached models.CompensationStructure
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}

	matches, err := s.store.FindCovering(ctx, employeeID, date)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to resolve compensation structure")
	}
	switch len(matches) {
	case 0:
		return nil, appErrors.Clone(appErrors.ErrNotFound,
			fmt.Sprintf("no compensation structure effective on %s", date.Format("2006-01-02")))
	case 1:
	default:
		s.logger.Error("overlapping compensation versions",
			zap.String("employee_id", employeeID), zap.Time("date", date), zap.Int("matches", len(matches)))
		return nil, appErrors.Clone(appErrors.ErrAmbiguous, "more than one compensation version covers the date")
	}

	structure := matches[0]
	components, err := s.store.ListComponents(ctx, structure.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load compensation components")
	}
	structure.Components = components

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, structure, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("compensation cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return &structure, nil
}

// ListVersions returns the full version history of an employee.
func (s *CompensationService) ListVersions(ctx context.Context, employeeID string) ([]models.CompensationStructure, error) {
	versions, err := s.store.ListByEmployee(ctx, employeeID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list compensation versions")
	}
	for i := range versions {
		components, err := s.store.ListComponents(ctx, versions[i].ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load compensation components")
		}
		versions[i].Components = components
	}
	return versions, nil
}

func (s *CompensationService) buildStructure(req dto.CreateStructureVersionRequest, actorID string) (*models.CompensationStructure, error) {
	structure := &models.CompensationStructure{
		EmployeeID:         req.EmployeeID,
		EffectiveFrom:      models.DateOnly(req.EffectiveFrom),
		PayType:            models.PayType(req.PayType),
		Basic:              req.Basic,
		Gross:              req.Gross,
		CTC:                req.CTC,
		DailyRate:          req.DailyRate,
		HourlyRate:         req.HourlyRate,
		OvertimeMultiplier: req.OvertimeMultiplier,
		PFEnabled:          req.PFEnabled,
		ESICEnabled:        req.ESICEnabled,
		PTEnabled:          req.PTEnabled,
		MLWFEnabled:        req.MLWFEnabled,
		TDSEnabled:         req.TDSEnabled,
		PFCeilingPolicy:    models.PFCeilingPolicy(req.PFCeilingPolicy),
		CreatedBy:          actorID,
		CreatedAt:          s.now().UTC(),
	}
	if structure.PFCeilingPolicy == "" {
		structure.PFCeilingPolicy = models.PFCeilingCapped
	}
	if structure.OvertimeMultiplier.IsZero() {
		structure.OvertimeMultiplier = s.cfg.DefaultOTMultiplier
	}

	for name, v := range map[string]decimal.Decimal{
		"basic": structure.Basic, "gross": structure.Gross, "ctc": structure.CTC,
		"daily rate": structure.DailyRate, "hourly rate": structure.HourlyRate, "overtime multiplier": structure.OvertimeMultiplier,
	} {
		if v.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, name+" must not be negative")
		}
	}
	switch structure.PayType {
	case models.PayTypeMonthly:
		if !structure.Basic.IsPositive() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "monthly structures require a positive basic")
		}
	case models.PayTypeDaily:
		if !structure.DailyRate.IsPositive() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "daily structures require a positive daily rate")
		}
	case models.PayTypeHourly:
		if !structure.HourlyRate.IsPositive() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "hourly structures require a positive hourly rate")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown pay type")
	}

	seen := make(map[string]struct{}, len(req.Components))
	for i, in := range req.Components {
		code := strings.ToUpper(strings.TrimSpace(in.Code))
		if _, dup := seen[code]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate component code %s", code))
		}
		seen[code] = struct{}{}
		if in.Value.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("component %s value must not be negative", code))
		}
		if in.MaxAmount.Valid && in.MaxAmount.Decimal.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("component %s cap must not be negative", code))
		}
		component := models.CompensationComponent{
			Code:        code,
			Name:        in.Name,
			Kind:        models.ComponentKind(in.Kind),
			Calculation: models.CalculationType(in.Calculation),
			Value:       in.Value,
			MaxAmount:   in.MaxAmount,
			SortOrder:   i + 1,
		}
		if component.Calculation == models.CalculationPercentage {
			basis := models.CalculationBasis(in.Basis)
			if !basis.Valid() {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("component %s requires a basis", code))
			}
			component.Basis = &basis
		}
		structure.Components = append(structure.Components, component)
	}
	return structure, nil
}
