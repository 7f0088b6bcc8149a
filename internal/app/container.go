package app

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/payroll-engine/internal/repository"
	"github.com/noah-isme/payroll-engine/internal/service"
	"github.com/noah-isme/payroll-engine/pkg/cache"
	"github.com/noah-isme/payroll-engine/pkg/config"
	"github.com/noah-isme/payroll-engine/pkg/database"
	"github.com/noah-isme/payroll-engine/pkg/export"
	"github.com/noah-isme/payroll-engine/pkg/jobs"
	"github.com/noah-isme/payroll-engine/pkg/logger"
	"github.com/noah-isme/payroll-engine/pkg/storage"
)

const slipQueueName = "salary-slips"

// Container holds the wired payroll services.
type Container struct {
	Metrics      *service.MetricsService
	Audit        *service.AuditService
	Compensation *service.CompensationService
	Attendance   *service.AttendanceService
	Loans        *service.LoanService
	Runs         *service.PayrollRunService
	Overrides    *service.OverrideService
	Slips        *service.SlipService
	Filings      *service.StatutoryFilingService

	SlipQueue *jobs.Queue
}

// New wires repositories and services on top of the given connections.
// redisClient may be nil, in which case caching is disabled and run locks
// are process local.
func New(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, log *zap.Logger) (*Container, error) {
	if log == nil {
		log = zap.NewNop()
	}

	rules, err := service.NewStatutoryRules(cfg.Statutory)
	if err != nil {
		return nil, fmt.Errorf("statutory rules: %w", err)
	}

	slipObjects, err := newObjectStore(ctx, cfg.Slips.StorageDriver, cfg.Slips.StorageDir, cfg.Slips.S3Bucket, cfg.Slips.S3Prefix)
	if err != nil {
		return nil, fmt.Errorf("slip storage: %w", err)
	}
	filingObjects, err := newObjectStore(ctx, cfg.Slips.StorageDriver, cfg.Filings.StorageDir, cfg.Slips.S3Bucket, cfg.Slips.S3Prefix)
	if err != nil {
		return nil, fmt.Errorf("filing storage: %w", err)
	}

	tx := database.NewTransactor(db)
	validate := validator.New()
	metrics := service.NewMetricsService()

	employeeRepo := repository.NewEmployeeRepository(db)
	compensationRepo := repository.NewCompensationRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	loanRepo := repository.NewLoanRepository(db)
	runRepo := repository.NewPayrollRunRepository(db)
	payrollRepo := repository.NewEmployeePayrollRepository(db)
	overrideRepo := repository.NewOverrideRepository(db)
	statutoryRepo := repository.NewStatutoryRepository(db)
	slipRepo := repository.NewSalarySlipRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	structureCache := service.NewCacheService(repository.NewCacheRepository(redisClient, logger.Named(log, "cache")),
		metrics, cfg.Cache.CacheTTL, logger.Named(log, "cache"), cfg.Cache.Enabled && redisClient != nil)

	audit := service.NewAuditService(auditRepo, logger.Named(log, "audit"))
	compensation := service.NewCompensationService(tx, compensationRepo, audit, structureCache, service.CompensationServiceConfig{
		DefaultOTMultiplier: decimal.NewFromFloat(cfg.Payroll.DefaultOTMultiplier),
		CacheTTL:            cfg.Cache.CacheTTL,
	}, validate, logger.Named(log, "compensation"))
	attendance := service.NewAttendanceService(tx, attendanceRepo, runRepo, audit, validate, logger.Named(log, "attendance"))
	loans := service.NewLoanService(tx, loanRepo, audit, validate, logger.Named(log, "loans"))

	worker := service.NewSlipWorker(service.SlipWorkerDeps{
		Slips:     slipRepo,
		Payrolls:  payrollRepo,
		Runs:      runRepo,
		Employees: employeeRepo,
		Renderer:  export.NewPDFExporter(),
		Objects:   slipObjects,
		Metrics:   metrics,
		Company:   cfg.Slips.CompanyName,
		Logger:    logger.Named(log, "slip-worker"),
	})
	queue := jobs.NewQueue(slipQueueName, worker.Handle, jobs.QueueConfig{
		Workers:     cfg.Slips.WorkerConcurrency,
		MaxRetries:  cfg.Slips.WorkerRetries,
		Logger:      logger.Named(log, "jobs"),
		OnExhausted: worker.OnExhausted,
	})
	signer := storage.NewSignedURLSigner(cfg.Slips.SignedURLSecret, cfg.Slips.SignedURLTTL)
	slips := service.NewSlipService(slipRepo, queue, slipObjects, signer, logger.Named(log, "slips"))

	runs := service.NewPayrollRunService(service.PayrollRunDeps{
		Tx:         tx,
		Runs:       runRepo,
		Payrolls:   payrollRepo,
		Employees:  employeeRepo,
		Structures: compensation,
		Attendance: attendance,
		Loans:      loans,
		Statutory:  statutoryRepo,
		Slips:      slipRepo,
		Dispatcher: slips,
		Locker:     cache.NewLocker(redisClient, "payroll:run:", cfg.Payroll.RunLockTTL),
		Audit:      audit,
		Metrics:    metrics,
		Rules:      rules,
		Validator:  validate,
		Logger:     logger.Named(log, "runs"),
	}, service.PayrollRunConfig{
		StandardHoursPerDay: decimal.NewFromFloat(cfg.Payroll.StandardHoursPerDay),
		ComputeConcurrency:  cfg.Payroll.ComputeConcurrency,
		Currency:            cfg.Payroll.BankAdviceCurrencyCode,
	})

	overrides := service.NewOverrideService(tx, overrideRepo, payrollRepo, runRepo, audit, metrics, validate, logger.Named(log, "overrides"))
	filings := service.NewStatutoryFilingService(service.StatutoryFilingDeps{
		Tx:        tx,
		Store:     statutoryRepo,
		Runs:      runRepo,
		Payrolls:  payrollRepo,
		Employees: employeeRepo,
		Renderer:  export.NewXLSXExporter(),
		Objects:   filingObjects,
		Audit:     audit,
		Validator: validate,
		Logger:    logger.Named(log, "filings"),
	})

	return &Container{
		Metrics:      metrics,
		Audit:        audit,
		Compensation: compensation,
		Attendance:   attendance,
		Loans:        loans,
		Runs:         runs,
		Overrides:    overrides,
		Slips:        slips,
		Filings:      filings,
		SlipQueue:    queue,
	}, nil
}

// Start launches the slip workers and replays slips left pending by a
// previous process.
func (c *Container) Start(ctx context.Context) {
	c.SlipQueue.Start(ctx)
	c.Slips.RecoverPending(ctx)
}

// Stop drains the slip workers.
func (c *Container) Stop() {
	c.SlipQueue.Stop()
}

func newObjectStore(ctx context.Context, driver, dir, bucket, prefix string) (storage.ObjectStore, error) {
	switch driver {
	case config.StorageDriverS3:
		store, err := storage.NewS3Storage(ctx, bucket, prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageDriverLocal, "":
		store, err := storage.NewLocalStorage(dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
