// Package pipeline provides the deal-pipeline bounded context module.
// This file wires the engines together and registers the HTTP routes.
package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	apphttp "github.com/ph0rque/MakeDealCRM-sub005/internal/http"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/automation"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/handler"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/scoring"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/service"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/settings"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/statistics"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/transition"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/transport"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/lock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/validator"
)

// Deps are the collaborators the pipeline module is built from. Config,
// Validator, Locker, Archive and Queue are optional.
type Deps struct {
	Store         repository.Store
	Settings      *settings.Settings
	Sink          domain.Sink
	Bus           events.Bus
	Clock         clock.Clock
	Locker        lock.Locker
	Archive       maintenance.Archive
	ArchiveBucket string
	Queue         service.MaintenanceQueue
	Config        config.PipelineConfig
	Validator     *validator.Validator
	Log           *logger.Logger
}

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	handler     *handler.Handler
	service     *service.Service
	maintenance *maintenance.Orchestrator
}

// NewModule creates the engines and wires them together.
func NewModule(d Deps) (*Module, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("pipeline module: store is required")
	}
	if d.Settings == nil {
		d.Settings = settings.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Validator == nil {
		d.Validator = validator.New()
	}
	catalog := d.Settings.Catalog
	tun := tuningFrom(d.Config)

	if err := registerValidators(d.Validator, catalog); err != nil {
		return nil, err
	}

	transitions := transition.NewEngine(transition.Deps{
		Store:             d.Store,
		Catalog:           catalog,
		Sink:              d.Sink,
		Bus:               d.Bus,
		Clock:             d.Clock,
		Log:               d.Log,
		StoreTimeout:      tun.storeTimeout,
		SideEffectTimeout: tun.sideEffectTimeout,
	})
	rules := automation.NewEvaluator(automation.Deps{
		Store:             d.Store,
		Engine:            transitions,
		Catalog:           catalog,
		Sink:              d.Sink,
		Clock:             d.Clock,
		Log:               d.Log,
		StoreTimeout:      tun.storeTimeout,
		SideEffectTimeout: tun.sideEffectTimeout,
		Workers:           tun.workers,
	})
	transitions.SetRuleHook(rules)

	scorer := scoring.NewEngine(scoring.Deps{
		Store:             d.Store,
		Catalog:           catalog,
		Sink:              d.Sink,
		Bus:               d.Bus,
		Clock:             d.Clock,
		Log:               d.Log,
		Tables:            d.Settings.Scoring,
		PhoneRegion:       tun.phoneRegion,
		StoreTimeout:      tun.storeTimeout,
		SideEffectTimeout: tun.sideEffectTimeout,
	})

	orchestrator := maintenance.New(maintenance.Deps{
		Store:         d.Store,
		Catalog:       catalog,
		Scoring:       scorer,
		Rules:         rules,
		Sink:          d.Sink,
		Bus:           d.Bus,
		Clock:         d.Clock,
		Log:           d.Log,
		Locker:        d.Locker,
		LockTTL:       tun.lockTTL,
		Archive:       d.Archive,
		ArchiveBucket: d.ArchiveBucket,
		StoreTimeout:  tun.storeTimeout,
		Defaults: maintenance.Options{
			LeadBatchSize:      tun.leadBatch,
			EvaluationCooldown: tun.cooldown,
			Workers:            tun.workers,
			NotificationBatch:  tun.notificationBatch,
		},
	})

	svc := service.New(service.Deps{
		Store:       d.Store,
		Catalog:     catalog,
		Transitions: transitions,
		Scoring:     scorer,
		Maintenance: orchestrator,
		Statistics:  statistics.New(d.Store, catalog, d.Clock),
		Queue:       d.Queue,
		Log:         d.Log,
	})

	return &Module{
		handler:     handler.New(svc, d.Validator),
		service:     svc,
		maintenance: orchestrator,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// Service returns the service layer for other entry points.
func (m *Module) Service() *service.Service {
	return m.service
}

// Maintenance returns the orchestrator for the background worker.
func (m *Module) Maintenance() *maintenance.Orchestrator {
	return m.maintenance
}

// RegisterRoutes mounts pipeline routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/pipeline")
	group.GET("/stages", m.handler.ListStages)
	group.GET("/deals/:id", m.handler.GetDeal)
	group.POST("/deals/:id/transition", m.handler.ExecuteTransition)
	group.POST("/leads/:id/score", m.handler.ScoreLead)
	group.GET("/statistics", m.handler.GetStatistics)
	group.GET("/statistics/conversions", m.handler.GetConversionStatistics)
	group.GET("/wip", m.handler.GetWip)

	admin := ctx.Admin.Group("/pipeline")
	if ctx.AdminRateLimiter != nil {
		admin.Use(ctx.AdminRateLimiter.RateLimit())
	}
	admin.POST("/maintenance", m.handler.RunMaintenance)
}

func registerValidators(val *validator.Validator, catalog *domain.Catalog) error {
	if err := val.RegisterOneOf(transport.TagPipelineStage, catalog.IsKnownName); err != nil {
		return fmt.Errorf("register %s: %w", transport.TagPipelineStage, err)
	}
	if err := val.RegisterOneOf(transport.TagMaintenanceStep, func(s string) bool {
		return slices.Contains(maintenance.StepNames, s)
	}); err != nil {
		return fmt.Errorf("register %s: %w", transport.TagMaintenanceStep, err)
	}
	return nil
}

type tuning struct {
	storeTimeout      time.Duration
	sideEffectTimeout time.Duration
	workers           int
	leadBatch         int
	cooldown          time.Duration
	notificationBatch int
	lockTTL           time.Duration
	phoneRegion       string
}

func tuningFrom(cfg config.PipelineConfig) tuning {
	if cfg == nil {
		return tuning{
			storeTimeout:      10 * time.Second,
			sideEffectTimeout: 5 * time.Second,
			workers:           8,
			phoneRegion:       "US",
		}
	}
	return tuning{
		storeTimeout:      cfg.GetStoreTimeout(),
		sideEffectTimeout: cfg.GetSideEffectTimeout(),
		workers:           cfg.GetMaintenanceWorkers(),
		leadBatch:         cfg.GetLeadBatchSize(),
		cooldown:          cfg.GetEvaluationCooldown(),
		notificationBatch: cfg.GetNotificationBatchSize(),
		lockTTL:           cfg.GetMaintenanceLockTTL(),
		phoneRegion:       cfg.GetPhoneDefaultRegion(),
	}
}

var _ apphttp.Module = (*Module)(nil)
