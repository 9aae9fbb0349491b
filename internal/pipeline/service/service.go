// Package service exposes the pipeline operations to transports. Business
// failures are converted into *apperr.Error here and nowhere else.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/scoring"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/statistics"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/transition"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/transport"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/apperr"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

const (
	msgDealNotFound  = "deal not found"
	msgLeadNotFound  = "lead not found"
	msgUnavailable   = "pipeline store temporarily unavailable"
	msgAlreadyActive = "a maintenance pass is already running"
	msgQueueDisabled = "background maintenance queue is not configured"
)

// MaintenanceQueue enqueues maintenance passes for a background worker.
type MaintenanceQueue interface {
	EnqueueMaintenance(ctx context.Context, opts maintenance.Options) (string, error)
}

// Deps wires the service. Queue is optional.
type Deps struct {
	Store       repository.Store
	Catalog     *domain.Catalog
	Transitions *transition.Engine
	Scoring     *scoring.Engine
	Maintenance *maintenance.Orchestrator
	Statistics  *statistics.Service
	Queue       MaintenanceQueue
	Log         *logger.Logger
}

// Service is the pipeline facade.
type Service struct {
	deps Deps
}

// New creates the pipeline service.
func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Service{deps: d}
}

// ExecuteTransition moves a deal. A no-op transition succeeds. Any other
// unsuccessful result is returned alongside an *apperr.Error describing it.
func (s *Service) ExecuteTransition(ctx context.Context, req transition.Request) (transition.Result, error) {
	res, err := s.deps.Transitions.Execute(ctx, req)
	if err != nil {
		return res, storeError("ExecuteTransition", err, msgDealNotFound)
	}
	if res.Success || res.NoOp {
		return res, nil
	}
	return res, failureError(res)
}

func failureError(res transition.Result) *apperr.Error {
	msg := strings.Join(res.Errors, "; ")
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(res.Failure), "_", " "))
	}
	details := map[string]any{
		"errors":   res.Errors,
		"warnings": res.Warnings,
	}
	if res.Validation != nil {
		details["score"] = res.Validation.Score
	}
	if res.Wip != nil {
		details["count"] = res.Wip.CurrentCount
		details["limit"] = res.Wip.Limit
		details["utilization"] = res.Wip.Utilization
		details["hardEnforced"] = res.Wip.HardEnforced
	}
	return res.Failure.AppError(msg).WithOp("ExecuteTransition").WithDetails(details)
}

// GetDeal returns a deal and its transition history.
func (s *Service) GetDeal(ctx context.Context, id uuid.UUID) (transport.DealResponse, error) {
	deal, err := s.deps.Store.GetDeal(ctx, id)
	if err != nil {
		return transport.DealResponse{}, storeError("GetDeal", err, msgDealNotFound)
	}
	history, err := s.deps.Store.ListTransitions(ctx, id)
	if err != nil {
		return transport.DealResponse{}, storeError("GetDeal", err, msgDealNotFound)
	}
	if history == nil {
		history = []domain.TransitionRecord{}
	}
	return transport.DealResponse{Deal: deal, Transitions: history}, nil
}

// ScoreLead scores a lead. With apply it also runs the recommended action.
func (s *Service) ScoreLead(ctx context.Context, leadID uuid.UUID, apply bool) (scoring.Outcome, error) {
	out, err := s.deps.Scoring.Process(ctx, leadID, apply)
	if err != nil {
		return out, storeError("ScoreLead", err, msgLeadNotFound)
	}
	return out, nil
}

// RunMaintenancePass runs a pass synchronously.
func (s *Service) RunMaintenancePass(ctx context.Context, opts maintenance.Options) (maintenance.JobSummary, error) {
	summary, err := s.deps.Maintenance.Run(ctx, opts)
	if errors.Is(err, maintenance.ErrAlreadyRunning) {
		return summary, apperr.Conflict(msgAlreadyActive).WithOp("RunMaintenancePass")
	}
	if err != nil {
		return summary, storeError("RunMaintenancePass", err, "")
	}
	return summary, nil
}

// EnqueueMaintenancePass hands a pass to the background worker.
func (s *Service) EnqueueMaintenancePass(ctx context.Context, opts maintenance.Options) (transport.EnqueuedResponse, error) {
	if s.deps.Queue == nil {
		return transport.EnqueuedResponse{}, apperr.Unavailable(msgQueueDisabled, nil).WithOp("EnqueueMaintenancePass")
	}
	id, err := s.deps.Queue.EnqueueMaintenance(ctx, opts)
	if err != nil {
		s.deps.Log.Error("failed to enqueue maintenance pass", "error", err)
		return transport.EnqueuedResponse{}, apperr.Unavailable(msgQueueDisabled, err).WithOp("EnqueueMaintenancePass")
	}
	return transport.EnqueuedResponse{TaskID: id, EnqueuedAt: time.Now().UTC()}, nil
}

// GetPipelineStatistics aggregates the open pipeline per stage.
func (s *Service) GetPipelineStatistics(ctx context.Context, ownerID *uuid.UUID) ([]statistics.StageStatistics, error) {
	out, err := s.deps.Statistics.GetPipelineStatistics(ctx, ownerID)
	if err != nil {
		return nil, storeError("GetPipelineStatistics", err, "")
	}
	return out, nil
}

// GetConversionStatistics summarises recent lead evaluations.
func (s *Service) GetConversionStatistics(ctx context.Context) ([]statistics.RecommendationStatistics, error) {
	out, err := s.deps.Statistics.GetConversionStatistics(ctx)
	if err != nil {
		return nil, storeError("GetConversionStatistics", err, "")
	}
	return out, nil
}

// WipUsage returns live WIP counters.
func (s *Service) WipUsage(ctx context.Context, ownerID *uuid.UUID) ([]domain.WipCounter, error) {
	out, err := s.deps.Statistics.WipUsage(ctx, ownerID)
	if err != nil {
		return nil, storeError("WipUsage", err, "")
	}
	return out, nil
}

// Stages lists the catalog in order.
func (s *Service) Stages() []transport.StageResponse {
	defs := s.deps.Catalog.Stages()
	out := make([]transport.StageResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, transport.StageResponse{
			Stage:          d.Stage,
			Order:          d.Order,
			WipLimit:       d.WipLimit,
			HardWipLimit:   d.HardWipLimit,
			WarningDays:    d.WarningDays,
			CriticalDays:   d.CriticalDays,
			RequiredFields: d.RequiredFields,
			Terminal:       d.Terminal,
		})
	}
	return out
}

// storeError maps store and engine errors onto apperr kinds.
func storeError(op string, err error, notFound string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, domain.ErrNotFound) && notFound != "":
		return apperr.NotFound(notFound).WithOp(op)
	case domain.IsStoreUnavailable(err):
		return apperr.Unavailable(msgUnavailable, err).WithOp(op).WithCode(string(domain.FailureStoreUnavailable))
	default:
		return apperr.Wrap(apperr.KindInternal, "internal error", err).WithOp(op)
	}
}
