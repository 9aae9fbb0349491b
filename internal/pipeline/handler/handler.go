package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/service"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/transition"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/transport"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/httpkit"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/validator"
)

// Handler handles HTTP requests for the deal pipeline.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidDealID    = "invalid deal id"
	msgInvalidLeadID    = "invalid lead id"
)

// New creates a new pipeline handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// ExecuteTransition moves a deal to another stage.
// POST /api/v1/pipeline/deals/:id/transition
func (h *Handler) ExecuteTransition(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDealID, nil)
		return
	}
	var req transport.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Messages(err))
		return
	}
	actor := httpkit.MustActor(c)
	if actor == nil {
		return
	}

	result, err := h.svc.ExecuteTransition(c.Request.Context(), transition.Request{
		DealID:         id,
		ToStage:        domain.Stage(req.ToStage),
		ActorID:        actor.UserID,
		Reason:         req.Reason,
		Override:       req.Override,
		OverrideReason: req.OverrideReason,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetDeal returns a deal with its transition history.
// GET /api/v1/pipeline/deals/:id
func (h *Handler) GetDeal(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDealID, nil)
		return
	}
	result, err := h.svc.GetDeal(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ScoreLead scores a lead and optionally acts on the recommendation.
// POST /api/v1/pipeline/leads/:id/score
func (h *Handler) ScoreLead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}
	var q transport.ScoreLeadQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	result, err := h.svc.ScoreLead(c.Request.Context(), id, q.Apply)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RunMaintenance runs a maintenance pass, or queues one with ?async=true.
// POST /api/v1/admin/pipeline/maintenance
func (h *Handler) RunMaintenance(c *gin.Context) {
	var q transport.MaintenanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	var req transport.MaintenanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Messages(err))
		return
	}
	opts := maintenance.Options{DryRun: req.DryRun, SkipSteps: req.SkipSteps}

	if q.Async {
		queued, err := h.svc.EnqueueMaintenancePass(c.Request.Context(), opts)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, queued)
		return
	}

	summary, err := h.svc.RunMaintenancePass(c.Request.Context(), opts)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, summary)
}

// GetStatistics returns per-stage pipeline statistics.
// GET /api/v1/pipeline/statistics
func (h *Handler) GetStatistics(c *gin.Context) {
	owner, ok := h.bindOwner(c)
	if !ok {
		return
	}
	result, err := h.svc.GetPipelineStatistics(c.Request.Context(), owner)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"stages": result})
}

// GetConversionStatistics returns recent lead scoring figures.
// GET /api/v1/pipeline/statistics/conversions
func (h *Handler) GetConversionStatistics(c *gin.Context) {
	result, err := h.svc.GetConversionStatistics(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"recommendations": result})
}

// ListStages returns the stage catalog.
// GET /api/v1/pipeline/stages
func (h *Handler) ListStages(c *gin.Context) {
	httpkit.OK(c, gin.H{"stages": h.svc.Stages()})
}

// GetWip returns live WIP counters.
// GET /api/v1/pipeline/wip
func (h *Handler) GetWip(c *gin.Context) {
	owner, ok := h.bindOwner(c)
	if !ok {
		return
	}
	result, err := h.svc.WipUsage(c.Request.Context(), owner)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"counters": result})
}

func (h *Handler) bindOwner(c *gin.Context) (*uuid.UUID, bool) {
	var q transport.OwnerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return nil, false
	}
	if err := h.val.Struct(q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Messages(err))
		return nil, false
	}
	return q.ParseOwner(), true
}
