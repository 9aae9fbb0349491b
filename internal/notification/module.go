package notification

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	apphttp "github.com/ph0rque/MakeDealCRM-sub005/internal/http"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/notification/sse"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/httpkit"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// Module forwards pipeline events to connected users and exposes the stream.
type Module struct {
	service *Service
	sse     *sse.Service
	log     *logger.Logger
}

// NewModule wraps the notification service with the SSE fan-out.
func NewModule(service *Service, stream *sse.Service, log *logger.Logger) *Module {
	if log == nil {
		log = logger.Nop()
	}
	return &Module{service: service, sse: stream, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// Service returns the Sink implementation.
func (m *Module) Service() *Service { return m.service }

// Close ends every open event stream.
func (m *Module) Close() {
	if m.sse != nil {
		m.sse.Close()
	}
}

// RegisterRoutes mounts the event stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.sse == nil {
		return
	}
	ctx.Protected.GET("/pipeline/stream", m.sse.Handler(func(c *gin.Context) (uuid.UUID, bool) {
		a, ok := httpkit.ActorFrom(c)
		if !ok {
			return uuid.Nil, false
		}
		return a.UserID, true
	}))
}

// RegisterHandlers subscribes the module to pipeline events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	events.SubscribeAll(bus, m,
		events.DealStageChanged{},
		events.AlertRaised{},
		events.LeadConverted{},
		events.NotificationRequested{},
	)
	if m.service != nil {
		m.service.SetBus(bus)
	}
}

// Handle implements events.Handler.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	if m.sse == nil {
		return nil
	}
	switch e := event.(type) {
	case events.DealStageChanged:
		m.sse.Publish(e.OwnerID, sse.Event{
			Type:    sse.EventDealStageChanged,
			DealID:  e.DealID,
			Message: e.DealName + " moved to " + e.ToStage,
			Data:    e,
		})
	case events.AlertRaised:
		m.sse.Publish(e.AssignedTo, sse.Event{
			Type:    sse.EventAlertRaised,
			DealID:  e.DealID,
			Message: e.Message,
			Data:    e,
		})
	case events.LeadConverted:
		m.sse.Publish(e.OwnerID, sse.Event{
			Type:    sse.EventLeadConverted,
			DealID:  e.DealID,
			Message: e.Company + " converted",
			Data:    e,
		})
	case events.NotificationRequested:
		m.sse.Publish(e.UserID, sse.Event{
			Type: sse.EventNotification,
			Data: map[string]any{"template": e.Template, "data": e.Data},
		})
	default:
		m.log.Debug("notification module ignored event", "event", event.EventName())
	}
	return nil
}

var _ apphttp.Module = (*Module)(nil)
