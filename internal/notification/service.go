// Package notification creates follow-up tasks and delivers pipeline
// notifications. It implements domain.Sink on top of the tasks table, the
// email sender and the event bus.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/email"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// Sink is the task and notification contract consumed by the pipeline.
type Sink = domain.Sink

// ErrNoRecipient is returned when a notification has no resolvable address.
var ErrNoRecipient = errors.New("notification recipient has no email address")

// Service implements Sink.
type Service struct {
	tasks   repository.TaskWriter
	dir     repository.Directory
	sender  email.Sender
	bus     events.Bus
	clock   clock.Clock
	log     *logger.Logger
	baseURL string
}

// NewService creates a notification service. A nil sender disables email.
func NewService(tasks repository.TaskWriter, dir repository.Directory, sender email.Sender, log *logger.Logger) *Service {
	if sender == nil {
		sender = email.NoopSender{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		tasks:  tasks,
		dir:    dir,
		sender: sender,
		clock:  clock.System{},
		log:    log,
	}
}

// SetBus injects the event bus used to announce notifications.
func (s *Service) SetBus(bus events.Bus) { s.bus = bus }

// SetClock overrides the time source for event timestamps.
func (s *Service) SetClock(c clock.Clock) { s.clock = c }

// SetBaseURL sets the frontend base URL used for deal links in emails.
func (s *Service) SetBaseURL(url string) { s.baseURL = strings.TrimRight(url, "/") }

// CreateTask stores a follow-up task and returns its id.
func (s *Service) CreateTask(ctx context.Context, spec domain.TaskSpec) (uuid.UUID, error) {
	if spec.AssignedTo == uuid.Nil {
		return uuid.Nil, fmt.Errorf("create task %q: no assignee", spec.Name)
	}
	if spec.Priority == "" {
		spec.Priority = domain.PriorityMedium
	}
	id := uuid.New()
	if err := s.tasks.InsertTask(ctx, id, spec); err != nil {
		return uuid.Nil, fmt.Errorf("create task %q: %w", spec.Name, err)
	}
	s.log.Debug("task created", "task_id", id.String(), "name", spec.Name, "assigned_to", spec.AssignedTo.String())
	return id, nil
}

// Notify resolves the recipient address, announces the notification on the
// bus and delivers it by email.
func (s *Service) Notify(ctx context.Context, to domain.Recipient, template string, data map[string]any) error {
	address := strings.TrimSpace(to.Email)
	if address == "" && to.UserID != uuid.Nil && s.dir != nil {
		resolved, err := s.dir.UserEmail(ctx, to.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("resolve email for %s: %w", to.UserID, err)
		}
		address = strings.TrimSpace(resolved)
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.NotificationRequested{
			BaseEvent: events.At(s.clock.Now()),
			UserID:    to.UserID,
			Email:     address,
			Template:  template,
			Data:      data,
		})
	}

	if address == "" {
		return fmt.Errorf("notify %s (%s): %w", to.UserID, template, ErrNoRecipient)
	}
	if err := s.deliver(ctx, address, template, data); err != nil {
		return fmt.Errorf("notify %s (%s): %w", to.UserID, template, err)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, address, template string, data map[string]any) error {
	dealURL := s.dealURL(data)
	switch template {
	case domain.TemplateStageEntry:
		return s.sender.SendStageEntryEmail(ctx, address, email.StageEntryData{
			DealName:  field(data, "dealName"),
			FromStage: field(data, "fromStage"),
			ToStage:   field(data, "toStage"),
			Actor:     field(data, "actor"),
			DealURL:   dealURL,
		})
	case domain.TemplateStaleAlert:
		return s.sender.SendStaleAlertEmail(ctx, address, email.StaleAlertData{
			DealName: field(data, "dealName"),
			Stage:    field(data, "stage"),
			Severity: field(data, "severity"),
			Message:  field(data, "message"),
			DueDate:  field(data, "dueDate"),
			DealURL:  dealURL,
		})
	case domain.TemplateRuleTrigger:
		return s.sender.SendRuleNotificationEmail(ctx, address, email.RuleNotificationData{
			RuleName: field(data, "ruleName"),
			DealName: field(data, "dealName"),
			Stage:    field(data, "stage"),
			DealURL:  dealURL,
		})
	case domain.TemplateLeadConverted:
		return s.sender.SendLeadConvertedEmail(ctx, address, email.LeadConvertedData{
			Company:  field(data, "company"),
			DealName: field(data, "dealName"),
			Score:    field(data, "score"),
			DealURL:  dealURL,
		})
	default:
		return fmt.Errorf("unknown notification template %q", template)
	}
}

func (s *Service) dealURL(data map[string]any) string {
	id := field(data, "dealId")
	if s.baseURL == "" || id == "" {
		return ""
	}
	return s.baseURL + "/pipeline/deals/" + id
}

func field(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.2f", t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

var _ Sink = (*Service)(nil)
