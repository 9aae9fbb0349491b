package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/email"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/notification/sse"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/memstore"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

type sentEmail struct {
	to       string
	template string
	data     any
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (s *recordingSender) record(to, template string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentEmail{to: to, template: template, data: data})
	return nil
}

func (s *recordingSender) SendStageEntryEmail(_ context.Context, to string, data email.StageEntryData) error {
	return s.record(to, domain.TemplateStageEntry, data)
}

func (s *recordingSender) SendStaleAlertEmail(_ context.Context, to string, data email.StaleAlertData) error {
	return s.record(to, domain.TemplateStaleAlert, data)
}

func (s *recordingSender) SendRuleNotificationEmail(_ context.Context, to string, data email.RuleNotificationData) error {
	return s.record(to, domain.TemplateRuleTrigger, data)
}

func (s *recordingSender) SendLeadConvertedEmail(_ context.Context, to string, data email.LeadConvertedData) error {
	return s.record(to, domain.TemplateLeadConverted, data)
}

func TestCreateTaskStoresSpec(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, store, nil, logger.Nop())
	owner := uuid.New()

	id, err := svc.CreateTask(context.Background(), domain.TaskSpec{
		ParentType: domain.ParentDeal,
		ParentID:   uuid.New(),
		AssignedTo: owner,
		Name:       "Initial Research",
		DueAt:      time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	tasks := store.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].ID != id {
		t.Fatalf("expected stored id %s, got %s", id, tasks[0].ID)
	}
	if tasks[0].Priority != domain.PriorityMedium {
		t.Fatalf("expected default priority Medium, got %s", tasks[0].Priority)
	}
}

func TestCreateTaskRequiresAssignee(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, store, nil, logger.Nop())

	if _, err := svc.CreateTask(context.Background(), domain.TaskSpec{Name: "orphan"}); err == nil {
		t.Fatal("expected error for task without assignee")
	}
	if len(store.Tasks()) != 0 {
		t.Fatal("expected no task to be stored")
	}
}

func TestCreateTaskSurfacesStoreError(t *testing.T) {
	store := memstore.New()
	store.FailOn("InsertTask", domain.ErrStoreUnavailable, 1)
	svc := NewService(store, store, nil, logger.Nop())

	_, err := svc.CreateTask(context.Background(), domain.TaskSpec{AssignedTo: uuid.New(), Name: "x"})
	if !domain.IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestNotifyResolvesEmailFromDirectory(t *testing.T) {
	store := memstore.New()
	owner := uuid.New()
	store.AddUser(owner, "owner@example.com", nil)
	sender := &recordingSender{}
	svc := NewService(store, store, sender, logger.Nop())
	svc.SetBaseURL("https://crm.example.com/")

	dealID := uuid.New()
	err := svc.Notify(context.Background(), domain.Recipient{UserID: owner}, domain.TemplateStageEntry, map[string]any{
		"dealId":    dealID.String(),
		"dealName":  "Acme",
		"fromStage": "term_sheet",
		"toStage":   "due_diligence",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if got.to != "owner@example.com" {
		t.Fatalf("expected owner address, got %q", got.to)
	}
	data := got.data.(email.StageEntryData)
	if data.ToStage != "due_diligence" || data.DealName != "Acme" {
		t.Fatalf("unexpected template data %+v", data)
	}
	if data.DealURL != "https://crm.example.com/pipeline/deals/"+dealID.String() {
		t.Fatalf("unexpected deal url %q", data.DealURL)
	}
}

func TestNotifyWithoutAddressFails(t *testing.T) {
	store := memstore.New()
	sender := &recordingSender{}
	svc := NewService(store, store, sender, logger.Nop())

	err := svc.Notify(context.Background(), domain.Recipient{UserID: uuid.New()}, domain.TemplateStaleAlert, nil)
	if !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("expected no email to be sent")
	}
}

func TestNotifyUnknownTemplate(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, store, &recordingSender{}, logger.Nop())

	err := svc.Notify(context.Background(), domain.Recipient{Email: "a@example.com"}, "mystery", nil)
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestNotifyFormatsScore(t *testing.T) {
	store := memstore.New()
	sender := &recordingSender{}
	svc := NewService(store, store, sender, logger.Nop())

	err := svc.Notify(context.Background(), domain.Recipient{Email: "a@example.com"}, domain.TemplateLeadConverted, map[string]any{
		"company": "Acme",
		"score":   95.5,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	data := sender.sent[0].data.(email.LeadConvertedData)
	if data.Score != "95.50" {
		t.Fatalf("expected formatted score 95.50, got %q", data.Score)
	}
}

func TestNotifyPublishesAndStreams(t *testing.T) {
	store := memstore.New()
	owner := uuid.New()
	store.AddUser(owner, "owner@example.com", nil)
	svc := NewService(store, store, &recordingSender{}, logger.Nop())

	bus := events.NewInMemoryBus(logger.Nop())
	stream := sse.New(logger.Nop())
	module := NewModule(svc, stream, logger.Nop())
	module.RegisterHandlers(bus)

	ch, cancel := stream.Subscribe(owner)
	defer cancel()

	err := svc.Notify(context.Background(), domain.Recipient{UserID: owner}, domain.TemplateRuleTrigger, map[string]any{
		"ruleName": "High Value Deal Alert",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	bus.Wait()

	select {
	case ev := <-ch:
		if ev.Type != sse.EventNotification {
			t.Fatalf("expected notification event, got %s", ev.Type)
		}
	default:
		t.Fatal("expected a streamed event")
	}
}

func TestModuleStreamsStageChangesToOwner(t *testing.T) {
	stream := sse.New(logger.Nop())
	module := NewModule(nil, stream, logger.Nop())
	owner := uuid.New()
	other := uuid.New()

	ownerCh, cancelOwner := stream.Subscribe(owner)
	defer cancelOwner()
	otherCh, cancelOther := stream.Subscribe(other)
	defer cancelOther()

	dealID := uuid.New()
	err := module.Handle(context.Background(), events.DealStageChanged{
		BaseEvent: events.At(time.Now()),
		DealID:    dealID,
		DealName:  "Acme",
		OwnerID:   owner,
		ToStage:   "screening",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	select {
	case ev := <-ownerCh:
		if ev.DealID != dealID || ev.Type != sse.EventDealStageChanged {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected owner to receive the event")
	}
	select {
	case ev := <-otherCh:
		t.Fatalf("unexpected event for other user: %+v", ev)
	default:
	}
}
