package email

import (
	"strings"
	"testing"
)

func TestRenderStaleAlertTemplate(t *testing.T) {
	html, err := render("stale_alert.html", page{
		Heading: "Stale deal alert",
		Action:  withLink("Review deal", "https://crm.example.com/pipeline/deals/1"),
		Body: StaleAlertData{
			DealName: "Acme <Holdings>",
			Stage:    "screening",
			Severity: "critical",
			Message:  "Deal has been in screening stage for 31 days (critical threshold: 30 days)",
		},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "critical threshold: 30 days") {
		t.Fatal("expected alert message in body")
	}
	if !strings.Contains(html, "Acme &lt;Holdings&gt;") {
		t.Fatal("expected deal name to be escaped")
	}
	if !strings.Contains(html, "Review deal") {
		t.Fatal("expected call to action")
	}
}

func TestRenderAllTemplates(t *testing.T) {
	cases := []struct {
		name string
		body any
	}{
		{"stage_entry.html", StageEntryData{DealName: "Acme", ToStage: "closing"}},
		{"rule_notification.html", RuleNotificationData{RuleName: "High Value Deal Alert"}},
		{"lead_converted.html", LeadConvertedData{Company: "Acme", Score: "95.50"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			html, err := render(tc.name, page{Heading: "x", Body: tc.body})
			if err != nil {
				t.Fatalf("render %s: %v", tc.name, err)
			}
			if strings.Contains(html, "<a href") {
				t.Fatal("expected no call to action without a link")
			}
		})
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := render("missing.html", page{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestNewSenderDisabled(t *testing.T) {
	if _, ok := NewSender(disabledConfig{}).(NoopSender); !ok {
		t.Fatal("expected NoopSender when email is disabled")
	}
}

type disabledConfig struct{}

func (disabledConfig) GetEmailEnabled() bool       { return false }
func (disabledConfig) GetSMTPHost() string         { return "" }
func (disabledConfig) GetSMTPPort() int            { return 587 }
func (disabledConfig) GetSMTPUsername() string     { return "" }
func (disabledConfig) GetSMTPPassword() string     { return "" }
func (disabledConfig) GetEmailFromName() string    { return "" }
func (disabledConfig) GetEmailFromAddress() string { return "" }
func (disabledConfig) GetAppBaseURL() string       { return "" }
