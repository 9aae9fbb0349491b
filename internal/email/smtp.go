package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
)

const smtpTimeout = 15 * time.Second

// letter is one rendered-on-demand message.
type letter struct {
	to       string
	subject  string
	template string
	page     page
}

// SMTPSender delivers mail through a single SMTP relay with go-mail.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
}

func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     fromEmail,
		fromName: fromName,
	}
}

// NewSender returns an SMTP sender when email is enabled, otherwise a NoopSender.
func NewSender(cfg config.EmailConfig) Sender {
	if !cfg.GetEmailEnabled() || cfg.GetSMTPHost() == "" {
		return NoopSender{}
	}
	return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(), cfg.GetEmailFromName())
}

func (s *SMTPSender) SendStageEntryEmail(ctx context.Context, toEmail string, data StageEntryData) error {
	return s.deliver(ctx, letter{
		to:       toEmail,
		subject:  fmt.Sprintf("Deal %s entered %s", data.DealName, data.ToStage),
		template: "stage_entry.html",
		page:     page{Heading: "Deal stage changed", Action: withLink("Open deal", data.DealURL), Body: data},
	})
}

func (s *SMTPSender) SendStaleAlertEmail(ctx context.Context, toEmail string, data StaleAlertData) error {
	return s.deliver(ctx, letter{
		to:       toEmail,
		subject:  fmt.Sprintf("[%s] Stale deal: %s", data.Severity, data.DealName),
		template: "stale_alert.html",
		page:     page{Heading: "Stale deal alert", Action: withLink("Review deal", data.DealURL), Body: data},
	})
}

func (s *SMTPSender) SendRuleNotificationEmail(ctx context.Context, toEmail string, data RuleNotificationData) error {
	return s.deliver(ctx, letter{
		to:       toEmail,
		subject:  "Automation: " + data.RuleName,
		template: "rule_notification.html",
		page:     page{Heading: "Automation rule fired", Action: withLink("Open deal", data.DealURL), Body: data},
	})
}

func (s *SMTPSender) SendLeadConvertedEmail(ctx context.Context, toEmail string, data LeadConvertedData) error {
	return s.deliver(ctx, letter{
		to:       toEmail,
		subject:  "Lead converted: " + data.Company,
		template: "lead_converted.html",
		page:     page{Heading: "Lead converted", Action: withLink("Open deal", data.DealURL), Body: data},
	})
}

func (s *SMTPSender) deliver(ctx context.Context, l letter) error {
	html, err := render(l.template, l.page)
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.from); err != nil {
		return fmt.Errorf("smtp from %q: %w", s.from, err)
	}
	if err := msg.To(l.to); err != nil {
		return fmt.Errorf("smtp to %q: %w", l.to, err)
	}
	msg.Subject(l.subject)
	msg.SetBodyString(gomail.TypeTextHTML, html)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(smtpTimeout),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client %s:%d: %w", s.host, s.port, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send %q: %w", l.subject, err)
	}
	return nil
}

var _ Sender = (*SMTPSender)(nil)
