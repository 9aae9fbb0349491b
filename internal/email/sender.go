package email

import "context"

// Sender delivers pipeline notification emails.
type Sender interface {
	SendStageEntryEmail(ctx context.Context, toEmail string, data StageEntryData) error
	SendStaleAlertEmail(ctx context.Context, toEmail string, data StaleAlertData) error
	SendRuleNotificationEmail(ctx context.Context, toEmail string, data RuleNotificationData) error
	SendLeadConvertedEmail(ctx context.Context, toEmail string, data LeadConvertedData) error
}

// NoopSender drops every email. It is used when SMTP is disabled.
type NoopSender struct{}

func (NoopSender) SendStageEntryEmail(context.Context, string, StageEntryData) error { return nil }

func (NoopSender) SendStaleAlertEmail(context.Context, string, StaleAlertData) error { return nil }

func (NoopSender) SendRuleNotificationEmail(context.Context, string, RuleNotificationData) error {
	return nil
}

func (NoopSender) SendLeadConvertedEmail(context.Context, string, LeadConvertedData) error { return nil }

var _ Sender = NoopSender{}
