package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// StageEntryData fills the stage entry email.
type StageEntryData struct {
	DealName  string
	FromStage string
	ToStage   string
	Actor     string
	DealURL   string
}

// StaleAlertData fills the stale deal alert email.
type StaleAlertData struct {
	DealName string
	Stage    string
	Severity string
	Message  string
	DueDate  string
	DealURL  string
}

type RuleNotificationData struct {
	RuleName string
	DealName string
	Stage    string
	DealURL  string
}

type LeadConvertedData struct {
	Company  string
	DealName string
	Score    string
	DealURL  string
}

// action is the call-to-action button under the body.
type action struct {
	Label string
	URL   string
}

// page is what every template executes against: the shared layout reads
// Heading and Action, the content block reads Body.
type page struct {
	Heading string
	Action  *action
	Body    any
}

// pages holds one parsed template set per content file, each layered on
// base.html.
var pages = func() map[string]*template.Template {
	base := template.Must(template.New("base.html").ParseFS(templateFS, "templates/base.html"))
	out := make(map[string]*template.Template)
	for _, name := range []string{"stage_entry.html", "stale_alert.html", "rule_notification.html", "lead_converted.html"} {
		out[name] = template.Must(template.Must(base.Clone()).ParseFS(templateFS, "templates/"+name))
	}
	return out
}()

func render(name string, p page) (string, error) {
	tmpl, ok := pages[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", p); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

// withLink returns a call to action only when there is somewhere to go.
func withLink(label, url string) *action {
	if url == "" {
		return nil
	}
	return &action{Label: label, URL: url}
}
