package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stakeholder roles recognised by the validator.
const (
	RoleDecisionMaker     = "decision_maker"
	RoleFinancialApprover = "financial_approver"
)

// Stakeholder links a contact to a deal with a role.
type Stakeholder struct {
	ContactID uuid.UUID `json:"contactId"`
	Role      string    `json:"role"`
}

// Deal is a business opportunity moving through the pipeline.
type Deal struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Stage             Stage             `json:"stage"`
	StageEnteredAt    time.Time         `json:"stageEnteredAt"`
	DaysInStage       int               `json:"daysInStage"`
	OwnerID           uuid.UUID         `json:"ownerId"`
	DealValue         float64           `json:"dealValue"`
	HealthScore       int               `json:"healthScore"`
	IsStale           bool              `json:"isStale"`
	StaleReason       string            `json:"staleReason,omitempty"`
	WipOverride       bool              `json:"wipOverride"`
	WipOverrideReason string            `json:"wipOverrideReason,omitempty"`
	Probability       int               `json:"probability"`
	AccountID         *uuid.UUID        `json:"accountId,omitempty"`
	LeadID            *uuid.UUID        `json:"leadId,omitempty"`
	Stakeholders      []Stakeholder     `json:"stakeholders"`
	Attributes        map[string]string `json:"attributes"`
	ClosedAt          *time.Time        `json:"closedAt,omitempty"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (d Deal) Clone() Deal {
	out := d
	out.Stakeholders = append([]Stakeholder(nil), d.Stakeholders...)
	if d.Attributes != nil {
		out.Attributes = make(map[string]string, len(d.Attributes))
		for k, v := range d.Attributes {
			out.Attributes[k] = v
		}
	}
	if d.AccountID != nil {
		id := *d.AccountID
		out.AccountID = &id
	}
	if d.LeadID != nil {
		id := *d.LeadID
		out.LeadID = &id
	}
	if d.ClosedAt != nil {
		t := *d.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// Field resolves a named business field: typed columns first, then attributes.
// Missing fields resolve to "".
func (d Deal) Field(name string) string {
	switch name {
	case "name":
		return d.Name
	case "deal_value", "amount":
		if d.DealValue == 0 {
			return ""
		}
		return strconv.FormatFloat(d.DealValue, 'f', -1, 64)
	case "stage":
		return string(d.Stage)
	case "owner_id", "assigned_user_id":
		if d.OwnerID == uuid.Nil {
			return ""
		}
		return d.OwnerID.String()
	case "probability":
		return strconv.Itoa(d.Probability)
	}
	return strings.TrimSpace(d.Attributes[name])
}

// Number parses a field as a float. ok is false when the field is empty or
// not numeric.
func (d Deal) Number(name string) (float64, bool) {
	if name == "deal_value" || name == "amount" {
		return d.DealValue, d.DealValue != 0
	}
	return ParseNumber(d.Field(name))
}

// HasStakeholderRole reports whether any stakeholder has one of roles.
func (d Deal) HasStakeholderRole(roles ...string) bool {
	for _, s := range d.Stakeholders {
		for _, r := range roles {
			if strings.EqualFold(s.Role, r) {
				return true
			}
		}
	}
	return false
}

// ParseNumber parses a money-like string, tolerating "$", "," and whitespace.
func ParseNumber(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\t':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DaysBetween returns the whole days elapsed from start to now, floored at 0.
func DaysBetween(start, now time.Time) int {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int(now.Sub(start).Hours() / 24)
}
