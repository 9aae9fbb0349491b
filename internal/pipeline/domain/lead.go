package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	LeadNew          LeadStatus = "new"
	LeadQualifying   LeadStatus = "qualifying"
	LeadConverted    LeadStatus = "converted"
	LeadDisqualified LeadStatus = "disqualified"
	LeadDead         LeadStatus = "dead"
)

// Closed reports whether the lead is out of the scoring population.
func (s LeadStatus) Closed() bool {
	return s == LeadConverted || s == LeadDisqualified || s == LeadDead
}

// Recommendation is the action suggested by a lead score.
type Recommendation string

const (
	RecommendAutoConversion        Recommendation = "auto_conversion"
	RecommendReviewConversion      Recommendation = "review_conversion"
	RecommendQualificationRequired Recommendation = "qualification_required"
	RecommendDisqualification      Recommendation = "disqualification"
)

// Lead is a prospective acquisition target awaiting qualification.
type Lead struct {
	ID                  uuid.UUID      `json:"id"`
	CompanyName         string         `json:"companyName"`
	Industry            string         `json:"industry"`
	Region              string         `json:"region"`
	AnnualRevenue       *float64       `json:"annualRevenue,omitempty"`
	EmployeeCount       *int           `json:"employeeCount,omitempty"`
	Ebitda              *float64       `json:"ebitda,omitempty"`
	GrowthRate          *float64       `json:"growthRate,omitempty"`
	Interactions        int            `json:"interactions"`
	ResponseQuality     string         `json:"responseQuality"`
	Urgency             string         `json:"urgency"`
	Budget              string         `json:"budget"`
	EstimatedDealValue  *float64       `json:"estimatedDealValue,omitempty"`
	PrimaryContactName  string         `json:"primaryContactName"`
	PrimaryContactEmail string         `json:"primaryContactEmail"`
	PrimaryContactPhone string         `json:"primaryContactPhone"`
	InterestLevel       string         `json:"interestLevel"`
	LeadSource          string         `json:"leadSource"`
	DecisionMaker       bool           `json:"decisionMakerIdentified"`
	OwnerID             uuid.UUID      `json:"ownerId"`
	Status              LeadStatus     `json:"status"`
	LeadScore           *float64       `json:"leadScore,omitempty"`
	Recommendation      Recommendation `json:"recommendation,omitempty"`
	LastEvaluationDate  *time.Time     `json:"lastEvaluationDate,omitempty"`
	ConvertedDealID     *uuid.UUID     `json:"convertedDealId,omitempty"`
	ConvertedAccountID  *uuid.UUID     `json:"convertedAccountId,omitempty"`
	ConvertedContactID  *uuid.UUID     `json:"convertedContactId,omitempty"`
	ConvertedAt         *time.Time     `json:"convertedAt,omitempty"`
	ConversionScore     *float64       `json:"conversionScore,omitempty"`
	Version             int64          `json:"version"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of the lead.
func (l Lead) Clone() Lead {
	out := l
	out.AnnualRevenue = cloneFloat(l.AnnualRevenue)
	out.Ebitda = cloneFloat(l.Ebitda)
	out.GrowthRate = cloneFloat(l.GrowthRate)
	out.EstimatedDealValue = cloneFloat(l.EstimatedDealValue)
	out.LeadScore = cloneFloat(l.LeadScore)
	out.ConversionScore = cloneFloat(l.ConversionScore)
	out.EmployeeCount = cloneInt(l.EmployeeCount)
	out.LastEvaluationDate = cloneTime(l.LastEvaluationDate)
	out.ConvertedAt = cloneTime(l.ConvertedAt)
	out.ConvertedDealID = cloneUUID(l.ConvertedDealID)
	out.ConvertedAccountID = cloneUUID(l.ConvertedAccountID)
	out.ConvertedContactID = cloneUUID(l.ConvertedContactID)
	return out
}

// HasField reports whether a named lead field is populated.
func (l Lead) HasField(name string) bool {
	switch name {
	case "company_name":
		return strings.TrimSpace(l.CompanyName) != ""
	case "industry":
		return strings.TrimSpace(l.Industry) != ""
	case "region":
		return strings.TrimSpace(l.Region) != ""
	case "annual_revenue":
		return l.AnnualRevenue != nil
	case "employee_count":
		return l.EmployeeCount != nil
	case "ebitda":
		return l.Ebitda != nil
	case "primary_contact_name":
		return strings.TrimSpace(l.PrimaryContactName) != ""
	case "primary_contact_email":
		return strings.TrimSpace(l.PrimaryContactEmail) != ""
	case "primary_contact_phone":
		return strings.TrimSpace(l.PrimaryContactPhone) != ""
	default:
		return false
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

func cloneUUID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	id := *v
	return &id
}
