package models

import (
	"strings"
	"time"
)

// LeadSource records which part of the funnel captured a lead.
type LeadSource string

const (
	SourceLandingPage   LeadSource = "landing_page"
	SourceExitIntent    LeadSource = "exit_intent"
	SourceTrainingVideo LeadSource = "training_video"
	SourceExternal      LeadSource = "external"
	SourceManual        LeadSource = "manual"
)

// DefaultLeadSource is assigned when a submission names no source.
const DefaultLeadSource = SourceExitIntent

// LeadSources lists every accepted source.
var LeadSources = []LeadSource{
	SourceLandingPage, SourceExitIntent, SourceTrainingVideo, SourceExternal, SourceManual,
}

// Valid reports whether s is one of LeadSources.
func (s LeadSource) Valid() bool {
	for _, v := range LeadSources {
		if s == v {
			return true
		}
	}
	return false
}

// Lead is a captured email subscription.
type Lead struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	FirstName      string            `json:"firstName,omitempty"`
	Source         LeadSource        `json:"source"`
	CaptureDate    time.Time         `json:"captureDate"`
	IPAddress      string            `json:"ipAddress,omitempty"`
	UserAgent      string            `json:"userAgent,omitempty"`
	Referrer       string            `json:"referrer,omitempty"`
	Converted      bool              `json:"converted"`
	ConversionDate *time.Time        `json:"conversionDate,omitempty"`
	Tags           []string          `json:"tags"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NormalizeEmail trims and lower-cases an address. Emails are unique on
// their normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeTags trims, lower-cases and de-duplicates tags, dropping empties.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
