package model

import "time"

// RiskLevel classifies the machine-translation risk of a segment. It is
// computed by the quality-estimation backend and read-only on the client.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Segment is the atomic translatable unit of content: an immutable source
// text plus the collaboratively edited target value. Annotation fields
// (suggestions, quality, risk, flags) are derived by the backend and never
// written locally.
type Segment struct {
	ID              string    `json:"id"`
	SourceText      string    `json:"source_text"`
	TargetLocale    string    `json:"target_locale"`
	CurrentValue    string    `json:"post_edit,omitempty"`
	ReviewerNotes   string    `json:"reviewer_notes,omitempty"`
	TMSuggestion    string    `json:"tm_suggestion,omitempty"`
	TMScore         *float64  `json:"tm_score,omitempty"`
	NMTSuggestion   string    `json:"nmt_suggestion,omitempty"`
	RiskLevel       RiskLevel `json:"risk_level,omitempty"`
	QualityEstimate *float64  `json:"quality_estimate,omitempty"`
	QAFlags         []string  `json:"qa_flags,omitempty"`
	TermHits        []string  `json:"term_hits,omitempty"`
	LastUpdated     time.Time `json:"last_updated,omitempty"`
}

// Comment is a collaborator remark attached to a segment.
type Comment struct {
	ID        string    `json:"id"`
	SegmentID string    `json:"segment_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityEntry records a collaboration event (comment, join, leave) for the
// project activity feed.
type ActivityEntry struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	SegmentID string    `json:"segment_id,omitempty"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Project is the shared resource collaborators join. Only the attributes the
// collaboration layer needs are modeled; the rest of the project record lives
// behind the REST API.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SourceLocale string `json:"source_locale"`
	TargetLocale string `json:"target_locale"`
	Status       string `json:"status,omitempty"`
}

// User is the authenticated identity attached to a realtime session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}
