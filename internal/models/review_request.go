package models

import (
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Status is the workflow state of a review request.
// The backend may send null, which is treated as pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResponded Status = "responded"
	StatusEscalated Status = "escalated"
	StatusDismissed Status = "dismissed"
)

// Urgency classifies a provider response or scheduled follow-up.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEscalated Urgency = "escalated"
)

// Input limits enforced before any network call.
const (
	MaxResponseLength     = 5000
	MaxFlagReasonLength   = 500
	MaxProviderNameLength = 255
)

var validStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusResponded: {},
	StatusEscalated: {},
	StatusDismissed: {},
}

var validUrgencies = map[Urgency]struct{}{
	UrgencyRoutine:   {},
	UrgencyUrgent:    {},
	UrgencyEscalated: {},
}

// allowedTransitions holds the provider workflow: pending can move to any
// terminal state, escalate is reachable from everywhere, and any terminal
// state can be reopened back to pending. Every transition must be
// acknowledged by the backend before it is applied locally.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusResponded: {},
		StatusDismissed: {},
		StatusEscalated: {},
	},
	StatusResponded: {
		StatusEscalated: {},
		StatusPending:   {},
	},
	StatusDismissed: {
		StatusEscalated: {},
		StatusPending:   {},
	},
	StatusEscalated: {
		StatusEscalated: {},
		StatusPending:   {},
	},
}

func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

func (u Urgency) Valid() bool {
	_, ok := validUrgencies[u]
	return ok
}

// CanTransition reports whether the workflow allows moving from one status
// to another.
func CanTransition(from, to Status) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// ConversationMessage is a single entry of the parent/assistant transcript.
// The wire keys are camelCase inside the conversation_messages JSONB column.
type ConversationMessage struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	IsFromUser bool       `json:"isFromUser"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// ReviewRequest is one patient conversation awaiting provider triage.
// Identity is the backend row ID; ConversationID is the routing key shared
// with the detail and annotation caches.
type ReviewRequest struct {
	ID             string  `json:"id,omitempty"`
	ConversationID string  `json:"conversation_id"`
	UserID         *string `json:"user_id,omitempty"`

	// Descriptive fields, read-only on the client
	ConversationTitle   *string               `json:"conversation_title,omitempty"`
	ChildName           *string               `json:"child_name,omitempty"`
	ChildAge            *string               `json:"child_age,omitempty"`
	ChildDOB            *string               `json:"child_dob,omitempty"`
	TriageOutcome       *string               `json:"triage_outcome,omitempty"`
	ConversationSummary *string               `json:"conversation_summary,omitempty"`
	Messages            []ConversationMessage `json:"conversation_messages,omitempty"`

	// Workflow state
	Status           *Status    `json:"status,omitempty"`
	ProviderResponse *string    `json:"provider_response,omitempty"`
	ProviderName     *string    `json:"provider_name,omitempty"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`

	// Flag sub-state, independent of Status. FlaggedAt and FlaggedBy are
	// retained after an unflag (audit trail); only FlagReason is cleared.
	IsFlagged   bool       `json:"is_flagged"`
	FlagReason  *string    `json:"flag_reason,omitempty"`
	FlaggedAt   *time.Time `json:"flagged_at,omitempty"`
	FlaggedBy   *string    `json:"flagged_by,omitempty"`
	UnflaggedAt *time.Time `json:"unflagged_at,omitempty"`

	ScheduleFollowup bool `json:"schedule_followup"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// NormalizedStatus maps the nullable wire status to a concrete value.
func (r *ReviewRequest) NormalizedStatus() Status {
	if r.Status == nil || *r.Status == "" {
		return StatusPending
	}
	return *r.Status
}

// ApplyStatus records a backend-acknowledged status change.
func (r *ReviewRequest) ApplyStatus(next Status, at time.Time) {
	s := next
	r.Status = &s
	if next == StatusResponded {
		t := at
		r.RespondedAt = &t
	}
	t := at
	r.UpdatedAt = &t
}

// ApplyFlag records a backend-acknowledged flag. Status is untouched.
func (r *ReviewRequest) ApplyFlag(reason, actor string, at time.Time) {
	r.IsFlagged = true
	r.FlagReason = &reason
	flaggedAt := at
	r.FlaggedAt = &flaggedAt
	if actor != "" {
		a := actor
		r.FlaggedBy = &a
	}
	t := at
	r.UpdatedAt = &t
}

// ApplyUnflag clears the flag marker and reason. FlaggedAt and FlaggedBy
// stay in place so the audit trail survives the unflag.
func (r *ReviewRequest) ApplyUnflag(at time.Time) {
	r.IsFlagged = false
	r.FlagReason = nil
	unflaggedAt := at
	r.UnflaggedAt = &unflaggedAt
	t := at
	r.UpdatedAt = &t
}

// ConversationKey returns the canonical cache key for a conversation id.
func ConversationKey(conversationID string) string {
	return strings.ToLower(strings.TrimSpace(conversationID))
}

// SameConversation reports whether two conversation ids refer to the same
// conversation. Both sides are parsed as UUIDs when possible; when either
// fails to parse the comparison falls back to case-insensitive string
// equality. A parse failure never produces a fresh id: routing to a
// different patient's record would be a safety defect.
func SameConversation(a, b string) bool {
	ua, errA := uuid.Parse(strings.TrimSpace(a))
	ub, errB := uuid.Parse(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return ua == ub
	}
	return ConversationKey(a) == ConversationKey(b)
}

// EqualLists compares two review lists by value. Used to suppress redundant
// publishes when a refresh returns byte-identical data.
func EqualLists(a, b []ReviewRequest) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// ValidateResponseText checks provider response and follow-up message text.
// Limits are in characters, not bytes: clinical text carries multibyte runes
// like degree signs.
func ValidateResponseText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyResponse
	}
	if utf8.RuneCountInString(text) > MaxResponseLength {
		return ErrResponseTooLong
	}
	return nil
}

// ValidateFlagReason checks a flag reason. Empty is allowed.
func ValidateFlagReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxFlagReasonLength {
		return ErrFlagReasonTooLong
	}
	return nil
}

// ValidateProviderName checks a provider display name. Empty is allowed.
func ValidateProviderName(name string) error {
	if utf8.RuneCountInString(name) > MaxProviderNameLength {
		return ErrProviderNameTooLong
	}
	return nil
}
