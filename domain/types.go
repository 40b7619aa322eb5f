package domain

import (
	"sort"
	"time"
)

// Role identifies who authored a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolStatus is the lifecycle state of a tool invocation.
// The wire value for an in-flight invocation is "calling".
type ToolStatus string

const (
	ToolInvoking  ToolStatus = "calling"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ToolStatus) Terminal() bool {
	return s == ToolCompleted || s == ToolFailed
}

// CanAdvanceTo reports whether moving from s to next respects the
// invoking -> {completed, failed} ordering. Repeating the same status is allowed.
func (s ToolStatus) CanAdvanceTo(next ToolStatus) bool {
	if s == next || s == "" {
		return true
	}
	return s == ToolInvoking && next.Terminal()
}

// ToolInvocation records an assistant-initiated action attached to an entry.
type ToolInvocation struct {
	Name   string     `json:"name"`
	Status ToolStatus `json:"status"`
	Result string     `json:"result,omitempty"`
}

// ConversationEntry is one turn in the chat log.
type ConversationEntry struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Timestamp Timestamp       `json:"timestamp"`
	Pending   bool            `json:"loading,omitempty"`
	ToolCall  *ToolInvocation `json:"toolCall,omitempty"`
}

// OutgoingMessage is a ConversationEntry minus the server-assigned id and timestamp.
type OutgoingMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StepKind is the outreach channel of a step.
type StepKind string

const (
	StepEmail    StepKind = "email"
	StepLinkedIn StepKind = "linkedin"
	StepPhone    StepKind = "phone"
	StepOther    StepKind = "other"
)

// Label returns a short display label for the channel.
func (k StepKind) Label() string {
	switch k {
	case StepEmail:
		return "EMAIL"
	case StepLinkedIn:
		return "LINKEDIN"
	case StepPhone:
		return "PHONE"
	default:
		return "OTHER"
	}
}

// OutreachStep is one touch in an outreach sequence.
type OutreachStep struct {
	ID         string   `json:"id"`
	StepNumber int      `json:"stepNumber"`
	Type       StepKind `json:"type"`
	Content    string   `json:"content"`
	Subject    string   `json:"subject,omitempty"`
	Timing     string   `json:"timing,omitempty"`
	WaitTime   *int     `json:"waitTime,omitempty"`
}

// HasSubject reports whether the subject line is meaningful for this step.
func (s OutreachStep) HasSubject() bool {
	return s.Type == StepEmail
}

// OutreachSequence is an ordered set of steps plus descriptive metadata.
type OutreachSequence struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	CompanyName      string         `json:"companyName"`
	RoleName         string         `json:"roleName"`
	CandidatePersona string         `json:"candidatePersona"`
	Steps            []OutreachStep `json:"steps"`
	CreatedAt        Timestamp      `json:"createdAt"`
	UpdatedAt        Timestamp      `json:"updatedAt"`
}

// OrderedSteps returns the steps in display order (ascending ordinal).
// The receiver's storage order is left untouched.
func (s *OutreachSequence) OrderedSteps() []OutreachStep {
	if s == nil {
		return nil
	}
	steps := make([]OutreachStep, len(s.Steps))
	copy(steps, s.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepNumber < steps[j].StepNumber
	})
	return steps
}

// Step looks up a step by id.
func (s *OutreachSequence) Step(id string) (OutreachStep, bool) {
	if s == nil {
		return OutreachStep{}, false
	}
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return OutreachStep{}, false
}

// Session is the server-side conversation container for one client.
type Session struct {
	ID                string              `json:"id"`
	UserID            string              `json:"userId"`
	CurrentSequenceID string              `json:"currentSequenceId,omitempty"`
	Messages          []ConversationEntry `json:"messages"`
	CreatedAt         Timestamp           `json:"createdAt"`
	UpdatedAt         Timestamp           `json:"updatedAt"`
}

// User is the profile of the person driving the UI.
type User struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Company     string         `json:"company,omitempty"`
	Role        string         `json:"role,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// NewEntry builds a client-side entry stamped with the current time.
func NewEntry(id string, role Role, content string) ConversationEntry {
	return ConversationEntry{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: Timestamp{Time: time.Now().UTC()},
	}
}
