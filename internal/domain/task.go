package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority ranks how urgent a task is.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority accepts any casing of a known priority.
func ParsePriority(value string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(value)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid priority %q: must be one of critical, high, medium, low", value)
	}
	return p, nil
}

// IsValid reports whether p is one of the known priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Rank orders priorities from most to least urgent; unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Status is the client-side view of a task's progress.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"

	// StatusUnknown marks a backend answer that did not report the status.
	StatusUnknown Status = ""
)

// ParseStatus accepts the client statuses and the backend's wire statuses.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open", "pending", "in_progress", "cancelled":
		return StatusOpen, nil
	case "completed", "done":
		return StatusCompleted, nil
	default:
		return "", fmt.Errorf("invalid status %q: must be open or completed", value)
	}
}

// Category groups optional classification details of a task.
type Category struct {
	Type                     string  `json:"type,omitempty"`
	Location                 *string `json:"location,omitempty"`
	EstimatedDurationMinutes *int    `json:"estimatedDurationMinutes,omitempty"`
}

// Task is a single entry of the task list.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	Category     *Category  `json:"category,omitempty"`
	OriginalText string     `json:"originalText,omitempty"`
	SuggestedAt  *time.Time `json:"suggestedTime,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ReminderAt   *time.Time `json:"reminderTime,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the store.
func (t Task) Clone() Task {
	out := t
	if t.Description != nil {
		d := *t.Description
		out.Description = &d
	}
	if t.Category != nil {
		c := *t.Category
		if t.Category.Location != nil {
			l := *t.Category.Location
			c.Location = &l
		}
		if t.Category.EstimatedDurationMinutes != nil {
			m := *t.Category.EstimatedDurationMinutes
			c.EstimatedDurationMinutes = &m
		}
		out.Category = &c
	}
	out.SuggestedAt = cloneTime(t.SuggestedAt)
	out.DueDate = cloneTime(t.DueDate)
	out.ReminderAt = cloneTime(t.ReminderAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TaskPatch is a partial update. Only these four fields may be changed
// through the update endpoint; nil means unchanged.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Status == nil
}

// ApplyTo returns t with the patch fields overwritten.
func (p TaskPatch) ApplyTo(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		d := *p.Description
		out.Description = &d
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	return out
}

// TaskDraft describes a task the user creates explicitly.
type TaskDraft struct {
	Title                    string
	Description              string
	Priority                 Priority
	CategoryType             string
	Location                 string
	EstimatedDurationMinutes int
	DueDate                  *time.Time
}

// Provisional builds the optimistic local task for a draft.
func (d TaskDraft) Provisional(id string) Task {
	task := Task{
		ID:       id,
		Title:    strings.TrimSpace(d.Title),
		Priority: d.Priority,
		Status:   StatusOpen,
		DueDate:  cloneTime(d.DueDate),
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if desc := strings.TrimSpace(d.Description); desc != "" {
		task.Description = &desc
	}
	if d.CategoryType != "" || d.Location != "" || d.EstimatedDurationMinutes > 0 {
		category := &Category{Type: d.CategoryType}
		if d.Location != "" {
			loc := d.Location
			category.Location = &loc
		}
		if d.EstimatedDurationMinutes > 0 {
			minutes := d.EstimatedDurationMinutes
			category.EstimatedDurationMinutes = &minutes
		}
		task.Category = category
	}
	return task
}

// MutationKind is the kind of user action awaiting confirmation.
type MutationKind string

const (
	MutationComplete MutationKind = "complete"
	MutationEdit     MutationKind = "edit"
	MutationDelete   MutationKind = "delete"
	MutationCreate   MutationKind = "create"
)

// Mutation is a user action the store applies optimistically.
type Mutation struct {
	TaskID string
	Kind   MutationKind

	// Patch is used by edit mutations.
	Patch TaskPatch
	// Task is the provisional task used by create mutations.
	Task *Task
}

// PendingMutation records an optimistic change awaiting the server.
type PendingMutation struct {
	TargetTaskID string       `json:"targetTaskId"`
	Kind         MutationKind `json:"kind"`
	SubmittedAt  time.Time    `json:"submittedAt"`
}

// EmotionalState is the backend's reading of how the user sounded.
type EmotionalState struct {
	PrimaryEmotion string  `json:"primaryEmotion"`
	EnergyLevel    float64 `json:"energyLevel"`
	StressLevel    float64 `json:"stressLevel"`
	Confidence     float64 `json:"confidence"`
}

// CompanionSuggestion is the backend's reply to an utterance.
type CompanionSuggestion struct {
	Message         string `json:"message"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
	Reasoning       string `json:"reasoning,omitempty"`
	Tone            string `json:"tone,omitempty"`
}

// Interpretation is the structured result of processing an utterance.
type Interpretation struct {
	Transcript     string              `json:"transcript"`
	Reply          string              `json:"reply"`
	EmotionalState *EmotionalState     `json:"emotionalState,omitempty"`
	Suggestion     CompanionSuggestion `json:"suggestion"`
	Tasks          []Task              `json:"tasks"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
}

// Health is the payload of the diagnostic probe.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}
