package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"lazymic/internal/domain"
)

// wireTime accepts the timestamp shapes the backend produces, including
// naive datetimes without a zone, which are read as UTC.
type wireTime struct {
	time.Time
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

func (t *wireTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type wireCategory struct {
	Type                     string  `json:"type"`
	Location                 *string `json:"location"`
	EstimatedDurationMinutes *int    `json:"estimated_duration_minutes"`
}

type wireTask struct {
	ID           json.RawMessage `json:"id"`
	Title        string          `json:"title"`
	Description  *string         `json:"description"`
	Priority     string          `json:"priority"`
	Category     *wireCategory   `json:"category"`
	OriginalText string          `json:"original_text"`
	SuggestedAt  *wireTime       `json:"suggested_time"`
	DueDate      *wireTime       `json:"due_date"`
	ReminderAt   *wireTime       `json:"reminder_time"`
	Status       *string         `json:"status"`
}

type wireEmotionalState struct {
	PrimaryEmotion string  `json:"primary_emotion"`
	EnergyLevel    float64 `json:"energy_level"`
	StressLevel    float64 `json:"stress_level"`
	Confidence     float64 `json:"confidence"`
}

type wireSuggestion struct {
	Message         string  `json:"message"`
	SuggestedAction *string `json:"suggested_action"`
	Reasoning       string  `json:"reasoning"`
	Tone            string  `json:"tone"`
}

type wireInterpretation struct {
	Transcript     string              `json:"transcript"`
	EmotionalState *wireEmotionalState `json:"emotional_state"`
	Tasks          []wireTask          `json:"tasks"`
	Suggestion     *wireSuggestion     `json:"companion_suggestion"`
	Metadata       map[string]any      `json:"processing_metadata"`
}

type wireHealth struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type wireText struct {
	Text string `json:"text"`
}

// patchQuery renders the fields the update endpoint accepts. Like task
// creation, the backend reads them from the query string.
func patchQuery(patch domain.TaskPatch) url.Values {
	query := url.Values{}
	if patch.Title != nil {
		query.Set("title", *patch.Title)
	}
	if patch.Description != nil {
		query.Set("description", *patch.Description)
	}
	if patch.Priority != nil {
		query.Set("priority", string(*patch.Priority))
	}
	if patch.Status != nil {
		query.Set("status", wireStatus(*patch.Status))
	}
	return query
}

func wireStatus(status domain.Status) string {
	if status == domain.StatusCompleted {
		return "completed"
	}
	return "pending"
}

// taskID renders the backend id, which may be a number or a string.
func taskID(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("task has no id")
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("task has an empty id")
		}
		return text, nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return "", fmt.Errorf("task id %s is neither string nor number", string(trimmed))
	}
	return number.String(), nil
}

// toDomain converts a wire task. absentStatus is used when the backend omits
// the status field; StatusUnknown leaves it for the store to fill in.
func (w wireTask) toDomain(absentStatus domain.Status) (domain.Task, error) {
	id, err := taskID(w.ID)
	if err != nil {
		return domain.Task{}, err
	}

	task := domain.Task{
		ID:           id,
		Title:        w.Title,
		Description:  w.Description,
		Priority:     domain.PriorityMedium,
		Status:       absentStatus,
		OriginalText: w.OriginalText,
		SuggestedAt:  w.SuggestedAt.ptr(),
		DueDate:      w.DueDate.ptr(),
		ReminderAt:   w.ReminderAt.ptr(),
	}
	if p, err := domain.ParsePriority(w.Priority); err == nil {
		task.Priority = p
	}
	if w.Status != nil && strings.TrimSpace(*w.Status) != "" {
		status, err := domain.ParseStatus(*w.Status)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: %w", id, err)
		}
		task.Status = status
	}
	if w.Category != nil {
		task.Category = &domain.Category{
			Type:                     w.Category.Type,
			Location:                 w.Category.Location,
			EstimatedDurationMinutes: w.Category.EstimatedDurationMinutes,
		}
	}
	return task, nil
}

func convertTasks(in []wireTask, absentStatus domain.Status) ([]domain.Task, error) {
	out := make([]domain.Task, 0, len(in))
	for _, w := range in {
		task, err := w.toDomain(absentStatus)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (w wireInterpretation) toDomain() (domain.Interpretation, error) {
	tasks, err := convertTasks(w.Tasks, domain.StatusOpen)
	if err != nil {
		return domain.Interpretation{}, err
	}
	result := domain.Interpretation{
		Transcript: w.Transcript,
		Tasks:      tasks,
		Metadata:   w.Metadata,
	}
	if w.EmotionalState != nil {
		result.EmotionalState = &domain.EmotionalState{
			PrimaryEmotion: w.EmotionalState.PrimaryEmotion,
			EnergyLevel:    w.EmotionalState.EnergyLevel,
			StressLevel:    w.EmotionalState.StressLevel,
			Confidence:     w.EmotionalState.Confidence,
		}
	}
	if w.Suggestion != nil {
		result.Suggestion = domain.CompanionSuggestion{
			Message:   w.Suggestion.Message,
			Reasoning: w.Suggestion.Reasoning,
			Tone:      w.Suggestion.Tone,
		}
		if w.Suggestion.SuggestedAction != nil {
			result.Suggestion.SuggestedAction = *w.Suggestion.SuggestedAction
		}
		result.Reply = w.Suggestion.Message
	}
	return result, nil
}
