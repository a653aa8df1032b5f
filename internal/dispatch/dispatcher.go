// Package dispatch turns user intents into backend calls and converts the
// backend's payloads into domain values. It never touches the task store.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lazymic/internal/domain"
	"lazymic/internal/transport"
)

const (
	voiceFormField   = "audio_file"
	audioFilename    = "utterance.wav"
	audioContentType = "audio/wav"
)

// Sender is the transport surface the dispatcher needs.
type Sender interface {
	Send(ctx context.Context, req transport.Request, out any) error
}

// Endpoints are backend paths relative to the base URL.
type Endpoints struct {
	VoiceInput string
	TextInput  string
	Tasks      string
	Health     string
}

// Dispatcher issues the backend calls.
type Dispatcher struct {
	sender    Sender
	endpoints Endpoints
}

func New(sender Sender, endpoints Endpoints) *Dispatcher {
	return &Dispatcher{sender: sender, endpoints: endpoints}
}

// SubmitVoice interprets an utterance. Captured audio goes to the voice
// endpoint as a multipart upload; text-only utterances go to the text endpoint.
func (d *Dispatcher) SubmitVoice(ctx context.Context, utterance domain.Utterance) (domain.Interpretation, error) {
	if !utterance.HasAudio() {
		return d.SubmitText(ctx, utterance.RawText)
	}

	body, contentType, err := voiceBody(utterance.Audio)
	if err != nil {
		return domain.Interpretation{}, &domain.APIError{Category: domain.CategoryUnknown, Message: err.Error()}
	}
	var wire wireInterpretation
	if err := d.sender.Send(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        d.endpoints.VoiceInput,
		Body:        body,
		ContentType: contentType,
		Class:       transport.ClassInterpret,
	}, &wire); err != nil {
		return domain.Interpretation{}, err
	}
	return interpretation(wire)
}

// SubmitText interprets typed or transcribed text.
func (d *Dispatcher) SubmitText(ctx context.Context, text string) (domain.Interpretation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Interpretation{}, &domain.APIError{Category: domain.CategoryUnknown, Message: "nothing to submit: text is empty"}
	}
	body, err := transport.JSONBody(wireText{Text: text})
	if err != nil {
		return domain.Interpretation{}, err
	}
	var wire wireInterpretation
	if err := d.sender.Send(ctx, transport.Request{
		Method:      http.MethodPost,
		Path:        d.endpoints.TextInput,
		Body:        body,
		ContentType: "application/json",
		Class:       transport.ClassInterpret,
	}, &wire); err != nil {
		return domain.Interpretation{}, err
	}
	return interpretation(wire)
}

// FetchTasks reads the full task list.
func (d *Dispatcher) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	var wire []wireTask
	if err := d.sender.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   d.endpoints.Tasks,
		Class:  transport.ClassRead,
	}, &wire); err != nil {
		return nil, err
	}
	tasks, err := convertTasks(wire, domain.StatusOpen)
	if err != nil {
		return nil, malformed(err)
	}
	return tasks, nil
}

// CreateTask creates a task. The backend takes the fields as query parameters.
func (d *Dispatcher) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	query := url.Values{}
	query.Set("title", strings.TrimSpace(draft.Title))
	if desc := strings.TrimSpace(draft.Description); desc != "" {
		query.Set("description", desc)
	}
	if draft.Priority != "" {
		query.Set("priority", string(draft.Priority))
	}
	if draft.CategoryType != "" {
		query.Set("category_type", draft.CategoryType)
	}
	if draft.Location != "" {
		query.Set("location", draft.Location)
	}
	if draft.EstimatedDurationMinutes > 0 {
		query.Set("estimated_duration_minutes", strconv.Itoa(draft.EstimatedDurationMinutes))
	}
	if draft.DueDate != nil {
		query.Set("due_date", draft.DueDate.UTC().Format(time.RFC3339))
	}

	var wire wireTask
	if err := d.sender.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   d.endpoints.Tasks,
		Query:  query,
		Class:  transport.ClassMutate,
	}, &wire); err != nil {
		return domain.Task{}, err
	}
	return singleTask(wire, domain.StatusOpen)
}

// CompleteTask marks a task completed.
func (d *Dispatcher) CompleteTask(ctx context.Context, id string) (domain.Task, error) {
	var wire wireTask
	if err := d.sender.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   d.taskPath(id) + "/complete",
		Class:  transport.ClassMutate,
	}, &wire); err != nil {
		return domain.Task{}, err
	}
	return singleTask(wire, domain.StatusCompleted)
}

// UpdateTask sends a partial update as query parameters. The backend does
// not echo the status, so the returned task carries StatusUnknown unless it
// does.
func (d *Dispatcher) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var wire wireTask
	if err := d.sender.Send(ctx, transport.Request{
		Method: http.MethodPatch,
		Path:   d.taskPath(id),
		Query:  patchQuery(patch),
		Class:  transport.ClassMutate,
	}, &wire); err != nil {
		return domain.Task{}, err
	}
	return singleTask(wire, domain.StatusUnknown)
}

// DeleteTask removes a task.
func (d *Dispatcher) DeleteTask(ctx context.Context, id string) error {
	return d.sender.Send(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   d.taskPath(id),
		Class:  transport.ClassMutate,
	}, nil)
}

// Health probes the backend.
func (d *Dispatcher) Health(ctx context.Context) (domain.Health, error) {
	var wire wireHealth
	if err := d.sender.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   d.endpoints.Health,
		Class:  transport.ClassRead,
	}, &wire); err != nil {
		return domain.Health{}, err
	}
	return domain.Health{Status: wire.Status, Service: wire.Service, Version: wire.Version}, nil
}

func (d *Dispatcher) taskPath(id string) string {
	return strings.TrimRight(d.endpoints.Tasks, "/") + "/" + url.PathEscape(id)
}

func voiceBody(audio []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, voiceFormField, audioFilename))
	header.Set("Content-Type", audioContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart body: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

func interpretation(wire wireInterpretation) (domain.Interpretation, error) {
	result, err := wire.toDomain()
	if err != nil {
		return domain.Interpretation{}, malformed(err)
	}
	return result, nil
}

func singleTask(wire wireTask, absentStatus domain.Status) (domain.Task, error) {
	task, err := wire.toDomain(absentStatus)
	if err != nil {
		return domain.Task{}, malformed(err)
	}
	return task, nil
}

func malformed(err error) *domain.APIError {
	return &domain.APIError{
		Category: domain.CategoryUnknown,
		Message:  fmt.Sprintf("backend returned an unusable payload: %v", err),
	}
}
