package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"lazymic/internal/bootstrap"
	"lazymic/internal/config"
	"lazymic/internal/domain"
	"lazymic/internal/usecase"
)

const (
	eventCapture        = "lazymic:capture"
	eventTranscript     = "lazymic:transcript"
	eventCue            = "lazymic:cue"
	eventCaptureError   = "lazymic:capture-error"
	eventProcessing     = "lazymic:processing"
	eventInterpretation = "lazymic:interpretation"
	eventTasks          = "lazymic:tasks"
	eventRequestError   = "lazymic:request-error"
)

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...interface{})

	controller *usecase.CaptureController
	assistant  *usecase.Assistant
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	configPath := os.Getenv("LAZYMIC_CONFIG")
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	services, err := bootstrap.Build(configPath, bootstrap.Hosts{Events: a, Notifier: a})
	if err != nil {
		a.bootErr = err
		a.CaptureError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.assistant = services.Assistant
	a.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonReady)

	// Failures reach the UI through RequestFailed.
	go func() { _, _ = a.assistant.Refresh(ctx) }()
}

func (a *App) shutdown(context.Context) {
	if a.controller != nil {
		_ = a.controller.Close()
	}
	if a.assistant != nil {
		a.assistant.Wait()
	}
}

// StartListening opens the microphone.
func (a *App) StartListening() (domain.CaptureStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.CaptureStatus{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopListening ends the session and submits what was heard.
func (a *App) StopListening() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	return a.controller.Stop(a.ctx)
}

// CancelListening discards an in-progress session.
func (a *App) CancelListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Cancel(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// GetStatus returns the current capture status.
func (a *App) GetStatus() domain.CaptureStatus {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.CaptureStatus{State: domain.CaptureStateIdle, Message: a.bootErr.Error()}
		}
		return domain.CaptureStatus{State: domain.CaptureStateIdle}
	}
	return a.controller.Status()
}

// SubmitText interprets typed text.
func (a *App) SubmitText(text string) (domain.Interpretation, error) {
	if err := a.requireReady(); err != nil {
		return domain.Interpretation{}, err
	}
	return a.assistant.SubmitText(a.ctx, text)
}

// RefreshTasks reloads the task list from the backend.
func (a *App) RefreshTasks() ([]domain.Task, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.assistant.Refresh(a.ctx)
}

// ListTasks returns the local task list without contacting the backend.
func (a *App) ListTasks() []domain.Task {
	if a.assistant == nil {
		return nil
	}
	return a.assistant.Tasks()
}

// TaskInput is the frontend form for a new task.
type TaskInput struct {
	Title                    string `json:"title"`
	Description              string `json:"description"`
	Priority                 string `json:"priority"`
	CategoryType             string `json:"categoryType"`
	Location                 string `json:"location"`
	EstimatedDurationMinutes int    `json:"estimatedDurationMinutes"`
	DueDate                  string `json:"dueDate"`
}

func (in TaskInput) draft() (domain.TaskDraft, error) {
	draft := domain.TaskDraft{
		Title:                    in.Title,
		Description:              in.Description,
		CategoryType:             in.CategoryType,
		Location:                 in.Location,
		EstimatedDurationMinutes: in.EstimatedDurationMinutes,
	}
	if strings.TrimSpace(in.Priority) != "" {
		priority, err := domain.ParsePriority(in.Priority)
		if err != nil {
			return domain.TaskDraft{}, err
		}
		draft.Priority = priority
	}
	if strings.TrimSpace(in.DueDate) != "" {
		due, err := time.Parse(time.RFC3339, in.DueDate)
		if err != nil {
			return domain.TaskDraft{}, fmt.Errorf("invalid due date %q: %w", in.DueDate, err)
		}
		draft.DueDate = &due
	}
	return draft, nil
}

// CreateTask adds a task without interpretation.
func (a *App) CreateTask(input TaskInput) (domain.Task, error) {
	if err := a.requireReady(); err != nil {
		return domain.Task{}, err
	}
	draft, err := input.draft()
	if err != nil {
		return domain.Task{}, err
	}
	return a.assistant.Create(a.ctx, draft)
}

// CompleteTask marks a task completed.
func (a *App) CompleteTask(id string) (domain.Task, error) {
	if err := a.requireReady(); err != nil {
		return domain.Task{}, err
	}
	return a.assistant.Complete(a.ctx, id)
}

// UpdateTask edits title, description, priority or status.
func (a *App) UpdateTask(id string, patch domain.TaskPatch) (domain.Task, error) {
	if err := a.requireReady(); err != nil {
		return domain.Task{}, err
	}
	return a.assistant.Update(a.ctx, id, patch)
}

// DeleteTask removes a task.
func (a *App) DeleteTask(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.assistant.Delete(a.ctx, id)
}

// Health probes the backend.
func (a *App) Health() (domain.Health, error) {
	if err := a.requireReady(); err != nil {
		return domain.Health{}, err
	}
	return a.assistant.Health(a.ctx)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"provider":         a.cfg.Recognition.Provider,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
	switch a.cfg.Recognition.Provider {
	case config.ProviderWhisper:
		info["model"] = a.cfg.Recognition.Whisper.Model
		info["language"] = a.cfg.Recognition.Whisper.Language
	default:
		info["model"] = a.cfg.Recognition.Deepgram.Model
		info["language"] = a.cfg.Recognition.Deepgram.Language
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil || a.assistant == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

// CaptureStateChanged emits capture lifecycle updates to the frontend.
func (a *App) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureStateReason) {
	a.send(eventCapture, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": captureReasonMessage(reason),
	})
}

// TranscriptUpdated emits the live transcript buffer.
func (a *App) TranscriptUpdated(text string) {
	a.send(eventTranscript, map[string]string{"text": text})
}

// AttentionCue toggles the listening animation.
func (a *App) AttentionCue(active bool) {
	a.send(eventCue, map[string]bool{"active": active})
}

// CaptureError emits capture failures to the UI.
func (a *App) CaptureError(code domain.ErrorCode, detail string) {
	a.send(eventCaptureError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) ProcessingChanged(active bool) {
	a.send(eventProcessing, map[string]bool{"active": active})
}

func (a *App) InterpretationReady(result domain.Interpretation) {
	a.send(eventInterpretation, result)
}

func (a *App) TasksChanged(tasks []domain.Task) {
	a.send(eventTasks, tasks)
}

func (a *App) RequestFailed(operation string, err *domain.APIError) {
	a.send(eventRequestError, map[string]interface{}{
		"operation": operation,
		"category":  string(err.Category),
		"title":     err.Title(),
		"message":   err.Message,
		"status":    err.OriginalStatus,
	})
}

func captureReasonMessage(reason domain.CaptureStateReason) string {
	switch reason {
	case domain.CaptureReasonReady:
		return "Ready"
	case domain.CaptureReasonListeningStarted:
		return "Listening"
	case domain.CaptureReasonUtteranceSubmitted:
		return "Got it. Working on it..."
	case domain.CaptureReasonNoSpeech:
		return "Didn't catch anything"
	case domain.CaptureReasonEngineEnded:
		return "Listening ended"
	case domain.CaptureReasonCancelled:
		return "Discarded"
	case domain.CaptureReasonFailed:
		return "Listening failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeMicrophone:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeRecognition:
		return "Speech recognition error"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
