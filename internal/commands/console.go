package commands

import (
	"fmt"
	"io"
	"sync"

	"lazymic/internal/domain"
)

// Console reports capture and task events as human-readable lines, usually
// on stderr so stdout stays machine readable.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	ended   chan domain.CaptureStateReason

	interpretation *domain.Interpretation
	failure        *domain.APIError
}

func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose, ended: make(chan domain.CaptureStateReason, 1)}
}

// Ended receives the reason each time a listening session returns to idle.
func (c *Console) Ended() <-chan domain.CaptureStateReason {
	return c.ended
}

func (c *Console) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureStateReason) {
	c.printf("[%s] %s\n", state, reason)
	if state != domain.CaptureStateIdle {
		return
	}
	select {
	case c.ended <- reason:
	default:
	}
}

func (c *Console) TranscriptUpdated(text string) {
	c.printf("  … %s\n", text)
}

func (c *Console) AttentionCue(active bool) {
	if !c.verbose {
		return
	}
	if active {
		c.printf("  (speak now)\n")
	}
}

func (c *Console) CaptureError(code domain.ErrorCode, detail string) {
	c.printf("capture error (%s): %s\n", code, detail)
}

func (c *Console) ProcessingChanged(active bool) {
	if c.verbose && active {
		c.printf("  processing…\n")
	}
}

func (c *Console) InterpretationReady(result domain.Interpretation) {
	c.mu.Lock()
	c.interpretation = &result
	c.failure = nil
	c.mu.Unlock()

	if result.Reply != "" {
		c.printf("%s\n", result.Reply)
	}
}

func (c *Console) TasksChanged(tasks []domain.Task) {
	if c.verbose {
		c.printf("  %d tasks\n", len(tasks))
	}
}

func (c *Console) RequestFailed(operation string, err *domain.APIError) {
	c.mu.Lock()
	c.failure = err
	c.mu.Unlock()

	c.printf("%s failed: %s: %s\n", operation, err.Title(), err.Message)
}

// Outcome returns the last interpretation or the last request failure.
func (c *Console) Outcome() (*domain.Interpretation, *domain.APIError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interpretation, c.failure
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, format, args...)
}
