package usecase

import (
	"strings"
	"sync"

	"lazymic/internal/domain"
	"lazymic/internal/ports"
)

// transcriptAggregator is the single transcript buffer of a session. Once any
// final segment arrives the buffer is the finals joined by a space; until
// then it is the latest interim text.
type transcriptAggregator struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

// Add folds event into the buffer and reports whether the buffer changed.
func (a *transcriptAggregator) Add(event domain.TranscriptEvent) bool {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.rawLocked()
	switch event.Kind {
	case domain.TranscriptKindFinal:
		a.finals = append(a.finals, text)
		a.interim = ""
	case domain.TranscriptKindPartial:
		a.interim = text
	default:
		return false
	}
	return a.rawLocked() != before
}

func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rawLocked()
}

func (a *transcriptAggregator) rawLocked() string {
	if len(a.finals) > 0 {
		return strings.Join(a.finals, " ")
	}
	return a.interim
}

// consumeTranscriptionEvents feeds recognition events into the buffer until
// the engine closes the stream. onEngineEnd fires for an end-of-speech event
// and again when the stream closes; the controller ignores it once the
// session has already been claimed.
func consumeTranscriptionEvents(
	session ports.StreamingSession,
	aggregator *transcriptAggregator,
	events ports.EventSink,
	onEngineEnd func(closed bool),
	done chan struct{},
) {
	defer close(done)

	for event := range session.Events() {
		if event.Kind == domain.TranscriptKindEnd {
			onEngineEnd(false)
			continue
		}
		if aggregator.Add(event) {
			events.TranscriptUpdated(aggregator.Raw())
		}
	}
	onEngineEnd(true)
}
