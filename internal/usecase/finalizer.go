package usecase

import (
	"strings"

	"lazymic/internal/domain"
	"lazymic/internal/ports"
)

type transcriptFinalizer struct {
	rules  ports.RulesEngine
	events ports.EventSink
}

func newTranscriptFinalizer(rules ports.RulesEngine, events ports.EventSink) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, events: events}
}

// Finalize applies the substitution rules and trims the result. An empty
// result means there is nothing to submit.
func (f transcriptFinalizer) Finalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || f.rules == nil {
		return raw, nil
	}
	transformed, err := f.rules.Apply(raw)
	if err != nil {
		f.events.CaptureError(domain.ErrorCodeRules, err.Error())
		return "", err
	}
	return strings.TrimSpace(transformed), nil
}
