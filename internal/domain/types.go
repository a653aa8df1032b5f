package domain

import "errors"

// ErrMicrophoneUnavailable marks capture failures caused by a missing device
// or denied permission.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// CaptureState models the listening lifecycle.
type CaptureState string

const (
	CaptureStateIdle      CaptureState = "idle"
	CaptureStateListening CaptureState = "listening"
)

// CaptureStateReason provides a structured reason for state transitions.
type CaptureStateReason string

const (
	CaptureReasonReady              CaptureStateReason = "ready"
	CaptureReasonListeningStarted   CaptureStateReason = "listening_started"
	CaptureReasonUtteranceSubmitted CaptureStateReason = "utterance_submitted"
	CaptureReasonNoSpeech           CaptureStateReason = "no_speech"
	CaptureReasonEngineEnded        CaptureStateReason = "engine_ended"
	CaptureReasonCancelled          CaptureStateReason = "cancelled"
	CaptureReasonFailed             CaptureStateReason = "failed"
)

// ErrorCode identifies capture-side failures reported to the host.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeMicrophone  ErrorCode = "microphone"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
	ErrorCodeRecognition ErrorCode = "recognition"
	ErrorCodeRules       ErrorCode = "rules"
)

// TranscriptKind identifies whether a recognition event is partial text,
// final text, or an end-of-speech marker from the engine.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
	TranscriptKindEnd     TranscriptKind = "end"
)

// TranscriptEvent represents incremental output from a recognition engine.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Utterance is the finalized text of one listening session.
type Utterance struct {
	RawText   string `json:"rawText"`
	IsFinal   bool   `json:"isFinal"`
	SessionID string `json:"sessionId"`

	// Audio holds a WAV rendition of the session when audio submission is on.
	Audio []byte `json:"-"`
}

// HasAudio reports whether the utterance carries a captured recording.
func (u Utterance) HasAudio() bool {
	return len(u.Audio) > 0
}

// StopResult is returned when a listening session is stopped explicitly.
type StopResult struct {
	Utterance Utterance `json:"utterance"`
	Emitted   bool      `json:"emitted"`
}

// CaptureStatus summarizes the capture controller.
type CaptureStatus struct {
	State      CaptureState `json:"state"`
	Active     bool         `json:"active"`
	Processing bool         `json:"processing"`
	Transcript string       `json:"transcript,omitempty"`
	Message    string       `json:"message,omitempty"`
}
