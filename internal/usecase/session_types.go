package usecase

import (
	"sync"
	"sync/atomic"
	"time"

	"lazymic/internal/ports"
)

type activeSession struct {
	id     string
	cancel func()
	audio  ports.AudioSession
	stream ports.StreamingSession

	aggregator *transcriptAggregator
	recorder   *pcmRecorder
	eventsDone chan struct{}
	audioDone  chan struct{}

	// claimed is set by whichever path ends the session first: an explicit
	// stop, a cancel, the engine ending the stream, or a capture failure.
	claimed atomic.Bool

	cueMu sync.Mutex
	cue   *time.Timer
}

func (s *activeSession) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

// startCue opens the attention cue window. expire runs when the window
// closes on its own.
func (s *activeSession) startCue(d time.Duration, expire func()) {
	s.cueMu.Lock()
	defer s.cueMu.Unlock()
	s.cue = time.AfterFunc(d, func() {
		s.cueMu.Lock()
		running := s.cue != nil
		s.cue = nil
		s.cueMu.Unlock()
		if running {
			expire()
		}
	})
}

// stopCue closes the attention cue window early and reports whether it was
// still open.
func (s *activeSession) stopCue() bool {
	s.cueMu.Lock()
	defer s.cueMu.Unlock()
	if s.cue == nil {
		return false
	}
	s.cue.Stop()
	s.cue = nil
	return true
}

// pcmRecorder keeps the raw microphone bytes of a session for upload.
type pcmRecorder struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newPCMRecorder(limit int) *pcmRecorder {
	return &pcmRecorder{limit: limit}
}

func (r *pcmRecorder) Write(chunk []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.limit - len(r.buf)
	if r.limit > 0 && room <= 0 {
		return
	}
	if r.limit > 0 && len(chunk) > room {
		chunk = chunk[:room]
	}
	r.buf = append(r.buf, chunk...)
}

func (r *pcmRecorder) Bytes() []byte {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}
