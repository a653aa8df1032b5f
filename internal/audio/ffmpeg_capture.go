package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lazymic/internal/domain"
	"lazymic/internal/ports"
)

// startupProbe is how long the recorder must survive before the microphone
// counts as open.
const startupProbe = 250 * time.Millisecond

// deviceFailureHints are recorder stderr fragments that mean the input device
// is missing or access to it was refused.
var deviceFailureHints = []string{
	"permission denied",
	"no such file or directory",
	"no such device",
	"device or resource busy",
	"input/output error",
	"connection refused",
	"audio open error",
	"cannot open audio device",
	"error opening input",
}

// FFMPEGCapture streams 16-bit little-endian PCM from the microphone through
// an ffmpeg-compatible recorder process.
type FFMPEGCapture struct {
	command string
	logger  zerolog.Logger
}

func NewFFMPEGCapture(command string, logger zerolog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, logger: logger}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: recorder %q cannot run: %v", domain.ErrMicrophoneUnavailable, c.command, err)
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if isDeviceFailure(detail) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMicrophoneUnavailable, detail)
		}
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail)
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(startupProbe):
	}

	c.logger.Debug().
		Str("format", cfg.InputFormat).
		Str("device", cfg.InputDevice).
		Int("sample_rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Msg("microphone opened")

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func isDeviceFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, hint := range deviceFailureHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return strings.TrimSpace(input)
}
