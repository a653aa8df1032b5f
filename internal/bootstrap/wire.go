package bootstrap

import (
	"fmt"
	"time"

	"lazymic/internal/audio"
	"lazymic/internal/config"
	"lazymic/internal/dispatch"
	"lazymic/internal/logging"
	"lazymic/internal/ports"
	"lazymic/internal/providers/deepgram"
	"lazymic/internal/providers/whisper"
	"lazymic/internal/rules"
	"lazymic/internal/taskstore"
	"lazymic/internal/transport"
	"lazymic/internal/usecase"
)

// whisperStreamWait covers a full batch transcription round trip.
const whisperStreamWait = 60 * time.Second

// Hosts are the presentation callbacks supplied by the desktop or CLI host.
// Either may be nil.
type Hosts struct {
	Events   ports.EventSink
	Notifier ports.Notifier
}

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Controller *usecase.CaptureController
	Assistant  *usecase.Assistant
	Store      *taskstore.Store
	Provider   ports.TranscriptionProvider
}

// Build loads configuration from configPath and wires all dependencies.
func Build(configPath string, hosts Hosts) (Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return Services{}, err
	}
	return BuildFromConfig(cfg, hosts)
}

// BuildFromConfig wires all dependencies for an already resolved config.
func BuildFromConfig(cfg config.Config, hosts Hosts) (Services, error) {
	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}
	rulesLog := logging.Component("rules")
	rulesLog.Debug().
		Str("path", cfg.Rules.Path).
		Int("rules", rulesEngine.Len()).
		Msg("substitution rules loaded")

	provider, streamWait, err := buildProvider(cfg)
	if err != nil {
		return Services{}, err
	}

	client := transport.NewClient(transport.Config{
		BaseURL:          cfg.Backend.BaseURL,
		BypassHeader:     cfg.Backend.BypassHeader,
		BypassValue:      cfg.Backend.BypassValue,
		InterpretTimeout: cfg.Backend.InterpretTimeout,
		ReadTimeout:      cfg.Backend.ReadTimeout,
		MutateTimeout:    cfg.Backend.MutateTimeout,
	}, logging.Component("transport"))

	dispatcher := dispatch.New(client, dispatch.Endpoints{
		VoiceInput: cfg.Backend.Endpoints.VoiceInput,
		TextInput:  cfg.Backend.Endpoints.TextInput,
		Tasks:      cfg.Backend.Endpoints.Tasks,
		Health:     cfg.Backend.Endpoints.Health,
	})

	store := taskstore.New(logging.Component("taskstore"))
	assistant := usecase.NewAssistant(dispatcher, store, hosts.Notifier, logging.Component("assistant"))

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	controller := usecase.NewCaptureController(
		usecase.CaptureDeps{
			Audio:    audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logging.Component("audio")),
			Provider: provider,
			Rules:    rulesEngine,
			Encoder:  audio.WAVEncoder{},
			Sink:     assistant,
			Events:   hosts.Events,
		},
		usecase.Config{
			Audio: audioCfg,
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
				EndOnSilence:   cfg.Capture.EndOnSilence,
			},
			ChunkSize:      cfg.Capture.ChunkSize,
			StreamingGrace: cfg.Capture.StreamingGrace,
			AttentionCue:   cfg.Capture.AttentionCue,
			SubmitAudio:    cfg.Capture.SubmitAudio,
			StreamWait:     streamWait,
		},
		logging.Component("capture"),
	)
	assistant.SetGate(controller)

	return Services{
		Config:     cfg,
		Controller: controller,
		Assistant:  assistant,
		Store:      store,
		Provider:   provider,
	}, nil
}

func buildProvider(cfg config.Config) (ports.TranscriptionProvider, time.Duration, error) {
	switch cfg.Recognition.Provider {
	case config.ProviderDeepgram:
		dg := cfg.Recognition.Deepgram
		return deepgram.NewProvider(deepgram.Config{
			APIKey:      dg.APIKey,
			APIBaseURL:  dg.APIBaseURL,
			Model:       dg.Model,
			Language:    dg.Language,
			SmartFormat: dg.SmartFormat,
		}, logging.Component("deepgram")), 0, nil
	case config.ProviderWhisper:
		w := cfg.Recognition.Whisper
		return whisper.NewProvider(whisper.Config{
			APIKey:   w.APIKey,
			BaseURL:  w.BaseURL,
			Model:    w.Model,
			Language: w.Language,
		}, logging.Component("whisper")), whisperStreamWait, nil
	default:
		return nil, 0, fmt.Errorf("unknown recognition provider %q", cfg.Recognition.Provider)
	}
}
