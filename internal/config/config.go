// Package config resolves lazymic runtime configuration from defaults, an
// optional .env file, an optional YAML file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Recognition providers.
const (
	ProviderDeepgram = "deepgram"
	ProviderWhisper  = "whisper"
)

// Config stores runtime configuration for the capture pipeline.
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Audio       AudioConfig       `yaml:"audio"`
	Rules       RulesConfig       `yaml:"rules"`
	Capture     CaptureConfig     `yaml:"capture"`
}

// BackendConfig describes the interpretation service and how to reach it.
type BackendConfig struct {
	BaseURL          string        `yaml:"base_url"`
	BypassHeader     string        `yaml:"bypass_header"`
	BypassValue      string        `yaml:"bypass_value"`
	InterpretTimeout time.Duration `yaml:"interpret_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	MutateTimeout    time.Duration `yaml:"mutate_timeout"`
	Endpoints        Endpoints     `yaml:"endpoints"`
}

// Endpoints holds backend paths relative to BaseURL.
type Endpoints struct {
	VoiceInput string `yaml:"voice_input"`
	TextInput  string `yaml:"text_input"`
	Tasks      string `yaml:"tasks"`
	Health     string `yaml:"health"`
}

type RecognitionConfig struct {
	Provider string         `yaml:"provider"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Whisper  WhisperConfig  `yaml:"whisper"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"-"`
	APIBaseURL  string `yaml:"api_base_url"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

type WhisperConfig struct {
	APIKey   string `yaml:"-"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type CaptureConfig struct {
	ChunkSize      int           `yaml:"chunk_size"`
	StreamingGrace time.Duration `yaml:"streaming_grace"`
	AttentionCue   time.Duration `yaml:"attention_cue"`
	SubmitAudio    bool          `yaml:"submit_audio"`
	EndOnSilence   bool          `yaml:"end_on_silence"`
}

// Default returns the built-in configuration for the given home directory.
func Default(home string) Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:          "http://localhost:8000",
			BypassHeader:     "ngrok-skip-browser-warning",
			BypassValue:      "true",
			InterpretTimeout: 30 * time.Second,
			ReadTimeout:      10 * time.Second,
			MutateTimeout:    10 * time.Second,
			Endpoints: Endpoints{
				VoiceInput: "/api/v1/process-voice-input",
				TextInput:  "/api/v1/process-text-input",
				Tasks:      "/api/v1/tasks",
				Health:     "/health",
			},
		},
		Recognition: RecognitionConfig{
			Provider: ProviderDeepgram,
			Deepgram: DeepgramConfig{
				APIBaseURL:  "https://api.deepgram.com/v1",
				Model:       "nova-2",
				SmartFormat: true,
			},
			Whisper: WhisperConfig{
				Model: "whisper-1",
			},
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Rules: RulesConfig{
			Path:           filepath.Join(home, ".config", "lazymic", "rules.yaml"),
			IterationLimit: 30,
		},
		Capture: CaptureConfig{
			ChunkSize:      4096,
			StreamingGrace: time.Second,
			AttentionCue:   1500 * time.Millisecond,
		},
	}
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "lazymic", "config.yaml")
}

// Load resolves configuration. A missing configPath or .env file is not an
// error; a malformed one is.
func Load(configPath string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	if err := loadDotEnv(envOrDefault("LAZYMIC_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Default(home)
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	b := &cfg.Backend
	b.BaseURL = envOrDefault("LAZYMIC_API_BASE_URL", b.BaseURL)
	b.BypassHeader = envOrDefault("LAZYMIC_BYPASS_HEADER", b.BypassHeader)
	b.BypassValue = envOrDefault("LAZYMIC_BYPASS_VALUE", b.BypassValue)
	b.InterpretTimeout = envOrDefaultMillis("LAZYMIC_INTERPRET_TIMEOUT_MS", b.InterpretTimeout)
	b.ReadTimeout = envOrDefaultMillis("LAZYMIC_READ_TIMEOUT_MS", b.ReadTimeout)
	b.MutateTimeout = envOrDefaultMillis("LAZYMIC_MUTATE_TIMEOUT_MS", b.MutateTimeout)

	r := &cfg.Recognition
	r.Provider = strings.ToLower(envOrDefault("LAZYMIC_RECOGNITION_PROVIDER", r.Provider))
	r.Deepgram.APIKey = strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY"))
	r.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", r.Deepgram.APIBaseURL)
	r.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", r.Deepgram.Model)
	r.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", r.Deepgram.Language)
	r.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", r.Deepgram.SmartFormat)
	r.Whisper.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	r.Whisper.BaseURL = envOrDefault("OPENAI_BASE_URL", r.Whisper.BaseURL)
	r.Whisper.Model = envOrDefault("LAZYMIC_WHISPER_MODEL", r.Whisper.Model)
	r.Whisper.Language = envOrDefault("LAZYMIC_WHISPER_LANGUAGE", r.Whisper.Language)

	a := &cfg.Audio
	a.RecorderCommand = envOrDefault("LAZYMIC_FFMPEG_COMMAND", a.RecorderCommand)
	a.InputFormat = envOrDefault("LAZYMIC_AUDIO_INPUT_FORMAT", a.InputFormat)
	a.InputDevice = envOrDefault("LAZYMIC_AUDIO_INPUT_DEVICE", a.InputDevice)
	a.SampleRate = envOrDefaultInt("LAZYMIC_SAMPLE_RATE", a.SampleRate)
	a.Channels = envOrDefaultInt("LAZYMIC_CHANNELS", a.Channels)

	cfg.Rules.Path = envOrDefault("LAZYMIC_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("LAZYMIC_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	c := &cfg.Capture
	c.ChunkSize = envOrDefaultInt("LAZYMIC_AUDIO_CHUNK_SIZE", c.ChunkSize)
	c.StreamingGrace = envOrDefaultMillis("LAZYMIC_STREAMING_GRACE_MS", c.StreamingGrace)
	c.AttentionCue = envOrDefaultMillis("LAZYMIC_ATTENTION_CUE_MS", c.AttentionCue)
	c.SubmitAudio = envOrDefaultBool("LAZYMIC_SUBMIT_AUDIO", c.SubmitAudio)
	c.EndOnSilence = envOrDefaultBool("LAZYMIC_END_ON_SILENCE", c.EndOnSilence)
}

// applyDefaults clamps out-of-range values back to the built-in defaults.
func (c *Config) applyDefaults() {
	defaults := Default("")
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = defaults.Audio.Channels
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = defaults.Rules.IterationLimit
	}
	if c.Capture.ChunkSize < 256 {
		c.Capture.ChunkSize = defaults.Capture.ChunkSize
	}
	if c.Capture.StreamingGrace < 0 {
		c.Capture.StreamingGrace = defaults.Capture.StreamingGrace
	}
	if c.Capture.AttentionCue < 0 {
		c.Capture.AttentionCue = defaults.Capture.AttentionCue
	}
	if c.Backend.InterpretTimeout <= 0 {
		c.Backend.InterpretTimeout = defaults.Backend.InterpretTimeout
	}
	if c.Backend.ReadTimeout <= 0 {
		c.Backend.ReadTimeout = defaults.Backend.ReadTimeout
	}
	if c.Backend.MutateTimeout <= 0 {
		c.Backend.MutateTimeout = defaults.Backend.MutateTimeout
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must be an http or https URL, got %q", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.base_url has no host: %q", c.Backend.BaseURL)
	}

	endpoints := map[string]string{
		"voice_input": c.Backend.Endpoints.VoiceInput,
		"text_input":  c.Backend.Endpoints.TextInput,
		"tasks":       c.Backend.Endpoints.Tasks,
		"health":      c.Backend.Endpoints.Health,
	}
	for name, path := range endpoints {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("backend.endpoints.%s must start with '/', got %q", name, path)
		}
	}

	switch c.Recognition.Provider {
	case ProviderDeepgram, ProviderWhisper:
	default:
		return fmt.Errorf("recognition.provider must be %q or %q, got %q", ProviderDeepgram, ProviderWhisper, c.Recognition.Provider)
	}

	if c.Backend.BypassHeader != "" && strings.ContainsAny(c.Backend.BypassHeader, " :\t") {
		return fmt.Errorf("backend.bypass_header is not a valid header name: %q", c.Backend.BypassHeader)
	}

	return nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
