// Package config provides the configuration schema, loader, and engine
// registry for the Loba live captioning system.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/lobacast/loba/internal/segment"
	"github.com/lobacast/loba/internal/trigger"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// WhisperMode selects how transcription runs.
type WhisperMode string

const (
	// WhisperServer talks to a whisper.cpp HTTP server.
	WhisperServer WhisperMode = "server"

	// WhisperNative loads the ggml model in-process via CGO bindings.
	WhisperNative WhisperMode = "native"
)

// IsValid reports whether m is a recognised whisper mode.
func (m WhisperMode) IsValid() bool {
	return m == WhisperServer || m == WhisperNative
}

// Config is the root configuration structure. Load it from YAML with [Load]
// or [LoadFromReader]; Default returns the built-in values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Translate TranslateConfig `yaml:"translate"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Discord   DiscordConfig   `yaml:"discord"`
}

// ServerConfig holds network and logging settings for the overlay server.
type ServerConfig struct {
	// Host is the interface the overlay server binds. Defaults to loopback;
	// the overlay is meant for a local OBS browser source.
	Host string `yaml:"host"`

	// Port is the TCP port. Default 8765.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	// SampleRate in Hz. whisper.cpp expects 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels captured from the device. Anything above 1 is downmixed.
	Channels int `yaml:"channels"`

	// ChunkDurationMS is the capture chunk size in milliseconds.
	ChunkDurationMS int `yaml:"chunk_duration_ms"`

	// Source labels the originating device in broadcast events.
	Source string `yaml:"source"`

	// CaptureCommand, when set, is a subprocess that writes raw s16le PCM at
	// the configured rate and channel count to stdout, e.g.
	// ["ffmpeg", "-f", "pulse", "-i", "default", "-f", "s16le",
	// "-ar", "16000", "-ac", "1", "-"]. When empty, PCM is read from stdin.
	CaptureCommand []string `yaml:"capture_command"`
}

// ChunkDuration returns the capture chunk size as a duration.
func (a AudioConfig) ChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMS) * time.Millisecond
}

// SegmenterConfig holds the VAD and segmentation tunables. Times are plain
// numbers in the unit their name states, matching the settings surface.
type SegmenterConfig struct {
	EnergyThreshold     float64 `yaml:"energy_threshold"`
	SilenceThresholdMS  int     `yaml:"silence_threshold_ms"`
	MinSpeechDurationMS int     `yaml:"min_speech_duration_ms"`
	MaxSegmentLengthS   float64 `yaml:"max_segment_length_s"`
	ChunkOverlapMS      int     `yaml:"chunk_overlap_ms"`
}

// Policy converts the YAML block to the segmenter's native config.
func (s SegmenterConfig) Policy() segment.Config {
	return segment.Config{
		EnergyThreshold:   s.EnergyThreshold,
		SilenceThreshold:  time.Duration(s.SilenceThresholdMS) * time.Millisecond,
		MinSpeechDuration: time.Duration(s.MinSpeechDurationMS) * time.Millisecond,
		MaxSegmentLength:  time.Duration(s.MaxSegmentLengthS * float64(time.Second)),
		ChunkOverlap:      time.Duration(s.ChunkOverlapMS) * time.Millisecond,
	}
}

// WhisperConfig selects and configures the transcription engine.
type WhisperConfig struct {
	// Mode is "server" or "native".
	Mode WhisperMode `yaml:"mode"`

	// ServerURL is the whisper.cpp server address for server mode.
	ServerURL string `yaml:"server_url" env:"WHISPER_SERVER_URL"`

	// ModelPath is the ggml model file for native mode.
	ModelPath string `yaml:"model_path"`

	// Model is the model identifier forwarded to the server, if any.
	Model string `yaml:"model"`

	// Language is the recognition language code.
	Language string `yaml:"language"`

	// TimeoutS bounds each transcription call in seconds.
	TimeoutS float64 `yaml:"timeout_s"`
}

// Timeout returns the per-call transcription timeout.
func (w WhisperConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutS * float64(time.Second))
}

// TranslateConfig selects and configures the translation engine.
type TranslateConfig struct {
	// Engine is "none", "openai", or any any-llm-go provider name
	// ("anthropic", "ollama", "groq", ...). "none" broadcasts transcribed
	// text untranslated.
	Engine string `yaml:"engine"`

	// APIKey authenticates against the engine, when it needs one.
	APIKey string `yaml:"api_key" env:"LOBA_TRANSLATE_API_KEY"`

	// BaseURL overrides the engine's default endpoint (local llama.cpp,
	// vLLM, ...).
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier (e.g. "gpt-4o-mini", "qwen2.5:3b").
	Model string `yaml:"model"`

	// SourceLanguage and TargetLanguage are human-readable names used in
	// the translation prompt. TargetCode is the BCP-47 code stamped on
	// caption events.
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`
	TargetCode     string `yaml:"target_code"`

	// TimeoutS bounds each translation call in seconds.
	TimeoutS float64 `yaml:"timeout_s"`
}

// Timeout returns the per-call translation timeout.
func (t TranslateConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutS * float64(time.Second))
}

// OverlayConfig holds display settings forwarded to overlay pages.
type OverlayConfig struct {
	// SubtitleTTLS is how long a caption stays on screen, in seconds.
	SubtitleTTLS float64 `yaml:"subtitle_ttl_s"`

	// MaxLines is the rolling caption line buffer size.
	MaxLines int `yaml:"max_lines"`
}

// PipelineConfig holds the coordinator tunables.
type PipelineConfig struct {
	QueueSize    int   `yaml:"queue_size"`
	Workers      int64 `yaml:"workers"`
	ResultHoldMS int   `yaml:"result_hold_ms"`
	DrainTimeout int   `yaml:"drain_timeout_s"`
}

// TriggerConfig binds the toggle hotkey.
type TriggerConfig struct {
	// ToggleKey names the hotkey that flips captioning, e.g. "f11".
	ToggleKey string `yaml:"toggle_key"`
}

// DiscordConfig configures the optional Discord voice-channel capture
// source. When Enabled, Loba joins the named voice channel and captions the
// mixed incoming audio instead of a local device.
type DiscordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token" env:"DISCORD_BOT_TOKEN"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// Default returns the built-in configuration: loopback overlay server,
// 16 kHz mono capture in 100 ms chunks, dialogue-paced segmentation, a
// whisper.cpp server on localhost, and no translation.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8765,
			LogLevel: LogInfo,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			ChunkDurationMS: 100,
			Source:          "default-mic",
		},
		Segmenter: SegmenterConfig{
			EnergyThreshold:     0.01,
			SilenceThresholdMS:  300,
			MinSpeechDurationMS: 200,
			MaxSegmentLengthS:   12.0,
			ChunkOverlapMS:      200,
		},
		Whisper: WhisperConfig{
			Mode:      WhisperServer,
			ServerURL: "http://127.0.0.1:8080",
			Language:  "en",
			TimeoutS:  30,
		},
		Translate: TranslateConfig{
			Engine:         "none",
			SourceLanguage: "English",
			TargetLanguage: "Portuguese",
			TargetCode:     "pt",
			TimeoutS:       30,
		},
		Overlay: OverlayConfig{
			SubtitleTTLS: 4.5,
			MaxLines:     2,
		},
		Pipeline: PipelineConfig{
			QueueSize:    64,
			Workers:      2,
			ResultHoldMS: 3000,
			DrainTimeout: 10,
		},
		Trigger: TriggerConfig{
			ToggleKey: string(trigger.DefaultKey),
		},
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range (0, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.ChunkDurationMS <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration_ms must be positive, got %d", cfg.Audio.ChunkDurationMS))
	}

	// Segmenter — validated through the component's own rules.
	if err := cfg.Segmenter.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Whisper
	if !cfg.Whisper.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("whisper.mode %q is invalid; valid values: server, native", cfg.Whisper.Mode))
	}
	if cfg.Whisper.Mode == WhisperServer && cfg.Whisper.ServerURL == "" {
		errs = append(errs, errors.New("whisper.server_url is required when whisper.mode is server"))
	}
	if cfg.Whisper.Mode == WhisperNative && cfg.Whisper.ModelPath == "" {
		errs = append(errs, errors.New("whisper.model_path is required when whisper.mode is native"))
	}
	if cfg.Whisper.TimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("whisper.timeout_s must be positive, got %v", cfg.Whisper.TimeoutS))
	}

	// Translate
	if cfg.Translate.Engine == "" {
		errs = append(errs, errors.New("translate.engine is required; use \"none\" to disable translation"))
	}
	if cfg.Translate.Engine != "none" {
		if cfg.Translate.Model == "" {
			errs = append(errs, fmt.Errorf("translate.model is required for engine %q", cfg.Translate.Engine))
		}
		if cfg.Translate.TimeoutS <= 0 {
			errs = append(errs, fmt.Errorf("translate.timeout_s must be positive, got %v", cfg.Translate.TimeoutS))
		}
	}

	// Overlay
	if cfg.Overlay.SubtitleTTLS <= 0 {
		errs = append(errs, fmt.Errorf("overlay.subtitle_ttl_s must be positive, got %v", cfg.Overlay.SubtitleTTLS))
	}
	if cfg.Overlay.MaxLines <= 0 {
		errs = append(errs, fmt.Errorf("overlay.max_lines must be positive, got %d", cfg.Overlay.MaxLines))
	}

	// Pipeline
	if cfg.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be positive, got %d", cfg.Pipeline.QueueSize))
	}
	if cfg.Pipeline.Workers < 2 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 2, got %d", cfg.Pipeline.Workers))
	}
	if cfg.Pipeline.ResultHoldMS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.result_hold_ms must be positive, got %d", cfg.Pipeline.ResultHoldMS))
	}
	if cfg.Pipeline.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.drain_timeout_s must be positive, got %d", cfg.Pipeline.DrainTimeout))
	}

	// Trigger
	if cfg.Trigger.ToggleKey != "" {
		if _, ok := trigger.Lookup(cfg.Trigger.ToggleKey); !ok {
			errs = append(errs, fmt.Errorf("trigger.toggle_key %q is unsupported; valid values: %v",
				cfg.Trigger.ToggleKey, trigger.SupportedKeys()))
		}
	}

	// Discord capture
	if cfg.Discord.Enabled {
		if cfg.Discord.BotToken == "" {
			errs = append(errs, errors.New("discord.bot_token is required when discord.enabled is true"))
		}
		if cfg.Discord.GuildID == "" {
			errs = append(errs, errors.New("discord.guild_id is required when discord.enabled is true"))
		}
		if cfg.Discord.ChannelID == "" {
			errs = append(errs, errors.New("discord.channel_id is required when discord.enabled is true"))
		}
	}

	return errors.Join(errs...)
}
