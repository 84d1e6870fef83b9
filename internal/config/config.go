package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the call relay service.
type Config struct {
	BindAddr         string
	PublicHost       string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	CallInactivityTimeout time.Duration
	ReaperInterval        time.Duration
	SynthHeartbeat        time.Duration
	EndCallGrace          time.Duration
	FirstAudioSLO         time.Duration

	RealtimeWSBaseURL string
	RealtimeAPIKey    string
	RealtimeModel     string

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string

	DefaultAgentID string

	// Seed values for the default agent when no configuration database is
	// attached.
	DefaultAgentVoice      string
	DefaultAgentPrompt     string
	DefaultAgentGreeting   string
	DefaultAgentOutputMode string
	DefaultAgentNumber     string

	ToolHTTPTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicHost:       envTrimmed("APP_PUBLIC_HOST"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "callrelay"),

		RealtimeWSBaseURL: envOrDefault("REALTIME_WS_BASE_URL", "wss://api.openai.com"),
		RealtimeAPIKey:    envTrimmed("OPENAI_API_KEY"),
		RealtimeModel:     envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview"),

		ElevenLabsAPIKey:    envTrimmed("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSModel:  envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_turbo_v2"),
		// Telephony media streams carry 8 kHz mu-law; ask the synthesis engine
		// for it directly so no transcode step sits between it and the caller.
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "ulaw_8000"),

		DefaultAgentID:         envOrDefault("DEFAULT_AGENT_ID", "default"),
		DefaultAgentVoice:      envOrDefault("DEFAULT_AGENT_VOICE", "alloy"),
		DefaultAgentPrompt:     envOrDefault("DEFAULT_AGENT_PROMPT", "You are a friendly, concise phone assistant."),
		DefaultAgentGreeting:   envTrimmed("DEFAULT_AGENT_GREETING"),
		DefaultAgentOutputMode: envOrDefault("DEFAULT_AGENT_OUTPUT_MODE", "native"),
		DefaultAgentNumber:     envTrimmed("DEFAULT_AGENT_NUMBER"),

		DatabaseURL: envTrimmed("DATABASE_URL"),

		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 5 * time.Minute,
		ReaperInterval:        time.Minute,
		SynthHeartbeat:        60 * time.Second,
		EndCallGrace:          5 * time.Second,
		FirstAudioSLO:         1500 * time.Millisecond,
		ToolHTTPTimeout:       10 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperInterval, err = durationFromEnv("APP_REAPER_INTERVAL", cfg.ReaperInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthHeartbeat, err = durationFromEnv("APP_SYNTH_HEARTBEAT", cfg.SynthHeartbeat)
	if err != nil {
		return Config{}, err
	}
	cfg.EndCallGrace, err = durationFromEnv("APP_END_CALL_GRACE", cfg.EndCallGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstAudioSLO, err = durationFromEnv("APP_FIRST_AUDIO_SLO", cfg.FirstAudioSLO)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolHTTPTimeout, err = durationFromEnv("TOOL_HTTP_TIMEOUT", cfg.ToolHTTPTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.CallInactivityTimeout < 30*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 30s")
	}
	if cfg.ReaperInterval <= 0 {
		return Config{}, fmt.Errorf("APP_REAPER_INTERVAL must be positive")
	}
	if cfg.ReaperInterval > cfg.CallInactivityTimeout {
		return Config{}, fmt.Errorf("APP_REAPER_INTERVAL must not exceed APP_CALL_INACTIVITY_TIMEOUT")
	}
	if cfg.EndCallGrace < 0 {
		return Config{}, fmt.Errorf("APP_END_CALL_GRACE must not be negative")
	}
	if cfg.DefaultAgentOutputMode != "native" && cfg.DefaultAgentOutputMode != "tts" {
		return Config{}, fmt.Errorf("DEFAULT_AGENT_OUTPUT_MODE must be native or tts, got %q", cfg.DefaultAgentOutputMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
