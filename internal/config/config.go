package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full bot configuration, loaded once at startup and treated
// as read-only afterwards. All validation happens at load time so the
// pipeline never sees a partially valid configuration.
type Config struct {
	Discord    DiscordConfig         `yaml:"discord" validate:"required"`
	LLM        LLMConfig             `yaml:"llm" validate:"required"`
	Prompts    PromptsConfig         `yaml:"prompts" validate:"required"`
	Keyphrases []string              `yaml:"keyphrases" validate:"required,min=1,dive,required"`
	Users      map[string]UserConfig `yaml:"users" validate:"dive"`
	// FriendlyFireGroups maps a group name to the phrases members of that
	// group must not trigger.
	FriendlyFireGroups map[string][]string `yaml:"friendly_fire_groups"`
	// KeywordVictims maps a trigger phrase to the display name of the person
	// the phrase is about.
	KeywordVictims map[string]string `yaml:"keyword_victims"`
	STT            STTConfig         `yaml:"stt" validate:"required"`
	TTS            TTSConfig         `yaml:"tts" validate:"required"`
	Audio          AudioConfig       `yaml:"audio" validate:"required"`
	Connection     ConnectionConfig  `yaml:"connection" validate:"required"`
	Dispatcher     DispatcherConfig  `yaml:"dispatcher"`
	Ops            OpsConfig         `yaml:"ops"`
	Debug          DebugConfig       `yaml:"debug"`
}

type DiscordConfig struct {
	Token          string `yaml:"token"`
	GuildID        string `yaml:"guild_id" validate:"required"`
	VoiceChannelID string `yaml:"voice_channel_id" validate:"required"`
	CommandPrefix  string `yaml:"command_prefix"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url" validate:"required,url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model" validate:"required"`
	TimeoutMs   int     `yaml:"timeout_ms" validate:"gt=0"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gt=0"`
}

type PromptConfig struct {
	System       string `yaml:"system" validate:"required"`
	UserTemplate string `yaml:"user_template" validate:"required"`
}

type PromptsConfig struct {
	Primary     PromptConfig `yaml:"primary" validate:"required"`
	Alternative PromptConfig `yaml:"alternative" validate:"required"`
	// AlternativeProbability is the percent chance (0-100) that the
	// alternative prompt is used for a given trigger event.
	AlternativeProbability int    `yaml:"alternative_probability" validate:"gte=0,lte=100"`
	FallbackText           string `yaml:"fallback_text"`
}

type UserConfig struct {
	Name              string `yaml:"name" validate:"required"`
	TargetName        string `yaml:"target_name" validate:"required"`
	FriendlyFireGroup string `yaml:"friendly_fire_group"`
}

type STTConfig struct {
	URL               string  `yaml:"url" validate:"required,url"`
	Language          string  `yaml:"language"`
	BeamSize          int     `yaml:"beam_size" validate:"gte=0"`
	VADFilter         bool    `yaml:"vad_filter"`
	RepetitionPenalty float64 `yaml:"repetition_penalty" validate:"gte=0"`
	InitialPrompt     string  `yaml:"initial_prompt"`
	TimeoutMs         int     `yaml:"timeout_ms" validate:"gt=0"`
}

type PiperConfig struct {
	ExecutablePath string `yaml:"executable_path"`
	ModelPath      string `yaml:"model_path"`
}

type HTTPTTSConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Engine string        `yaml:"engine" validate:"required,oneof=http piper"`
	HTTP   HTTPTTSConfig `yaml:"http"`
	Piper  PiperConfig   `yaml:"piper"`
}

type AudioConfig struct {
	MinClipSeconds     float64 `yaml:"min_clip_seconds" validate:"gt=0"`
	SilenceFinalizeMs  int     `yaml:"silence_finalize_ms" validate:"gt=0"`
	PrerollMaxChunks   int     `yaml:"preroll_max_chunks" validate:"gte=0"`
	SampleRate         int     `yaml:"sample_rate" validate:"gt=0"`
	TargetSampleRate   int     `yaml:"target_sample_rate" validate:"gt=0"`
	MaxClipSeconds     float64 `yaml:"max_clip_seconds" validate:"gt=0"`
	IdleSessionSeconds int     `yaml:"idle_session_seconds" validate:"gt=0"`
	VADRmsThreshold    int     `yaml:"vad_rms_threshold" validate:"gte=0"`
}

type ConnectionConfig struct {
	MaxRestartAttempts  int `yaml:"max_restart_attempts" validate:"gt=0"`
	CooldownBaseSeconds int `yaml:"cooldown_base_seconds" validate:"gt=0"`
	CooldownCapSeconds  int `yaml:"cooldown_cap_seconds" validate:"gt=0"`
}

type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type OpsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type DebugConfig struct {
	DumpWavFiles  bool   `yaml:"dump_wav_files"`
	DumpDirectory string `yaml:"dump_directory"`
	LogLevel      string `yaml:"log_level"`
}

// Load reads, env-resolves, and validates the configuration file. Any
// problem is returned as an error so the caller can fail fast before audio
// processing starts.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	// Secrets may live in the environment instead of the file; the env
	// value always wins.
	cfg.Discord.Token, err = resolveSecret(cfg.Discord.Token, "DISCORD_TOKEN")
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = "!"
	}
	if c.LLM.TimeoutMs == 0 {
		c.LLM.TimeoutMs = 20000
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 256
	}
	if c.Prompts.FallbackText == "" {
		c.Prompts.FallbackText = "Something was said, but I lost my train of thought."
	}
	if c.STT.TimeoutMs == 0 {
		c.STT.TimeoutMs = 15000
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.TargetSampleRate == 0 {
		c.Audio.TargetSampleRate = 16000
	}
	if c.Audio.MaxClipSeconds == 0 {
		c.Audio.MaxClipSeconds = 30
	}
	if c.Audio.IdleSessionSeconds == 0 {
		c.Audio.IdleSessionSeconds = 300
	}
	if c.Audio.VADRmsThreshold == 0 {
		c.Audio.VADRmsThreshold = 500
	}
	if c.Connection.CooldownCapSeconds == 0 {
		c.Connection.CooldownCapSeconds = 300
	}
	if c.Dispatcher.Workers == 0 {
		c.Dispatcher.Workers = 2
	}
	if c.Dispatcher.QueueSize == 0 {
		c.Dispatcher.QueueSize = 64
	}
	if c.Ops.ListenAddr == "" {
		c.Ops.ListenAddr = ":8090"
	}
	if c.Debug.LogLevel == "" {
		c.Debug.LogLevel = "info"
	}
	if c.Debug.DumpDirectory == "" {
		c.Debug.DumpDirectory = "clips"
	}
}

// Validate checks struct tags plus the handful of cross-field rules that
// tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.TTS.Engine {
	case "http":
		if strings.TrimSpace(c.TTS.HTTP.URL) == "" {
			return fmt.Errorf("invalid config: tts.http.url required when tts.engine is http")
		}
	case "piper":
		if c.TTS.Piper.ExecutablePath == "" || c.TTS.Piper.ModelPath == "" {
			return fmt.Errorf("invalid config: tts.piper.executable_path and tts.piper.model_path required when tts.engine is piper")
		}
	}
	for group, phrases := range c.FriendlyFireGroups {
		if len(phrases) == 0 {
			return fmt.Errorf("invalid config: friendly_fire_groups.%s is empty", group)
		}
	}
	for id, u := range c.Users {
		if u.FriendlyFireGroup == "" {
			continue
		}
		if _, ok := c.FriendlyFireGroups[u.FriendlyFireGroup]; !ok {
			return fmt.Errorf("invalid config: user %s references unknown friendly_fire_group %q", id, u.FriendlyFireGroup)
		}
	}
	return nil
}

// resolveSecret prefers the environment variable over the config value and
// rejects obvious placeholders left over from the example file.
func resolveSecret(configValue, envVar string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	if configValue == "" || strings.HasPrefix(configValue, "YOUR_") {
		return "", fmt.Errorf("missing required configuration: set %s or fill it in the config file", envVar)
	}
	return configValue, nil
}

// Durations derived from the integer millisecond/second fields. Keeping the
// raw fields integral mirrors the YAML layout; callers want time.Duration.

func (c *AudioConfig) SilenceFinalize() time.Duration {
	return time.Duration(c.SilenceFinalizeMs) * time.Millisecond
}

func (c *AudioConfig) MinClip() time.Duration {
	return time.Duration(c.MinClipSeconds * float64(time.Second))
}

func (c *AudioConfig) MaxClip() time.Duration {
	return time.Duration(c.MaxClipSeconds * float64(time.Second))
}

func (c *AudioConfig) IdleSession() time.Duration {
	return time.Duration(c.IdleSessionSeconds) * time.Second
}

func (c *ConnectionConfig) CooldownBase() time.Duration {
	return time.Duration(c.CooldownBaseSeconds) * time.Second
}

func (c *ConnectionConfig) CooldownCap() time.Duration {
	return time.Duration(c.CooldownCapSeconds) * time.Second
}
