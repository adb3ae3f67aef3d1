package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
discord:
  token: real-token-value
  guild_id: "123"
  voice_channel_id: "456"
llm:
  base_url: http://localhost:8000/v1
  api_key: sk-test
  model: grok-4
  timeout_ms: 10000
  temperature: 0.8
  max_tokens: 200
prompts:
  primary:
    system: be dramatic
    user_template: "announce {speaker_name}"
  alternative:
    system: be gentle
    user_template: "mention {speaker_name}"
  alternative_probability: 30
keyphrases:
  - hot take
  - take
users:
  "111":
    name: Alice
    target_name: Captain
    friendly_fire_group: red
friendly_fire_groups:
  red:
    - take
keyword_victims:
  hot take: Charlie
stt:
  url: http://localhost:9000/transcribe
  language: en
  beam_size: 5
  timeout_ms: 8000
tts:
  engine: http
  http:
    url: http://localhost:5002/synthesize
audio:
  min_clip_seconds: 1.0
  silence_finalize_ms: 300
  preroll_max_chunks: 5
connection:
  max_restart_attempts: 5
  cooldown_base_seconds: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "real-token-value", cfg.Discord.Token)
	assert.Equal(t, []string{"hot take", "take"}, cfg.Keyphrases)
	assert.Equal(t, "Captain", cfg.Users["111"].TargetName)
	assert.Equal(t, 30, cfg.Prompts.AlternativeProbability)
	assert.Equal(t, 300*time.Millisecond, cfg.Audio.SilenceFinalize())
	assert.Equal(t, time.Second, cfg.Audio.MinClip())
	assert.Equal(t, 2*time.Second, cfg.Connection.CooldownBase())

	// defaults applied
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 16000, cfg.Audio.TargetSampleRate)
	assert.Equal(t, 30.0, cfg.Audio.MaxClipSeconds)
	assert.Equal(t, 300*time.Second, cfg.Connection.CooldownCap())
	assert.Equal(t, 2, cfg.Dispatcher.Workers)
	assert.NotEmpty(t, cfg.Prompts.FallbackText)
}

func TestLoadEnvTokenOverride(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Discord.Token)
}

func TestLoadRejectsPlaceholderToken(t *testing.T) {
	path := writeConfig(t, replaceOnce(validYAML, "real-token-value", "YOUR_TOKEN_HERE"))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCORD_TOKEN")
}

func TestLoadRejectsBadAlternativeProbability(t *testing.T) {
	path := writeConfig(t, replaceOnce(validYAML, "alternative_probability: 30", "alternative_probability: 150"))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownTTSEngine(t *testing.T) {
	path := writeConfig(t, replaceOnce(validYAML, "engine: http", "engine: espeak"))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingTTSVariantConfig(t *testing.T) {
	path := writeConfig(t, replaceOnce(validYAML, "    url: http://localhost:5002/synthesize", "    url: \"\""))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tts.http.url")
}

func TestLoadRejectsUnknownFriendlyFireGroupReference(t *testing.T) {
	path := writeConfig(t, replaceOnce(validYAML, "friendly_fire_group: red", "friendly_fire_group: blue"))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "friendly_fire_group")
}

func TestLoadRequiresKeyphrases(t *testing.T) {
	path := writeConfig(t, replaceOnce(validYAML, "keyphrases:\n  - hot take\n  - take", "keyphrases: []"))
	_, err := Load(path)
	require.Error(t, err)
}

func replaceOnce(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}
