package tts

import (
	"context"
	"fmt"

	"github.com/discord-phrase-bot/internal/config"
)

// Engine is a speech synthesis backend. Implementations return mono 16-bit
// PCM at the engine's native rate; callers resample for playback.
type Engine interface {
	Synthesize(ctx context.Context, text string) (pcm []int16, sampleRate int, err error)
}

// NewEngine builds the configured backend. Unknown engine names fail
// construction so a typo in the config surfaces at startup, not on the
// first playback.
func NewEngine(cfg config.TTSConfig) (Engine, error) {
	switch cfg.Engine {
	case "http":
		return newHTTPEngine(cfg.HTTP), nil
	case "piper":
		return newPiperEngine(cfg.Piper), nil
	default:
		return nil, fmt.Errorf("tts: unknown engine %q", cfg.Engine)
	}
}
