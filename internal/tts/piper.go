package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/discord-phrase-bot/internal/config"
	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/voice"
)

// piperEngine runs the piper binary per synthesis call, feeding text on
// stdin and reading WAV from stdout.
type piperEngine struct {
	executable string
	modelPath  string
}

func newPiperEngine(cfg config.PiperConfig) *piperEngine {
	return &piperEngine{
		executable: cfg.ExecutablePath,
		modelPath:  cfg.ModelPath,
	}
}

func (e *piperEngine) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	cmd := exec.CommandContext(ctx, e.executable,
		"--model", e.modelPath,
		"--output_file", "-",
	)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logging.Warnw("piper run failed", "err", err, "stderr", stderr.String())
		return nil, 0, fmt.Errorf("tts: piper: %w", err)
	}
	pcm, rate, err := voice.ParseWAV(stdout.Bytes())
	if err != nil {
		return nil, 0, fmt.Errorf("tts: piper output: %w", err)
	}
	return pcm, rate, nil
}
