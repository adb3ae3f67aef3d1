package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/discord-phrase-bot/internal/config"
	"github.com/discord-phrase-bot/internal/discord"
	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/ops"
	"github.com/discord-phrase-bot/internal/respond"
	"github.com/discord-phrase-bot/internal/stt"
	"github.com/discord-phrase-bot/internal/tts"
	"github.com/discord-phrase-bot/internal/voice"
	"github.com/discord-phrase-bot/llm"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("")
		logging.FatalExitf("config load failed: %v", err)
	}
	logging.Init(cfg.Debug.LogLevel)
	defer logging.Sync()

	adapter, err := discord.NewAdapter(cfg.Discord)
	if err != nil {
		logging.FatalExitf("discord adapter: %v", err)
	}

	sttClient, err := stt.New(stt.Config{
		URL:               cfg.STT.URL,
		Language:          cfg.STT.Language,
		BeamSize:          cfg.STT.BeamSize,
		VADFilter:         cfg.STT.VADFilter,
		RepetitionPenalty: cfg.STT.RepetitionPenalty,
		InitialPrompt:     cfg.STT.InitialPrompt,
		Timeout:           time.Duration(cfg.STT.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		logging.FatalExitf("stt client: %v", err)
	}

	ttsEngine, err := tts.NewEngine(cfg.TTS)
	if err != nil {
		logging.FatalExitf("tts engine: %v", err)
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
	})
	generator := respond.NewGenerator(cfg.Prompts, cfg.LLM, llmClient, nil)

	supervisor := voice.NewSupervisor(voice.SupervisorConfig{
		MaxAttempts:  cfg.Connection.MaxRestartAttempts,
		CooldownBase: cfg.Connection.CooldownBase(),
		CooldownCap:  cfg.Connection.CooldownCap(),
	}, adapter)

	users := make(map[string]voice.UserMapping, len(cfg.Users))
	for id, u := range cfg.Users {
		users[id] = voice.UserMapping{
			Name:              u.Name,
			TargetName:        u.TargetName,
			FriendlyFireGroup: u.FriendlyFireGroup,
		}
	}
	matcher := voice.NewMatcher(voice.MatcherConfig{
		Keyphrases:         cfg.Keyphrases,
		Users:              users,
		FriendlyFireGroups: cfg.FriendlyFireGroups,
		KeywordVictims:     cfg.KeywordVictims,
	})

	sequencer := voice.NewSequencer(voice.SequencerConfig{}, ttsEngine, adapter, supervisor.Connected)

	var sink *voice.ClipSink
	if cfg.Debug.DumpWavFiles {
		sink = voice.NewClipSink(cfg.Debug.DumpDirectory)
	}

	var opsServer *ops.Server
	var observer voice.PipelineObserver
	if cfg.Ops.Enabled {
		opsServer = ops.NewServer(cfg.Ops.ListenAddr)
		observer = opsServer
	}

	var pipeline *voice.Pipeline
	dispatcher := voice.NewDispatcher(voice.DispatcherConfig{
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
	}, sttClient, func(t voice.Transcript) { pipeline.HandleTranscript(t) }, supervisor.Connected)

	router := voice.NewRouter(voice.RouterConfig{
		Segmenter: voice.SegmenterConfig{
			SampleRate:      cfg.Audio.SampleRate,
			TargetRate:      cfg.Audio.TargetSampleRate,
			MinClip:         cfg.Audio.MinClip(),
			MaxClip:         cfg.Audio.MaxClip(),
			SilenceFinalize: cfg.Audio.SilenceFinalize(),
			PrerollChunks:   cfg.Audio.PrerollMaxChunks,
			VADThreshold:    cfg.Audio.VADRmsThreshold,
		},
		IdleSession: cfg.Audio.IdleSession(),
	}, func(clip *voice.AudioClip) { pipeline.HandleClip(clip) }, supervisor.Connected)

	pipeline = voice.NewPipeline(voice.PipelineDeps{
		Router:     router,
		Dispatcher: dispatcher,
		Matcher:    matcher,
		Responder:  generator,
		Sequencer:  sequencer,
		Sink:       sink,
		Observer:   observer,
	}, supervisor.NotifyDisconnect)
	adapter.SetHandler(pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(ctx) })
	g.Go(func() error { return supervisor.Run(ctx) })
	if opsServer != nil {
		g.Go(func() error { return opsServer.Run(ctx) })
	}
	if sink != nil {
		g.Go(func() error {
			sink.RunCleaner(ctx, 24*time.Hour, 10*time.Minute, 500)
			return nil
		})
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			logging.Infow("shutdown signal received")
			cancel()
			return nil
		}
	})

	err = g.Wait()
	if cerr := adapter.Close(); cerr != nil {
		logging.Warnw("discord close error", "err", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, voice.ErrRestartsExhausted) {
			logging.FatalExitf("voice connection permanently lost")
		}
		logging.FatalExitf("pipeline failed: %v", err)
	}
	logging.Infow("shutdown complete")
}
