package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyreel/storyreel/internal/pipeline"
)

func runFull(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Stories, _ = cmd.Flags().GetInt("stories")

	if cfg.PexelsAPIKey == "" {
		return errors.New("PEXELS_API_KEY is required (set it in .env)")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	return pipeline.Run(ctx, cfg)
}

func runFetch(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Stories = 1

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	id, err := pipeline.Fetch(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runStage(cmd *cobra.Command, stage, storyID string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Stories = 1

	if stage == pipeline.StageVideo && cfg.PexelsAPIKey == "" {
		return errors.New("PEXELS_API_KEY is required (set it in .env)")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	return pipeline.RunStage(ctx, cfg, stage, storyID)
}

func buildConfig(cmd *cobra.Command) (pipeline.Config, error) {
	f := cmd.Flags()
	library, _ := f.GetString("library")
	subreddit, _ := f.GetString("subreddit")
	query, _ := f.GetString("query")
	multiClip, _ := f.GetBool("multi-clip")
	captionMode, _ := f.GetString("captions")
	voice, _ := f.GetString("voice")
	segment, _ := f.GetInt("segment")
	segmentFloor, _ := f.GetInt("segment-floor")
	stageTimeout, _ := f.GetInt("stage-timeout")

	return pipeline.Config{
		LibraryDir: library,
		Subreddit:  subreddit,
		Stories:    1,

		Query:     query,
		MultiClip: multiClip,

		CaptionMode: captionMode,

		Voice:  voice,
		Rate:   getenvDefault("EDGE_TTS_RATE", "-10%"),
		Volume: getenvDefault("EDGE_TTS_VOLUME", "+10%"),
		Pitch:  getenvDefault("EDGE_TTS_PITCH", "-10Hz"),

		SegmentTarget: float64(segment),
		SegmentFloor:  float64(segmentFloor),

		FFmpegPath:  getenvDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getenvDefault("FFPROBE_PATH", "ffprobe"),
		EdgeTTSBin:  getenvDefault("EDGE_TTS_BIN", "edge-tts"),

		WhisperBin:   getenvDefault("WHISPER_BIN", ".cache/bin/whisper.cpp"),
		WhisperModel: os.Getenv("WHISPER_MODEL"),

		PexelsAPIKey: os.Getenv("PEXELS_API_KEY"),

		DeepSeekAPIKey:    os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekModel:     getenvDefault("DEEPSEEK_MODEL", "deepseek-chat"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getenvDefault("OPENROUTER_MODEL", "deepseek/deepseek-chat"),
		OpenRouterBaseURL: getenvDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),

		StageTimeout: time.Duration(stageTimeout) * time.Second,

		Logf: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
