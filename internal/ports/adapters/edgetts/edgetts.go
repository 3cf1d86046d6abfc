// Package edgetts synthesizes narration with the edge-tts command line
// tool. Text goes through a temp file; inline arguments hit platform
// command length limits on long stories.
package edgetts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/storyreel/storyreel/internal/types"
)

type Synth struct {
	bin          string
	stageTimeout time.Duration
}

func New(bin string, stageTimeout time.Duration) *Synth {
	if bin == "" {
		bin = "edge-tts"
	}
	if stageTimeout <= 0 {
		stageTimeout = 10 * time.Minute
	}
	return &Synth{bin: bin, stageTimeout: stageTimeout}
}

func (s *Synth) Synthesize(ctx context.Context, text, outPath string, v types.VoiceParams) error {
	tmp, err := os.CreateTemp("", "narration-*.txt")
	if err != nil {
		return fmt.Errorf("edge-tts text file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("edge-tts text file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("edge-tts text file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	args := []string{
		"--file", tmp.Name(),
		"--voice", v.Voice,
		"--write-media", outPath,
	}
	if v.Rate != "" {
		args = append(args, "--rate", v.Rate)
	}
	if v.Volume != "" {
		args = append(args, "--volume", v.Volume)
	}
	if v.Pitch != "" {
		args = append(args, "--pitch", v.Pitch)
	}

	cmd := exec.CommandContext(ctx, s.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		return fmt.Errorf("edge-tts: %w\n%s", err, out)
	}
	if st, err := os.Stat(outPath); err != nil || st.Size() == 0 {
		os.Remove(outPath)
		return fmt.Errorf("edge-tts produced no audio at %s", outPath)
	}
	return nil
}
