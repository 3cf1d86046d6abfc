// Package whispercpp transcribes narration audio with the whisper.cpp
// command line tool, feeding the synced caption mode.
package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/storyreel/storyreel/internal/types"
)

type Adapter struct {
	bin          string
	model        string
	stageTimeout time.Duration
}

func New(binPath, modelPath string, stageTimeout time.Duration) *Adapter {
	if stageTimeout <= 0 {
		stageTimeout = 30 * time.Minute
	}
	return &Adapter{bin: binPath, model: modelPath, stageTimeout: stageTimeout}
}

func (a *Adapter) Transcribe(ctx context.Context, audioPath, cacheDir string) (types.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()

	outPrefix := filepath.Join(cacheDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", audioPath,
		"-oj",
		"-of", outPrefix,
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.Transcript{}, fmt.Errorf("read whisper output: %w", err)
	}

	var tr types.Transcript
	if err := json.Unmarshal(jb, &tr); err != nil {
		return types.Transcript{}, fmt.Errorf("parse whisper output: %w", err)
	}
	for i := range tr.Segments {
		tr.Segments[i].Text = strings.TrimSpace(tr.Segments[i].Text)
		for j := range tr.Segments[i].Words {
			tr.Segments[i].Words[j].Word = strings.TrimSpace(tr.Segments[i].Words[j].Word)
		}
	}
	return tr, nil
}
