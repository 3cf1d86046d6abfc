package ports

import (
	"context"

	"github.com/storyreel/storyreel/internal/types"
)

// MediaTool is the low-level media command surface (ffmpeg/ffprobe).
// Assembly, mux and split policy live in the usecase; adapters only run
// single commands.
type MediaTool interface {
	// Probe returns duration and, for video inputs, first-stream geometry.
	Probe(ctx context.Context, path string) (types.MediaInfo, error)
	// LoopToDuration repeats in until the output covers seconds, stream copy.
	LoopToDuration(ctx context.Context, in, out string, seconds float64) error
	// Trim cuts in down to seconds from the start, stream copy.
	Trim(ctx context.Context, in, out string, seconds float64) error
	// Concat joins ins in order. Stream copy when the inputs share codec and
	// geometry, re-encode otherwise.
	Concat(ctx context.Context, ins []string, out string) error
	// Reframe crops/scales/pads in to the vertical target canvas.
	Reframe(ctx context.Context, in, out string, g types.MediaInfo) error
	// Mux combines silent video with narration audio; the output duration is
	// exactly audioSeconds. A failed attempt is retried once with
	// conservative encoding parameters; no partial output survives failure.
	Mux(ctx context.Context, video, audio, out string, audioSeconds float64) error
	// BurnCaptions renders the ASS subtitle file onto the video frames.
	BurnCaptions(ctx context.Context, in, assPath, out string) error
	// CutSegment stream-copies [start, start+seconds) of in.
	CutSegment(ctx context.Context, in, out string, start, seconds float64) error
}

// SeenIndex is the persisted set of already-processed source story ids.
type SeenIndex interface {
	Seen(ctx context.Context, sourceID string) (bool, error)
	MarkSeen(ctx context.Context, sourceID, title string) error
}

type StorySource interface {
	// Fetch returns the first story not present in seen. Implementations
	// skip entries with empty bodies.
	Fetch(ctx context.Context, seen SeenIndex) (types.Story, error)
}

// Rewriter improves story title and body for narration. Implementations
// may fail; callers are expected to degrade to the original text.
type Rewriter interface {
	Rewrite(ctx context.Context, title, text string) (newTitle, newText string, err error)
}

type SpeechSynth interface {
	Synthesize(ctx context.Context, text, outPath string, v types.VoiceParams) error
}

type FootageLibrary interface {
	Search(ctx context.Context, query string, limit int) ([]types.FootageCandidate, error)
	// Download streams a candidate into destDir and returns the local path.
	Download(ctx context.Context, c types.FootageCandidate, destDir string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, cacheDir string) (types.Transcript, error)
}
