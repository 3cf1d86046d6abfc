package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/storyreel/storyreel/internal/domain/captions"
	"github.com/storyreel/storyreel/internal/domain/segmentplan"
	"github.com/storyreel/storyreel/internal/ports"
	"github.com/storyreel/storyreel/internal/types"
)

// ErrNoFootage means no downloaded clip survived probing, so there is
// nothing to assemble the video from.
var ErrNoFootage = errors.New("no usable footage")

// Caption modes.
const (
	CaptionsNone   = "none"
	CaptionsText   = "text"
	CaptionsSynced = "synced"
)

type Deps struct {
	Media   ports.MediaTool
	Speech  ports.SpeechSynth
	Footage ports.FootageLibrary
	ASR     ports.Transcriber
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

type Input struct {
	StoryDir    string
	Story       types.Story
	Voice       types.VoiceParams
	Query       string
	MultiClip   bool
	SearchN     int
	CaptionMode string
	CaptionCfg  captions.Config

	SegmentTarget float64
	SegmentFloor  float64

	ScratchDir string
	Logf       func(string, ...any)
}

type Result struct {
	AudioPath       string
	VideoPath       string
	CaptionedPath   string
	Segments        []string
	MissingSegments []int
	ReframeDegraded bool
	CaptionsSkipped bool
	CaptionsFailed  bool
}

func (in Input) logf(format string, args ...any) {
	if in.Logf != nil {
		in.Logf(format, args...)
	}
}

// Run drives the full per-story flow: narrate, assemble footage, mux,
// burn captions, split, write metadata. Caption and split stages are
// skipped when not configured.
func (u Usecase) Run(ctx context.Context, in Input) (Result, error) {
	var res Result

	audio, audioDur, err := u.Narrate(ctx, in)
	if err != nil {
		return res, err
	}
	res.AudioPath = audio

	video, degraded, err := u.AssembleVideo(ctx, in, audio, audioDur)
	if err != nil {
		return res, err
	}
	res.VideoPath = video
	res.ReframeDegraded = degraded

	// The mux already produced a usable video; a caption failure from
	// here degrades to the uncaptioned artifact instead of failing the
	// story.
	captioned, skipped, err := u.Caption(ctx, in, video, audio)
	if err != nil {
		in.logf("captions failed, delivering without captions: %v", err)
		res.CaptionsFailed = true
	} else {
		res.CaptionedPath = captioned
		res.CaptionsSkipped = skipped
	}

	final := video
	if captioned != "" {
		final = captioned
	}
	if in.SegmentTarget > 0 {
		segs, missing, err := u.Split(ctx, in, final)
		if err != nil {
			return res, err
		}
		res.Segments = segs
		res.MissingSegments = missing
	}

	if err := u.writeMetadata(in, res); err != nil {
		return res, err
	}
	return res, nil
}

// Narrate synthesizes the story text and returns the audio path and its
// probed duration. The audio duration is authoritative for every later
// stage.
func (u Usecase) Narrate(ctx context.Context, in Input) (string, float64, error) {
	out := filepath.Join(in.StoryDir, "narration.mp3")
	text := in.Story.Title + ". " + in.Story.Text
	if err := u.d.Speech.Synthesize(ctx, text, out, in.Voice); err != nil {
		return "", 0, fmt.Errorf("narrate: %w", err)
	}
	info, err := u.d.Media.Probe(ctx, out)
	if err != nil {
		return "", 0, fmt.Errorf("narrate: %w", err)
	}
	in.logf("narration ready: %.1fs", info.Duration)
	return out, info.Duration, nil
}

// AssembleVideo builds a silent video covering audioDur seconds from
// stock footage, reframes it to vertical and muxes narration over it.
// Returns the muxed path and whether reframing had to be skipped.
func (u Usecase) AssembleVideo(ctx context.Context, in Input, audio string, audioDur float64) (string, bool, error) {
	clips, covered, err := u.acquireFootage(ctx, in, audioDur)
	if err != nil {
		return "", false, err
	}

	assembled := filepath.Join(in.ScratchDir, "assembled.mp4")
	switch {
	case len(clips) == 1 && clips[0].info.Duration >= audioDur:
		if err := u.d.Media.Trim(ctx, clips[0].path, assembled, audioDur); err != nil {
			return "", false, fmt.Errorf("assemble: %w", err)
		}
	case len(clips) == 1:
		if err := u.d.Media.LoopToDuration(ctx, clips[0].path, assembled, audioDur); err != nil {
			return "", false, fmt.Errorf("assemble: %w", err)
		}
	default:
		joined := filepath.Join(in.ScratchDir, "joined.mp4")
		paths := make([]string, len(clips))
		for i, c := range clips {
			paths[i] = c.path
		}
		if err := u.d.Media.Concat(ctx, paths, joined); err != nil {
			return "", false, fmt.Errorf("assemble: %w", err)
		}
		if covered >= audioDur {
			if err := u.d.Media.Trim(ctx, joined, assembled, audioDur); err != nil {
				return "", false, fmt.Errorf("assemble: %w", err)
			}
		} else {
			if err := u.d.Media.LoopToDuration(ctx, joined, assembled, audioDur); err != nil {
				return "", false, fmt.Errorf("assemble: %w", err)
			}
		}
	}

	framed, degraded, err := u.reframe(ctx, in, assembled)
	if err != nil {
		return "", false, err
	}

	// Stream-copy loops can land short of the target when the source
	// keyframe layout fights -t. Top the video up before muxing so -t on
	// the mux never freezes the last frame.
	info, err := u.d.Media.Probe(ctx, framed)
	if err != nil {
		return "", false, fmt.Errorf("assemble: %w", err)
	}
	if info.Duration < audioDur {
		topped := filepath.Join(in.ScratchDir, "topped.mp4")
		if err := u.d.Media.LoopToDuration(ctx, framed, topped, audioDur); err != nil {
			return "", false, fmt.Errorf("assemble: %w", err)
		}
		framed = topped
	}

	out := filepath.Join(in.StoryDir, "video.mp4")
	if err := u.d.Media.Mux(ctx, framed, audio, out, audioDur); err != nil {
		return "", false, err
	}
	return out, degraded, nil
}

type clip struct {
	path string
	info types.MediaInfo
}

// acquireFootage downloads candidates until audioDur is covered (or one
// clip in single-clip mode). Unprobeable downloads are skipped with a
// warning; zero usable clips is ErrNoFootage.
func (u Usecase) acquireFootage(ctx context.Context, in Input, audioDur float64) ([]clip, float64, error) {
	n := in.SearchN
	if n <= 0 {
		n = 10
	}
	cands, err := u.d.Footage.Search(ctx, in.Query, n)
	if err != nil {
		return nil, 0, fmt.Errorf("footage search: %w", err)
	}

	var clips []clip
	var covered float64
	for _, c := range cands {
		path, err := u.d.Footage.Download(ctx, c, in.ScratchDir)
		if err != nil {
			in.logf("skipping clip %s: download failed: %v", c.URL, err)
			continue
		}
		info, err := u.d.Media.Probe(ctx, path)
		if err != nil {
			in.logf("skipping clip %s: %v", path, err)
			continue
		}
		clips = append(clips, clip{path: path, info: info})
		covered += info.Duration
		if !in.MultiClip || covered >= audioDur {
			break
		}
	}
	if len(clips) == 0 {
		return nil, 0, ErrNoFootage
	}
	return clips, covered, nil
}

// reframe converts the assembled video to the vertical canvas. Already
// vertical footage passes through; a failed reframe degrades to the
// unframed video instead of failing the run.
func (u Usecase) reframe(ctx context.Context, in Input, path string) (string, bool, error) {
	info, err := u.d.Media.Probe(ctx, path)
	if err != nil {
		return "", false, fmt.Errorf("reframe: %w", err)
	}
	if info.Vertical() {
		return path, false, nil
	}
	out := filepath.Join(in.ScratchDir, "framed.mp4")
	if err := u.d.Media.Reframe(ctx, path, out, info); err != nil {
		in.logf("reframe failed, continuing with original framing: %v", err)
		return path, true, nil
	}
	return out, false, nil
}

// Caption derives caption units per the configured mode and burns them
// onto the video. Returns empty path and skipped=true when the mode is
// none or the derived sequence is empty.
func (u Usecase) Caption(ctx context.Context, in Input, video, audio string) (string, bool, error) {
	var units []types.CaptionUnit
	switch in.CaptionMode {
	case CaptionsNone, "":
		return "", true, nil
	case CaptionsText:
		units = captions.SegmentText(in.Story.Title+". "+in.Story.Text, in.CaptionCfg)
	case CaptionsSynced:
		tr, err := u.d.ASR.Transcribe(ctx, audio, in.ScratchDir)
		if err != nil {
			return "", false, fmt.Errorf("captions: %w", err)
		}
		units = captions.FromTranscript(tr)
	default:
		return "", false, fmt.Errorf("captions: unknown mode %q", in.CaptionMode)
	}
	if len(units) == 0 {
		in.logf("no caption units derived, skipping burn")
		return "", true, nil
	}

	assPath := filepath.Join(in.ScratchDir, "captions.ass")
	doc := captions.Render(units, in.CaptionCfg)
	if err := os.WriteFile(assPath, []byte(doc), 0o644); err != nil {
		return "", false, fmt.Errorf("captions: %w", err)
	}

	out := filepath.Join(in.StoryDir, "video_captioned.mp4")
	if err := u.d.Media.BurnCaptions(ctx, video, assPath, out); err != nil {
		return "", false, fmt.Errorf("captions: %w", err)
	}
	return out, false, nil
}

// Split cuts the video into planned segments. A failed cut is logged and
// recorded in the missing list; the remaining cuts still run.
func (u Usecase) Split(ctx context.Context, in Input, video string) ([]string, []int, error) {
	info, err := u.d.Media.Probe(ctx, video)
	if err != nil {
		return nil, nil, fmt.Errorf("split: %w", err)
	}
	plan := segmentplan.Build(info.Duration, in.SegmentTarget, in.SegmentFloor)
	segDir := filepath.Join(in.StoryDir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("split: %w", err)
	}

	var segs []string
	var missing []int
	for i := 0; i < plan.Count; i++ {
		start, dur := plan.Bounds(i)
		out := filepath.Join(segDir, fmt.Sprintf("segment_%d.mp4", i+1))
		if err := u.d.Media.CutSegment(ctx, video, out, start, dur); err != nil {
			in.logf("segment %d failed: %v", i+1, err)
			missing = append(missing, i+1)
			continue
		}
		segs = append(segs, out)
	}
	return segs, missing, nil
}

func (u Usecase) writeMetadata(in Input, res Result) error {
	rel := func(p string) string {
		if p == "" {
			return ""
		}
		r, err := filepath.Rel(in.StoryDir, p)
		if err != nil {
			return p
		}
		return filepath.ToSlash(r)
	}
	m := types.Metadata{
		ID:              in.Story.ID,
		SourceID:        in.Story.SourceID,
		Title:           in.Story.Title,
		Description:     describeStory(in.Story),
		Hashtags:        "#horror #story #scary #creepy",
		Voice:           in.Voice,
		CaptionMode:     in.CaptionMode,
		Video:           rel(res.VideoPath),
		CaptionedVideo:  rel(res.CaptionedPath),
		MissingSegments: res.MissingSegments,
	}
	for _, s := range res.Segments {
		m.Segments = append(m.Segments, rel(s))
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(in.StoryDir, "metadata.json"), b, 0o644)
}

// describeStory builds a short teaser from the opening of the story.
// Truncation counts runes so multibyte text never splits mid-character.
func describeStory(s types.Story) string {
	runes := []rune(s.Text)
	if len(runes) <= 140 {
		return s.Text
	}
	cut := string(runes[:140])
	if i := lastSpace(cut); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}
