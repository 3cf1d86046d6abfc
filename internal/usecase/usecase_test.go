package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/storyreel/storyreel/internal/domain/captions"
	"github.com/storyreel/storyreel/internal/types"
)

// fakeMedia tracks media operations and propagates probed shapes from
// inputs to outputs, keyed by file base name.
type fakeMedia struct {
	infos map[string]types.MediaInfo

	calls           []string
	muxAudioSeconds float64
	reframeErr      error
	burnErr         error
	failCutStarts   map[float64]bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{infos: map[string]types.MediaInfo{}, failCutStarts: map[float64]bool{}}
}

func (f *fakeMedia) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeMedia) Probe(_ context.Context, path string) (types.MediaInfo, error) {
	info, ok := f.infos[filepath.Base(path)]
	if !ok {
		return types.MediaInfo{}, fmt.Errorf("media unreadable: %s", path)
	}
	return info, nil
}

func (f *fakeMedia) LoopToDuration(_ context.Context, in, out string, s float64) error {
	f.record("loop %s %.1f", filepath.Base(in), s)
	info := f.infos[filepath.Base(in)]
	info.Duration = s
	f.infos[filepath.Base(out)] = info
	return nil
}

func (f *fakeMedia) Trim(_ context.Context, in, out string, s float64) error {
	f.record("trim %s %.1f", filepath.Base(in), s)
	info := f.infos[filepath.Base(in)]
	info.Duration = s
	f.infos[filepath.Base(out)] = info
	return nil
}

func (f *fakeMedia) Concat(_ context.Context, ins []string, out string) error {
	f.record("concat %d", len(ins))
	var total float64
	for _, in := range ins {
		total += f.infos[filepath.Base(in)].Duration
	}
	info := f.infos[filepath.Base(ins[0])]
	info.Duration = total
	f.infos[filepath.Base(out)] = info
	return nil
}

func (f *fakeMedia) Reframe(_ context.Context, in, out string, _ types.MediaInfo) error {
	f.record("reframe %s", filepath.Base(in))
	if f.reframeErr != nil {
		return f.reframeErr
	}
	f.infos[filepath.Base(out)] = types.MediaInfo{
		Duration: f.infos[filepath.Base(in)].Duration,
		Width:    720, Height: 1280, Codec: "h264",
	}
	return nil
}

func (f *fakeMedia) Mux(_ context.Context, video, audio, out string, audioSeconds float64) error {
	f.record("mux %s", filepath.Base(video))
	f.muxAudioSeconds = audioSeconds
	f.infos[filepath.Base(out)] = types.MediaInfo{Duration: audioSeconds, Width: 720, Height: 1280, Codec: "h264"}
	return nil
}

func (f *fakeMedia) BurnCaptions(_ context.Context, in, _, out string) error {
	f.record("burn %s", filepath.Base(in))
	if f.burnErr != nil {
		return f.burnErr
	}
	f.infos[filepath.Base(out)] = f.infos[filepath.Base(in)]
	return nil
}

func (f *fakeMedia) CutSegment(_ context.Context, _, _ string, start, _ float64) error {
	f.record("cut %.1f", start)
	if f.failCutStarts[start] {
		return errors.New("cut failed")
	}
	return nil
}

type fakeSpeech struct{}

func (f *fakeSpeech) Synthesize(_ context.Context, _, outPath string, _ types.VoiceParams) error {
	return os.WriteFile(outPath, []byte("mp3"), 0o644)
}

type fakeFootage struct {
	candidates []types.FootageCandidate
	downloads  int
}

func (f *fakeFootage) Search(_ context.Context, _ string, _ int) ([]types.FootageCandidate, error) {
	return f.candidates, nil
}

func (f *fakeFootage) Download(_ context.Context, c types.FootageCandidate, destDir string) (string, error) {
	f.downloads++
	name := fmt.Sprintf("clip%d.mp4", f.downloads)
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeASR struct{ tr types.Transcript }

func (f *fakeASR) Transcribe(_ context.Context, _, _ string) (types.Transcript, error) {
	return f.tr, nil
}

func testInput(t *testing.T) Input {
	t.Helper()
	return Input{
		StoryDir:   t.TempDir(),
		Story:      types.Story{ID: "s1", SourceID: "src1", Title: "A Title", Text: "A scary story body."},
		Voice:      types.VoiceParams{Voice: "es-ES-AlvaroNeural"},
		Query:      "dark hallway",
		CaptionCfg: captions.DefaultConfig(),
		ScratchDir: t.TempDir(),
	}
}

// One horizontal clip longer than the narration: trim, reframe, mux with
// the exact audio duration.
func TestRunSingleClip(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 30}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 45, Width: 1920, Height: 1080, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	in := testInput(t)
	res, err := u.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if m.muxAudioSeconds != 30 {
		t.Errorf("mux audio seconds = %v, want 30", m.muxAudioSeconds)
	}
	if res.ReframeDegraded {
		t.Error("unexpected degraded reframe")
	}
	if filepath.Base(res.VideoPath) != "video.mp4" {
		t.Errorf("video path = %s", res.VideoPath)
	}
	joined := strings.Join(m.calls, ";")
	if !strings.Contains(joined, "trim clip1.mp4 30.0") {
		t.Errorf("long clip not trimmed: %v", m.calls)
	}
	if !strings.Contains(joined, "reframe") {
		t.Errorf("horizontal footage not reframed: %v", m.calls)
	}
}

// Short clip loops up to the narration length.
func TestRunLoopsShortClip(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 60}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 10, Width: 1920, Height: 1080, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	if _, err := u.Run(context.Background(), testInput(t)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(m.calls, ";"), "loop clip1.mp4 60.0") {
		t.Errorf("short clip not looped: %v", m.calls)
	}
}

// Multi-clip mode concatenates downloads until the narration is covered.
func TestRunMultiClipConcat(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 50}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 20, Width: 1920, Height: 1080, Codec: "h264"}
	m.infos["clip2.mp4"] = types.MediaInfo{Duration: 40, Width: 1920, Height: 1080, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}, {URL: "u2"}, {URL: "u3"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	in := testInput(t)
	in.MultiClip = true
	if _, err := u.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if foot.downloads != 2 {
		t.Errorf("downloads = %d, want 2 (coverage reached)", foot.downloads)
	}
	joined := strings.Join(m.calls, ";")
	if !strings.Contains(joined, "concat 2") {
		t.Errorf("clips not concatenated: %v", m.calls)
	}
	if !strings.Contains(joined, "trim joined.mp4 50.0") {
		t.Errorf("overshooting concat not trimmed: %v", m.calls)
	}
}

// Unprobeable downloads are skipped; the run continues on the next clip.
func TestRunSkipsBadClips(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 20}
	// clip1 has no probe entry and reads as broken; clip2 is fine.
	m.infos["clip2.mp4"] = types.MediaInfo{Duration: 30, Width: 1920, Height: 1080, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "bad"}, {URL: "good"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	if _, err := u.Run(context.Background(), testInput(t)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(m.calls, ";"), "trim clip2.mp4") {
		t.Errorf("good clip not used: %v", m.calls)
	}
}

func TestRunNoUsableFootage(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 20}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "bad1"}, {URL: "bad2"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	_, err := u.Run(context.Background(), testInput(t))
	if !errors.Is(err, ErrNoFootage) {
		t.Errorf("err = %v, want ErrNoFootage", err)
	}
}

// Vertical footage skips the reframe pass entirely.
func TestRunVerticalPassthrough(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 15}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 20, Width: 720, Height: 1280, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	if _, err := u.Run(context.Background(), testInput(t)); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(strings.Join(m.calls, ";"), "reframe") {
		t.Errorf("vertical footage was reframed: %v", m.calls)
	}
}

// A failed reframe degrades to the original framing instead of aborting.
func TestRunReframeDegraded(t *testing.T) {
	m := newFakeMedia()
	m.reframeErr = errors.New("encoder exploded")
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 15}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 20, Width: 1920, Height: 1080, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	res, err := u.Run(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if !res.ReframeDegraded {
		t.Error("degraded flag not set")
	}
	if res.VideoPath == "" {
		t.Error("no video produced in degraded mode")
	}
}

func TestRunTextCaptions(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 15}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 20, Width: 720, Height: 1280, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	in := testInput(t)
	in.CaptionMode = CaptionsText
	res, err := u.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.CaptionsSkipped {
		t.Error("captions skipped for non-empty text")
	}
	if filepath.Base(res.CaptionedPath) != "video_captioned.mp4" {
		t.Errorf("captioned path = %s", res.CaptionedPath)
	}
	if !strings.Contains(strings.Join(m.calls, ";"), "burn video.mp4") {
		t.Errorf("captions not burned: %v", m.calls)
	}
}

// An empty transcript yields no units; the burn is skipped and the plain
// video is the final artifact.
func TestRunEmptyCaptionsSkipBurn(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 15}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 20, Width: 720, Height: 1280, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	in := testInput(t)
	in.CaptionMode = CaptionsSynced
	res, err := u.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !res.CaptionsSkipped {
		t.Error("empty caption set should be skipped")
	}
	if res.CaptionedPath != "" {
		t.Errorf("captioned path = %s, want empty", res.CaptionedPath)
	}
	if strings.Contains(strings.Join(m.calls, ";"), "burn") {
		t.Errorf("burn ran on empty captions: %v", m.calls)
	}
}

// A burn failure after a successful mux degrades to the plain video:
// the run still splits, writes metadata and reports partial success.
func TestRunCaptionFailureDegrades(t *testing.T) {
	m := newFakeMedia()
	m.burnErr = errors.New("subtitle renderer crashed")
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 300}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 400, Width: 720, Height: 1280, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	in := testInput(t)
	in.CaptionMode = CaptionsText
	in.SegmentTarget = 120
	in.SegmentFloor = 60
	res, err := u.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run = %v, want degraded success", err)
	}
	if !res.CaptionsFailed {
		t.Error("CaptionsFailed not set")
	}
	if res.CaptionedPath != "" {
		t.Errorf("captioned path = %q, want empty", res.CaptionedPath)
	}
	if len(res.Segments) != 2 {
		t.Errorf("segments = %v, want 2 (split of the plain video)", res.Segments)
	}
	if _, err := os.Stat(filepath.Join(in.StoryDir, "metadata.json")); err != nil {
		t.Errorf("metadata not written: %v", err)
	}
}

// A 300s video splits into two 150s segments; a failed cut is recorded
// and the other cut still lands.
func TestRunSplitPartialFailure(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 300}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 400, Width: 720, Height: 1280, Codec: "h264"}
	m.failCutStarts[0] = true

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	in := testInput(t)
	in.SegmentTarget = 120
	in.SegmentFloor = 60
	res, err := u.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Segments) != 1 {
		t.Errorf("segments = %v, want 1 surviving cut", res.Segments)
	}
	if len(res.MissingSegments) != 1 || res.MissingSegments[0] != 1 {
		t.Errorf("missing = %v, want [1]", res.MissingSegments)
	}
}

func TestDescribeStoryTruncatesOnRunes(t *testing.T) {
	// 200 multibyte runes with no spaces: truncation must not split a
	// character.
	long := strings.Repeat("é", 200)
	got := describeStory(types.Story{Text: long})
	if !utf8.ValidString(got) {
		t.Errorf("description is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long description not truncated: %q", got)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != 140 {
		t.Errorf("truncated to %d runes, want 140", n)
	}

	short := "a short story"
	if got := describeStory(types.Story{Text: short}); got != short {
		t.Errorf("short description = %q, want unchanged", got)
	}
}

func TestRunWritesMetadata(t *testing.T) {
	m := newFakeMedia()
	m.infos["narration.mp3"] = types.MediaInfo{Duration: 15}
	m.infos["clip1.mp4"] = types.MediaInfo{Duration: 20, Width: 720, Height: 1280, Codec: "h264"}

	foot := &fakeFootage{candidates: []types.FootageCandidate{{URL: "u1"}}}
	u := New(Deps{Media: m, Speech: &fakeSpeech{}, Footage: foot, ASR: &fakeASR{}})

	in := testInput(t)
	if _, err := u.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(in.StoryDir, "metadata.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta types.Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.ID != "s1" || meta.Title != "A Title" {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Video != "video.mp4" {
		t.Errorf("metadata video = %q", meta.Video)
	}
}
