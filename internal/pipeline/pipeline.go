package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/storyreel/storyreel/internal/domain/captions"
	"github.com/storyreel/storyreel/internal/ports"
	"github.com/storyreel/storyreel/internal/ports/adapters/edgetts"
	"github.com/storyreel/storyreel/internal/ports/adapters/ffmpeg"
	"github.com/storyreel/storyreel/internal/ports/adapters/llmchat"
	"github.com/storyreel/storyreel/internal/ports/adapters/pexels"
	"github.com/storyreel/storyreel/internal/ports/adapters/reddit"
	"github.com/storyreel/storyreel/internal/ports/adapters/whispercpp"
	"github.com/storyreel/storyreel/internal/store"
	"github.com/storyreel/storyreel/internal/types"
	"github.com/storyreel/storyreel/internal/usecase"
)

type Config struct {
	// LibraryDir is the root for per-story output directories. Defaults
	// to "library". IndexPath is the seen-story database, defaulting to
	// <LibraryDir>/seen.db.
	LibraryDir string
	IndexPath  string

	Subreddit string
	Stories   int

	// Query overrides the footage search query. When empty the query is
	// derived from the story's most frequent keywords.
	Query     string
	MultiClip bool

	CaptionMode string

	Voice  string
	Rate   string
	Volume string
	Pitch  string

	SegmentTarget float64
	SegmentFloor  float64

	FFmpegPath  string
	FFprobePath string
	EdgeTTSBin  string

	WhisperBin   string
	WhisperModel string

	PexelsAPIKey string

	DeepSeekAPIKey    string
	DeepSeekModel     string
	DeepSeekBaseURL   string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string

	StageTimeout time.Duration

	Logf func(format string, args ...any)
}

func (c Config) Validate() error {
	if c.Stories <= 0 {
		return errors.New("stories must be > 0")
	}
	if c.Subreddit == "" {
		return errors.New("subreddit is empty")
	}
	if c.Voice == "" {
		return errors.New("voice is empty")
	}
	switch c.CaptionMode {
	case "", usecase.CaptionsNone, usecase.CaptionsText:
	case usecase.CaptionsSynced:
		if c.WhisperModel == "" {
			return errors.New("synced captions need a whisper model path")
		}
	default:
		return fmt.Errorf("unknown caption mode %q", c.CaptionMode)
	}
	if c.SegmentTarget > 0 && c.SegmentFloor > c.SegmentTarget {
		return errors.New("segment floor must be <= segment target")
	}
	return nil
}

// validateFootage holds the requirements only footage-producing stages
// have; fetch, narrate, captions and split run without a Pexels key.
func (c Config) validateFootage() error {
	if c.PexelsAPIKey == "" {
		return errors.New("pexels api key is required")
	}
	return nil
}

// Run processes cfg.Stories stories back to back. A story failure is
// logged and the loop moves on; Run only errors when no story succeeds.
func Run(ctx context.Context, cfg Config) error {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if err := cfg.validateFootage(); err != nil {
		return err
	}

	env, err := newEnv(cfg, logf)
	if err != nil {
		return err
	}
	defer env.Close()

	var done int
	var lastErr error
	for i := 0; i < cfg.Stories; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := env.processStory(ctx); err != nil {
			logf("story %d/%d failed: %v", i+1, cfg.Stories, err)
			lastErr = err
			continue
		}
		done++
	}
	if done == 0 {
		return fmt.Errorf("no story processed: %w", lastErr)
	}
	logf("processed %d/%d stories", done, cfg.Stories)
	return nil
}

// env bundles the wired adapters for one invocation.
type env struct {
	cfg   Config
	logf  func(string, ...any)
	index *store.Index
	src   ports.StorySource
	rew   ports.Rewriter
	media ports.MediaTool
	uc    usecase.Usecase
}

func newEnv(cfg Config, logf func(string, ...any)) (*env, error) {
	libDir := cfg.LibraryDir
	if libDir == "" {
		libDir = "library"
	}
	cfg.LibraryDir = libDir
	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(libDir, "seen.db")
	}
	index, err := store.Open(indexPath)
	if err != nil {
		return nil, err
	}

	media := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath, cfg.StageTimeout)
	speech := edgetts.New(cfg.EdgeTTSBin, cfg.StageTimeout)
	footage := pexels.New(cfg.PexelsAPIKey)
	asr := whispercpp.New(cfg.WhisperBin, cfg.WhisperModel, cfg.StageTimeout)

	var provs []*llmchat.Provider
	if cfg.DeepSeekAPIKey != "" {
		base := cfg.DeepSeekBaseURL
		if base == "" {
			base = "https://api.deepseek.com"
		}
		model := cfg.DeepSeekModel
		if model == "" {
			model = "deepseek-chat"
		}
		provs = append(provs, llmchat.NewProvider(base, cfg.DeepSeekAPIKey, model))
	}
	if cfg.OpenRouterAPIKey != "" {
		base := cfg.OpenRouterBaseURL
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		model := cfg.OpenRouterModel
		if model == "" {
			model = "deepseek/deepseek-chat"
		}
		provs = append(provs, llmchat.NewProvider(base, cfg.OpenRouterAPIKey, model))
	}

	return &env{
		cfg:   cfg,
		logf:  logf,
		index: index,
		src:   reddit.New(cfg.Subreddit),
		rew:   llmchat.NewChain(logf, provs...),
		media: media,
		uc: usecase.New(usecase.Deps{
			Media:   media,
			Speech:  speech,
			Footage: footage,
			ASR:     asr,
		}),
	}, nil
}

func (e *env) Close() { e.index.Close() }

func (e *env) processStory(ctx context.Context) error {
	story, err := e.src.Fetch(ctx, e.index)
	if err != nil {
		return err
	}
	e.logf("fetched %q (%s)", story.Title, story.SourceID)
	if err := e.index.MarkSeen(ctx, story.SourceID, story.Title); err != nil {
		return err
	}

	story = e.rewrite(ctx, story)
	story.Text = cleanNarration(story.Text)

	storyDir := filepath.Join(e.cfg.LibraryDir, story.ID)
	if err := os.MkdirAll(storyDir, 0o755); err != nil {
		return err
	}
	if err := writeStoryFile(storyDir, story); err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "storyreel-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	res, err := e.uc.Run(ctx, e.input(story, storyDir, scratch))
	if err != nil {
		return err
	}
	if res.ReframeDegraded {
		e.logf("warning: %s delivered without vertical reframe", story.ID)
	}
	if res.CaptionsFailed {
		e.logf("warning: %s delivered without captions", story.ID)
	}
	if len(res.MissingSegments) > 0 {
		e.logf("warning: %s missing segments %v", story.ID, res.MissingSegments)
	}
	e.logf("story %s done: %s", story.ID, res.VideoPath)
	return nil
}

// rewrite runs the provider chain and falls back to the original text
// when every provider fails.
func (e *env) rewrite(ctx context.Context, story types.Story) types.Story {
	title, text, err := e.rew.Rewrite(ctx, story.Title, story.Text)
	if err != nil {
		e.logf("rewrite unavailable, narrating original text: %v", err)
		return story
	}
	if title != "" {
		story.Title = title
	}
	story.Text = text
	return story
}

func (e *env) input(story types.Story, storyDir, scratch string) usecase.Input {
	query := e.cfg.Query
	if query == "" {
		query = footageQuery(story)
	}
	return usecase.Input{
		StoryDir:      storyDir,
		Story:         story,
		Voice:         e.voice(),
		Query:         query,
		MultiClip:     e.cfg.MultiClip,
		CaptionMode:   e.cfg.CaptionMode,
		CaptionCfg:    captions.DefaultConfig(),
		SegmentTarget: e.cfg.SegmentTarget,
		SegmentFloor:  e.cfg.SegmentFloor,
		ScratchDir:    scratch,
		Logf:          e.logf,
	}
}

func (e *env) voice() types.VoiceParams {
	return types.VoiceParams{
		Voice:  e.cfg.Voice,
		Rate:   e.cfg.Rate,
		Volume: e.cfg.Volume,
		Pitch:  e.cfg.Pitch,
	}
}

// Fetch pulls one unseen story, rewrites it and writes the story
// directory, leaving media stages for later invocations. Returns the new
// story id.
func Fetch(ctx context.Context, cfg Config) (string, error) {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	env, err := newEnv(cfg, logf)
	if err != nil {
		return "", err
	}
	defer env.Close()

	story, err := env.src.Fetch(ctx, env.index)
	if err != nil {
		return "", err
	}
	logf("fetched %q (%s)", story.Title, story.SourceID)
	if err := env.index.MarkSeen(ctx, story.SourceID, story.Title); err != nil {
		return "", err
	}

	story = env.rewrite(ctx, story)
	story.Text = cleanNarration(story.Text)

	storyDir := filepath.Join(env.cfg.LibraryDir, story.ID)
	if err := os.MkdirAll(storyDir, 0o755); err != nil {
		return "", err
	}
	if err := writeStoryFile(storyDir, story); err != nil {
		return "", err
	}
	logf("story written: %s", storyDir)
	return story.ID, nil
}

// Stage names accepted by RunStage.
const (
	StageNarrate  = "narrate"
	StageVideo    = "video"
	StageCaptions = "captions"
	StageSplit    = "split"
)

// Splitting defaults used when the split stage runs without an explicit
// target.
const (
	defaultSegmentTarget = 120
	defaultSegmentFloor  = 60
)

// withSplitDefaults fills in segment parameters for a standalone split,
// where target 0 means "use the defaults" rather than "skip splitting".
func withSplitDefaults(in usecase.Input) usecase.Input {
	if in.SegmentTarget <= 0 {
		in.SegmentTarget = defaultSegmentTarget
	}
	if in.SegmentFloor <= 0 {
		in.SegmentFloor = defaultSegmentFloor
	}
	return in
}

// RunStage re-runs a single stage for an existing story directory, so a
// failed step can be retried without repeating the whole pipeline.
func RunStage(ctx context.Context, cfg Config, stage, storyID string) error {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if stage == StageVideo {
		if err := cfg.validateFootage(); err != nil {
			return err
		}
	}
	env, err := newEnv(cfg, logf)
	if err != nil {
		return err
	}
	defer env.Close()

	storyDir := filepath.Join(env.cfg.LibraryDir, storyID)
	story, err := readStoryFile(storyDir)
	if err != nil {
		return err
	}
	story.ID = storyID

	scratch, err := os.MkdirTemp("", "storyreel-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	in := env.input(story, storyDir, scratch)
	audio := filepath.Join(storyDir, "narration.mp3")
	video := filepath.Join(storyDir, "video.mp4")

	switch stage {
	case StageNarrate:
		_, _, err = env.uc.Narrate(ctx, in)
		return err
	case StageVideo:
		dur, err := probeDuration(ctx, env, audio)
		if err != nil {
			return err
		}
		_, degraded, err := env.uc.AssembleVideo(ctx, in, audio, dur)
		if degraded {
			logf("warning: delivered without vertical reframe")
		}
		return err
	case StageCaptions:
		_, skipped, err := env.uc.Caption(ctx, in, video, audio)
		if skipped {
			logf("no captions to burn")
		}
		return err
	case StageSplit:
		src := video
		if captioned := filepath.Join(storyDir, "video_captioned.mp4"); fileExists(captioned) {
			src = captioned
		}
		segs, missing, err := env.uc.Split(ctx, withSplitDefaults(in), src)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			logf("warning: missing segments %v", missing)
		}
		logf("%d segments written", len(segs))
		return nil
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func probeDuration(ctx context.Context, e *env, path string) (float64, error) {
	info, err := e.media.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// writeStoryFile stores the narration source as title, blank line, body.
func writeStoryFile(dir string, s types.Story) error {
	content := s.Title + "\n\n" + s.Text + "\n"
	return os.WriteFile(filepath.Join(dir, "story.txt"), []byte(content), 0o644)
}

func readStoryFile(dir string) (types.Story, error) {
	b, err := os.ReadFile(filepath.Join(dir, "story.txt"))
	if err != nil {
		return types.Story{}, fmt.Errorf("read story: %w", err)
	}
	title, body, _ := strings.Cut(strings.TrimSpace(string(b)), "\n")
	return types.Story{
		Title: strings.TrimSpace(title),
		Text:  strings.TrimSpace(body),
	}, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Size() > 0
}

// footageQuery derives a stock search query from the story's most
// frequent meaningful words, falling back to a generic mood query.
func footageQuery(s types.Story) string {
	kws := keywords(s.Title+" "+s.Text, 3)
	if len(kws) == 0 {
		return "dark night atmosphere"
	}
	return strings.Join(kws, " ")
}

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "was": true, "for": true,
	"with": true, "this": true, "have": true, "but": true, "not": true,
	"you": true, "his": true, "her": true, "she": true, "him": true,
	"they": true, "them": true, "had": true, "were": true, "are": true,
	"from": true, "when": true, "what": true, "there": true, "been": true,
	"would": true, "could": true, "into": true, "then": true, "all": true,
	"out": true, "about": true, "just": true, "like": true, "one": true,
	"where": true, "because": true, "didn": true, "don": true, "wasn": true,
}

// keywords returns the n most frequent non-stopword tokens of at least
// four letters, most frequent first, ties broken alphabetically.
func keywords(text string, n int) []string {
	counts := map[string]int{}
	var word strings.Builder
	flush := func() {
		w := word.String()
		word.Reset()
		if len(w) < 4 || stopwords[w] {
			return
		}
		counts[w]++
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

// cleanNarration strips formatting the rewriter may leak into text that
// is read aloud.
func cleanNarration(text string) string {
	r := strings.NewReplacer(
		"**", "",
		"*", "",
		"_", " ",
		"#", "",
		"`", "",
		"&amp;", "and",
		"&#x200B;", " ",
	)
	text = r.Replace(text)
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" && len(out) > 0 && out[len(out)-1] == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// ensure adapters implement ports
var _ ports.MediaTool = (*ffmpeg.Adapter)(nil)
var _ ports.SpeechSynth = (*edgetts.Synth)(nil)
var _ ports.FootageLibrary = (*pexels.Library)(nil)
var _ ports.Transcriber = (*whispercpp.Adapter)(nil)
var _ ports.StorySource = (*reddit.Source)(nil)
var _ ports.Rewriter = (*llmchat.Chain)(nil)
var _ ports.SeenIndex = (*store.Index)(nil)
