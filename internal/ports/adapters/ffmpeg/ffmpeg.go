package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/storyreel/storyreel/internal/types"
)

var (
	// ErrMediaUnreadable marks probe failures: missing, empty or
	// unparseable files. Fatal for the calling stage.
	ErrMediaUnreadable = errors.New("media unreadable")
	// ErrMuxFailed marks a mux that failed both the primary attempt and the
	// conservative retry.
	ErrMuxFailed = errors.New("mux failed")
)

type Adapter struct {
	ffmpeg  string
	ffprobe string

	// Output canvas for Reframe.
	width  int
	height int

	// Upper bound for a single external command. Transcodes on long
	// narrations are slow but bounded; a hung ffmpeg must not hang the run.
	stageTimeout time.Duration
}

func New(ffmpegPath, ffprobePath string, stageTimeout time.Duration) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if stageTimeout <= 0 {
		stageTimeout = 15 * time.Minute
	}
	return &Adapter{
		ffmpeg:       ffmpegPath,
		ffprobe:      ffprobePath,
		width:        720,
		height:       1280,
		stageTimeout: stageTimeout,
	}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (a *Adapter) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return types.MediaInfo{}, fmt.Errorf("%w: %s: %v", ErrMediaUnreadable, path, err)
	}
	if st.Size() == 0 {
		return types.MediaInfo{}, fmt.Errorf("%w: %s: empty file", ErrMediaUnreadable, path)
	}

	ctx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return types.MediaInfo{}, fmt.Errorf("%w: %s: %v\n%s", ErrMediaUnreadable, path, err, string(b))
	}

	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return types.MediaInfo{}, fmt.Errorf("%w: %s: parse ffprobe output: %v", ErrMediaUnreadable, path, err)
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || sec < 0 {
		return types.MediaInfo{}, fmt.Errorf("%w: %s: bad duration %q", ErrMediaUnreadable, path, out.Format.Duration)
	}

	info := types.MediaInfo{Duration: sec}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			break
		}
	}
	return info, nil
}

func (a *Adapter) LoopToDuration(ctx context.Context, in, out string, seconds float64) error {
	return a.run(ctx, "loop",
		"-y",
		"-stream_loop", "-1",
		"-i", in,
		"-t", fmtSeconds(seconds),
		"-c", "copy",
		out,
	)
}

func (a *Adapter) Trim(ctx context.Context, in, out string, seconds float64) error {
	return a.run(ctx, "trim",
		"-y",
		"-i", in,
		"-t", fmtSeconds(seconds),
		"-c", "copy",
		out,
	)
}

func (a *Adapter) Concat(ctx context.Context, ins []string, out string) error {
	if len(ins) == 0 {
		return errors.New("concat: no inputs")
	}
	if len(ins) == 1 {
		info, err := a.Probe(ctx, ins[0])
		if err != nil {
			return err
		}
		return a.Trim(ctx, ins[0], out, info.Duration)
	}

	homogeneous := true
	var first types.MediaInfo
	for i, in := range ins {
		info, err := a.Probe(ctx, in)
		if err != nil {
			return err
		}
		if i == 0 {
			first = info
			continue
		}
		if info.Codec != first.Codec || info.Width != first.Width || info.Height != first.Height {
			homogeneous = false
		}
	}

	if homogeneous {
		return a.concatCopy(ctx, ins, out)
	}
	return a.concatEncode(ctx, ins, out)
}

// concatCopy uses the concat demuxer: fast, no quality loss, but only
// valid when every input shares codec parameters.
func (a *Adapter) concatCopy(ctx context.Context, ins []string, out string) error {
	list := out + ".list.txt"
	var b strings.Builder
	for _, in := range ins {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(in, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("concat list: %w", err)
	}
	defer os.Remove(list)

	return a.run(ctx, "concat",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list,
		"-c", "copy",
		out,
	)
}

// concatEncode normalizes heterogeneous clips through the concat filter.
// Audio is dropped; narration replaces it downstream anyway.
func (a *Adapter) concatEncode(ctx context.Context, ins []string, out string) error {
	args := []string{"-y"}
	for _, in := range ins {
		args = append(args, "-i", in)
	}

	var f strings.Builder
	for i := range ins {
		fmt.Fprintf(&f, "[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=30[v%d];",
			i, a.width, a.height, a.width, a.height, i)
	}
	for i := range ins {
		fmt.Fprintf(&f, "[v%d]", i)
	}
	fmt.Fprintf(&f, "concat=n=%d:v=1:a=0[v]", len(ins))

	args = append(args,
		"-filter_complex", f.String(),
		"-map", "[v]",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-an",
		out,
	)
	return a.run(ctx, "concat", args...)
}

// Reframe converts in to the vertical canvas: centered 9:16 crop, then
// scale-to-fit and letterbox pad. Callers skip this for already-vertical
// sources.
func (a *Adapter) Reframe(ctx context.Context, in, out string, g types.MediaInfo) error {
	return a.run(ctx, "reframe",
		"-y",
		"-i", in,
		"-vf", a.reframeFilter(g),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		out,
	)
}

// reframeFilter builds the filter chain for one source geometry. When
// the centered 9:16 crop window would reach or exceed the source width
// the crop is dropped and only scale+pad applies.
func (a *Adapter) reframeFilter(g types.MediaInfo) string {
	cropW := g.Height * a.width / a.height
	cropX := g.Width/2 - cropW/2
	if cropX < 0 {
		cropX = 0
	}

	scalePad := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		a.width, a.height, a.width, a.height)
	if cropW >= g.Width || cropW <= 0 {
		return scalePad
	}
	return fmt.Sprintf("crop=%d:%d:%d:0,%s", cropW, g.Height, cropX, scalePad)
}

func (a *Adapter) Mux(ctx context.Context, video, audio, out string, audioSeconds float64) error {
	primary := []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", "medium",
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", fmtSeconds(audioSeconds),
		out,
	}
	err := a.run(ctx, "mux", primary...)
	if err == nil {
		return nil
	}
	os.Remove(out)

	// Conservative retry: baseline profile and yuv420p survive inputs the
	// default parameters choke on.
	fallback := []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-t", fmtSeconds(audioSeconds),
		out,
	}
	if ferr := a.run(ctx, "mux fallback", fallback...); ferr != nil {
		os.Remove(out)
		return fmt.Errorf("%w: %v (after primary attempt: %v)", ErrMuxFailed, ferr, err)
	}
	return nil
}

func (a *Adapter) BurnCaptions(ctx context.Context, in, assPath, out string) error {
	return a.run(ctx, "burn captions",
		"-y",
		"-i", in,
		"-vf", "ass="+escapeFilterPath(assPath),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "copy",
		out,
	)
}

func (a *Adapter) CutSegment(ctx context.Context, in, out string, start, seconds float64) error {
	return a.run(ctx, "cut segment",
		"-y",
		"-i", in,
		"-ss", fmtSeconds(start),
		"-t", fmtSeconds(seconds),
		"-c", "copy",
		out,
	)
}

func (a *Adapter) run(ctx context.Context, op string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w\n%s", op, err, tail(string(b), 2000))
	}
	return nil
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	return p
}

// tail keeps error messages useful without dumping megabytes of encoder
// logs into wrapped errors.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
