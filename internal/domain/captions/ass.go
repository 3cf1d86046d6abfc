package captions

import (
	"fmt"
	"strings"

	"github.com/storyreel/storyreel/internal/types"
)

// ASS geometry matches the 720x1280 output canvas. MarginV anchors the
// caption block around 65% of the frame height; BorderStyle 3 draws a
// semi-opaque plate behind the text.
const assHeader = `[Script Info]
ScriptType: v4.00+
PlayResX: 720
PlayResY: 1280
WrapStyle: 2
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Caption,Arial,44,&H00FFFFFF,&H00FFFFFF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,3,2,0,2,40,40,448,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// Render produces a complete ASS document for the given caption units.
// Returns the empty string for an empty sequence.
func Render(units []types.CaptionUnit, cfg Config) string {
	if len(units) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(assHeader)
	for _, u := range units {
		lines := wrapLines(sanitize(u.Text), cfg.WrapColumns)
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Caption,,0,0,0,,%s\n",
			assTime(u.Start), assTime(u.End), strings.Join(lines, `\N`))
	}
	return b.String()
}

// wrapLines greedily packs words into lines of at most cols characters.
// A single word longer than cols gets its own line.
func wrapLines(text string, cols int) []string {
	if cols <= 0 {
		return []string{text}
	}
	var lines []string
	var cur strings.Builder
	for _, w := range strings.Fields(text) {
		if cur.Len() == 0 {
			cur.WriteString(w)
			continue
		}
		if cur.Len()+1+len(w) > cols {
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(w)
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

// sanitize strips characters that ASS treats as override syntax.
func sanitize(text string) string {
	r := strings.NewReplacer("{", "", "}", "", "\\", "", "\n", " ")
	return r.Replace(text)
}

// assTime formats seconds as H:MM:SS.CC, centisecond precision.
func assTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	cs := int(sec*100 + 0.5)
	h := cs / 360000
	cs -= h * 360000
	m := cs / 6000
	cs -= m * 6000
	s := cs / 100
	cs -= s * 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}
