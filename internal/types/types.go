package types

// Story is one fetched narration source. ID keys the on-disk story
// directory; SourceID is the upstream post id used for de-duplication.
type Story struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Text     string `json:"-"`
}

type Transcript struct {
	Segments []Segment `json:"segments"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// CaptionUnit is one timed subtitle span. Units in a sequence are
// contiguous: each unit starts where the previous one ended.
type CaptionUnit struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// MediaInfo is the probed shape of a local media file. Width/Height/Codec
// are zero for audio-only inputs.
type MediaInfo struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
}

// Vertical reports whether the first video stream is taller than wide,
// i.e. already fits a 9:16 canvas without reframing.
func (m MediaInfo) Vertical() bool { return m.Height > m.Width }

// FootageCandidate is one downloadable stock clip offered by the footage
// library, already reduced to its best (widest) rendition.
type FootageCandidate struct {
	URL      string
	Width    int
	Height   int
	Duration float64
}

type VoiceParams struct {
	Voice  string `json:"voice"`
	Rate   string `json:"rate"`
	Volume string `json:"volume"`
	Pitch  string `json:"pitch"`
}

// Metadata is the per-story record written next to the produced
// artifacts. Paths are relative to the story directory.
type Metadata struct {
	ID              string      `json:"id"`
	SourceID        string      `json:"source_id,omitempty"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Hashtags        string      `json:"hashtags,omitempty"`
	Voice           VoiceParams `json:"voice"`
	CaptionMode     string      `json:"caption_mode,omitempty"`
	Video           string      `json:"video,omitempty"`
	CaptionedVideo  string      `json:"captioned_video,omitempty"`
	Segments        []string    `json:"segments,omitempty"`
	MissingSegments []int       `json:"missing_segments,omitempty"`
}
