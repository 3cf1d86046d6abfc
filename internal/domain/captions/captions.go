package captions

import (
	"strings"

	"github.com/storyreel/storyreel/internal/types"
)

// Config holds the timing heuristics for text-derived captions.
type Config struct {
	SecondsPerWord  float64
	MinUnitSeconds  float64
	MaxUnitSeconds  float64
	MaxWordsPerUnit int
	WrapColumns     int
}

func DefaultConfig() Config {
	return Config{
		SecondsPerWord:  0.3,
		MinUnitSeconds:  2,
		MaxUnitSeconds:  5,
		MaxWordsPerUnit: 15,
		WrapColumns:     30,
	}
}

// SegmentText splits narration text into timed caption units. Sentences
// split on terminal punctuation, long sentences chunk to MaxWordsPerUnit
// words, and each unit runs clamp(words*SecondsPerWord, Min, Max) seconds.
// Units are contiguous from zero. Empty or whitespace text yields nil.
func SegmentText(text string, cfg Config) []types.CaptionUnit {
	var units []types.CaptionUnit
	cursor := 0.0
	for _, sentence := range splitSentences(text) {
		words := strings.Fields(sentence)
		for len(words) > 0 {
			n := len(words)
			if n > cfg.MaxWordsPerUnit {
				n = cfg.MaxWordsPerUnit
			}
			chunk := words[:n]
			words = words[n:]

			dur := float64(len(chunk)) * cfg.SecondsPerWord
			if dur < cfg.MinUnitSeconds {
				dur = cfg.MinUnitSeconds
			}
			if dur > cfg.MaxUnitSeconds {
				dur = cfg.MaxUnitSeconds
			}
			units = append(units, types.CaptionUnit{
				Start: cursor,
				End:   cursor + dur,
				Text:  strings.Join(chunk, " "),
			})
			cursor += dur
		}
	}
	return units
}

// FromTranscript adopts transcriber spans directly, dropping empty ones.
func FromTranscript(t types.Transcript) []types.CaptionUnit {
	var units []types.CaptionUnit
	for _, s := range t.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		units = append(units, types.CaptionUnit{Start: s.Start, End: s.End, Text: text})
	}
	return units
}

// splitSentences breaks text on sentence-ending punctuation, keeping the
// punctuation attached to the preceding sentence.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', ';', ':':
			flush()
		}
	}
	flush()
	return out
}
