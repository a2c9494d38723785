package asr

import (
	"context"
	"strings"
)

// Audio is one chunk handed to a provider.
type Audio struct {
	Data   []byte
	Format string // container extension without dot, e.g. "wav"
	MIME   string
}

// Options are per-call recognition hints. Empty fields fall back to the
// provider's configured defaults.
type Options struct {
	Language string
	Prompt   string
	Hotwords []string
	Model    string
}

// Constraints are the per-call limits a provider declares.
type Constraints struct {
	MaxDurationSeconds float64
	MaxFileSizeBytes   int64
	AcceptedFormats    []string
}

// Accepts reports whether format can be sent without re-encoding.
func (c Constraints) Accepts(format string) bool {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	for _, f := range c.AcceptedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Word is a single timed token.
type Word struct {
	Text        string `json:"text"`
	StartTimeMs int64  `json:"start_time_ms"`
	EndTimeMs   int64  `json:"end_time_ms"`
}

// Utterance is one labeled span of transcript text.
type Utterance struct {
	Text        string `json:"text"`
	StartTimeMs int64  `json:"start_time_ms"`
	EndTimeMs   int64  `json:"end_time_ms"`
	SpeakerID   string `json:"speaker_id,omitempty"`
	Words       []Word `json:"words,omitempty"`
}

// Result is the output of one provider call, or of a whole orchestrated run.
type Result struct {
	Text            string      `json:"text"`
	RequestID       string      `json:"request_id,omitempty"`
	Model           string      `json:"model,omitempty"`
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
	Utterances      []Utterance `json:"utterances,omitempty"`
}

// Provider turns one audio chunk into text.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, chunk Audio, opts Options) (*Result, error)
	Constraints() Constraints
	SupportsStreaming() bool
}
