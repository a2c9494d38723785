package audio

import (
	"context"
	"fmt"
	"math"

	"voicenote-ingest-go/internal/platform/logging"
)

// Chunk is one WAV-encoded slice [StartSeconds, EndSeconds) of an asset.
type Chunk struct {
	Index        int
	StartSeconds float64
	EndSeconds   float64
	Data         []byte
}

// Duration returns the chunk length in seconds.
func (c Chunk) Duration() float64 {
	return c.EndSeconds - c.StartSeconds
}

// Preparer decodes assets and re-encodes them as mono 16-bit WAV.
type Preparer struct {
	ffmpegPath string
	logger     *logging.Logger
}

// NewPreparer creates a preparer. ffmpegPath is only used for containers
// without a native decoder.
func NewPreparer(ffmpegPath string, logger *logging.Logger) *Preparer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Preparer{
		ffmpegPath: ffmpegPath,
		logger:     logging.OrDefault(logger),
	}
}

// Decode returns the decoded sample buffer of asset.
func (p *Preparer) Decode(ctx context.Context, asset Asset) (*Buffer, error) {
	if len(asset.Data) == 0 {
		return nil, ErrEmptyAudio
	}
	dec := p.decoderFor(asset)
	defer dec.Close()

	buf, err := dec.Decode(ctx, asset.Data)
	if err != nil {
		return nil, err
	}
	p.logger.DebugTag("转写", "解码完成 %s: %d 声道, %d Hz, %.1f 秒",
		asset.Path, len(buf.Channels), buf.SampleRate, buf.Duration())
	return buf, nil
}

// Duration decodes asset and returns its length in seconds.
func (p *Preparer) Duration(ctx context.Context, asset Asset) (float64, error) {
	buf, err := p.Decode(ctx, asset)
	if err != nil {
		return 0, err
	}
	return buf.Duration(), nil
}

// ConvertToMono16BitWAV decodes, downmixes and re-encodes asset.
func (p *Preparer) ConvertToMono16BitWAV(ctx context.Context, asset Asset) ([]byte, error) {
	buf, err := p.Decode(ctx, asset)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(Downmix(buf), buf.SampleRate), nil
}

// SplitAndConvert cuts asset into consecutive chunks of chunkSeconds, the last
// one truncated, each encoded independently. A decode failure yields no chunks.
func (p *Preparer) SplitAndConvert(ctx context.Context, asset Asset, chunkSeconds float64) ([]Chunk, error) {
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %v", chunkSeconds)
	}
	buf, err := p.Decode(ctx, asset)
	if err != nil {
		return nil, err
	}
	return Split(buf, chunkSeconds), nil
}

// Split slices an already decoded buffer. See SplitAndConvert.
func Split(buf *Buffer, chunkSeconds float64) []Chunk {
	mono := Downmix(buf)
	total := len(mono)
	rate := float64(buf.SampleRate)

	per := int(math.Round(chunkSeconds * rate))
	if per <= 0 {
		per = 1
	}

	chunks := make([]Chunk, 0, (total+per-1)/per)
	for start, idx := 0, 0; start < total; start, idx = start+per, idx+1 {
		end := start + per
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{
			Index:        idx,
			StartSeconds: float64(start) / rate,
			EndSeconds:   float64(end) / rate,
			Data:         EncodeWAV(mono[start:end], buf.SampleRate),
		})
	}
	return chunks
}
