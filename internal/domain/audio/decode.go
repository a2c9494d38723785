package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

var (
	ErrDecode            = errors.New("audio decode failed")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyAudio        = errors.New("empty audio")
)

// ffmpeg 输出参数：单声道 16kHz s16le 裸流
const (
	ffmpegSampleRate = 16000
)

// decoder turns one container into a Buffer. Close releases whatever the
// decoder holds and is safe to call more than once.
type decoder interface {
	Decode(ctx context.Context, data []byte) (*Buffer, error)
	Close() error
}

type wavDecoder struct{}

func (wavDecoder) Decode(_ context.Context, data []byte) (*Buffer, error) {
	return decodeWAV(data)
}

func (wavDecoder) Close() error { return nil }

type mp3Decoder struct {
	dec *mp3.Decoder
}

func (d *mp3Decoder) Decode(ctx context.Context, data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrDecode, err)
	}
	d.dec = dec

	// go-mp3 始终输出 16-bit 小端双声道
	pcm, err := io.ReadAll(readerWithContext(ctx, dec))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrDecode, err)
	}

	frames := len(pcm) / 4
	buf := NewBuffer(2, frames, dec.SampleRate())
	for i := 0; i < frames; i++ {
		buf.Channels[0][i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*4:]))) / 32768
		buf.Channels[1][i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))) / 32768
	}
	return buf, nil
}

func (d *mp3Decoder) Close() error {
	d.dec = nil
	return nil
}

type ffmpegDecoder struct {
	binary string
	cmd    *exec.Cmd
}

func (d *ffmpegDecoder) Decode(ctx context.Context, data []byte) (*Buffer, error) {
	bin, err := exec.LookPath(d.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not available (%v)", ErrUnsupportedFormat, err)
	}

	var stdout, stderr bytes.Buffer
	d.cmd = exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-ac", "1", "-ar", fmt.Sprint(ffmpegSampleRate),
		"pipe:1",
	)
	d.cmd.Stdin = bytes.NewReader(data)
	d.cmd.Stdout = &stdout
	d.cmd.Stderr = &stderr

	if err := d.cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	pcm := stdout.Bytes()
	frames := len(pcm) / 2
	buf := NewBuffer(1, frames, ffmpegSampleRate)
	for i := 0; i < frames; i++ {
		buf.Channels[0][i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return buf, nil
}

// Close kills the ffmpeg process if it is still around.
func (d *ffmpegDecoder) Close() error {
	if d.cmd == nil || d.cmd.Process == nil || d.cmd.ProcessState != nil {
		return nil
	}
	return d.cmd.Process.Kill()
}

func (p *Preparer) decoderFor(asset Asset) decoder {
	switch asset.Ext {
	case "wav", "wave":
		return wavDecoder{}
	case "mp3":
		return &mp3Decoder{}
	}
	if len(asset.Data) >= 12 && string(asset.Data[0:4]) == "RIFF" && string(asset.Data[8:12]) == "WAVE" {
		return wavDecoder{}
	}
	return &ffmpegDecoder{binary: p.ffmpegPath}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
