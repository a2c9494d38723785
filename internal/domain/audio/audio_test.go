package audio

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicenote-ingest-go/internal/platform/logging"
)

// stereoWAV builds a 16-bit PCM stereo file with a constant value per channel.
func stereoWAV(frames, sampleRate int, left, right int16) []byte {
	dataLen := frames * 4
	buf := make([]byte, 44+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 2)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*4))
	binary.LittleEndian.PutUint16(buf[32:], 4)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(buf[44+i*4:], uint16(left))
		binary.LittleEndian.PutUint16(buf[46+i*4:], uint16(right))
	}
	return buf
}

func TestDownmixAveragesChannels(t *testing.T) {
	buf := &Buffer{
		SampleRate: 8000,
		Channels: [][]float32{
			{0.5, -1, 0.25, 0},
			{0.1, 1, -0.25, 0.2},
			{0.3, 0, 0, -0.2},
		},
	}
	mono := Downmix(buf)
	require.Len(t, mono, 4)
	for i := range mono {
		want := (buf.Channels[0][i] + buf.Channels[1][i] + buf.Channels[2][i]) / 3
		assert.InDelta(t, want, mono[i], 1e-6)
	}

	single := &Buffer{SampleRate: 8000, Channels: [][]float32{{0.1, 0.2}}}
	assert.Equal(t, single.Channels[0], Downmix(single))
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 1, -1, 0.5, -0.5, 2, -2}
	wav := EncodeWAV(samples, 16000)

	require.Len(t, wav, 44+2*len(samples))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+2*len(samples)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))

	info, offset, err := ParseWAVHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, 44, offset)
	assert.Equal(t, uint16(1), info.FormatTag)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitsPerSample)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 32000, info.ByteRate)
	assert.Equal(t, 2, info.BlockAlign)
	assert.Equal(t, 2*len(samples), info.DataLen)

	pcm := func(i int) int16 { return int16(binary.LittleEndian.Uint16(wav[44+2*i:])) }
	assert.Equal(t, int16(0), pcm(0))
	assert.Equal(t, int16(32767), pcm(1))
	assert.Equal(t, int16(-32768), pcm(2))
	assert.Equal(t, int16(16384), pcm(3))
	assert.Equal(t, int16(-16384), pcm(4))
	assert.Equal(t, int16(32767), pcm(5), "clamped high")
	assert.Equal(t, int16(-32768), pcm(6), "clamped low")
}

func TestSplitCoversWholeRange(t *testing.T) {
	tests := []struct {
		name       string
		frames     int
		rate       int
		chunk      float64
		wantChunks int
	}{
		{name: "exact multiple", frames: 90 * 100, rate: 100, chunk: 30, wantChunks: 3},
		{name: "remainder", frames: 95 * 100, rate: 100, chunk: 30, wantChunks: 4},
		{name: "shorter than chunk", frames: 10 * 100, rate: 100, chunk: 30, wantChunks: 1},
		{name: "fractional", frames: 1001, rate: 1000, chunk: 0.25, wantChunks: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBuffer(2, tt.frames, tt.rate)
			chunks := Split(buf, tt.chunk)

			total := float64(tt.frames) / float64(tt.rate)
			assert.Equal(t, int(math.Ceil(total/tt.chunk)), len(chunks))
			require.Len(t, chunks, tt.wantChunks)

			cursor := 0.0
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.InDelta(t, cursor, c.StartSeconds, 1e-9, "no gaps or overlaps")
				assert.LessOrEqual(t, c.Duration(), tt.chunk+1e-9)
				info, _, err := ParseWAVHeader(c.Data)
				require.NoError(t, err)
				assert.Equal(t, 1, info.Channels)
				cursor = c.EndSeconds
			}
			assert.InDelta(t, total, cursor, 1e-9)
		})
	}
}

func TestPreparerSplitStereoWAV(t *testing.T) {
	p := NewPreparer("", logging.NewDiscard())
	asset := NewAsset("Recordings/20260123-203038.wav", stereoWAV(8000*5, 8000, 16384, -16384))

	chunks, err := p.SplitAndConvert(context.Background(), asset, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.InDelta(t, 1.0, chunks[2].Duration(), 1e-9)

	// 左右声道互为相反数，混音后为静音
	first := int16(binary.LittleEndian.Uint16(chunks[0].Data[44:]))
	assert.Equal(t, int16(0), first)

	_, err = p.SplitAndConvert(context.Background(), asset, 0)
	assert.Error(t, err)
}

func TestConvertToMono16BitWAV(t *testing.T) {
	p := NewPreparer("", logging.NewDiscard())
	asset := NewAsset("memo.wav", stereoWAV(100, 22050, 8192, 8192))

	wav, err := p.ConvertToMono16BitWAV(context.Background(), asset)
	require.NoError(t, err)
	info, _, err := ParseWAVHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 22050, info.SampleRate)
	assert.Equal(t, 200, info.DataLen)
}

func TestDecodeFailures(t *testing.T) {
	p := NewPreparer("definitely-not-an-ffmpeg-binary", logging.NewDiscard())
	ctx := context.Background()

	_, err := p.Decode(ctx, Asset{Ext: "wav"})
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = p.Decode(ctx, Asset{Ext: "wav", Data: []byte("RIFF\x00\x00\x00\x00WAVEjunk")})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = p.Decode(ctx, Asset{Ext: "m4a", Data: []byte("not really m4a")})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNewAssetDetectsFormat(t *testing.T) {
	a := NewAsset("Voice/Memo.M4A", []byte{1, 2, 3})
	assert.Equal(t, "m4a", a.Ext)
	assert.Equal(t, "audio/mp4", a.MIME)

	blob := NewAsset("", stereoWAV(10, 8000, 0, 0))
	assert.Equal(t, "wav", blob.Ext)
	assert.Equal(t, "audio/wav", blob.MIME)
	assert.Equal(t, "application/octet-stream", MIMEForExt("xyz"))
}
