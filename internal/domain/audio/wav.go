package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const wavHeaderSize = 44

// EncodeWAV writes mono float samples as a canonical 44-byte-header PCM WAV:
// format tag 1, one channel, 16 bits, little-endian.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	off := wavHeaderSize
	for _, s := range samples {
		binary.LittleEndian.PutUint16(buf[off:], uint16(floatToPCM16(s)))
		off += 2
	}
	return buf
}

// floatToPCM16 clamps to [-1, 1]; negatives scale by 32768, the rest by 32767.
func floatToPCM16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(math.Round(float64(s) * 32768))
	}
	return int16(math.Round(float64(s) * 32767))
}

// WAVInfo is the fmt chunk of a parsed WAV file.
type WAVInfo struct {
	FormatTag     uint16
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	DataLen       int
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ParseWAVHeader walks the RIFF chunks and returns the format plus the
// offset of the sample data.
func ParseWAVHeader(data []byte) (WAVInfo, int, error) {
	var info WAVInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return info, 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrDecode)
	}

	off := 12
	haveFmt := false
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return info, 0, fmt.Errorf("%w: short fmt chunk", ErrDecode)
			}
			info.FormatTag = binary.LittleEndian.Uint16(data[body:])
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.ByteRate = int(binary.LittleEndian.Uint32(data[body+8:]))
			info.BlockAlign = int(binary.LittleEndian.Uint16(data[body+12:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			if info.FormatTag == wavFormatExtensible && size >= 40 && body+26 <= len(data) {
				info.FormatTag = binary.LittleEndian.Uint16(data[body+24:])
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return info, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			// streamed writers leave the size at 0 or 0xFFFFFFFF
			if size == 0 || body+size > len(data) {
				size = len(data) - body
			}
			info.DataLen = size
			return info, body, nil
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	return info, 0, fmt.Errorf("%w: missing data chunk", ErrDecode)
}

func decodeWAV(data []byte) (*Buffer, error) {
	info, start, err := ParseWAVHeader(data)
	if err != nil {
		return nil, err
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid wav format (%d ch, %d Hz)", ErrDecode, info.Channels, info.SampleRate)
	}

	bytesPerSample := info.BitsPerSample / 8
	var convert func([]byte) float32
	switch {
	case info.FormatTag == wavFormatPCM && info.BitsPerSample == 8:
		convert = func(b []byte) float32 { return (float32(b[0]) - 128) / 128 }
	case info.FormatTag == wavFormatPCM && info.BitsPerSample == 16:
		convert = func(b []byte) float32 { return float32(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case info.FormatTag == wavFormatPCM && info.BitsPerSample == 24:
		convert = func(b []byte) float32 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			return float32(v) / 8388608
		}
	case info.FormatTag == wavFormatPCM && info.BitsPerSample == 32:
		convert = func(b []byte) float32 { return float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648 }
	case info.FormatTag == wavFormatFloat && info.BitsPerSample == 32:
		convert = func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	default:
		return nil, fmt.Errorf("%w: wav format tag %d with %d bits", ErrUnsupportedFormat, info.FormatTag, info.BitsPerSample)
	}

	frameSize := bytesPerSample * info.Channels
	frames := info.DataLen / frameSize
	buf := NewBuffer(info.Channels, frames, info.SampleRate)
	pcm := data[start:]
	for i := 0; i < frames; i++ {
		base := i * frameSize
		for ch := 0; ch < info.Channels; ch++ {
			o := base + ch*bytesPerSample
			buf.Channels[ch][i] = convert(pcm[o : o+bytesPerSample])
		}
	}
	return buf, nil
}
