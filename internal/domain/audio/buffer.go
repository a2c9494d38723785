package audio

// Buffer holds decoded planar samples in [-1, 1].
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// NewBuffer allocates channels x frames of silence.
func NewBuffer(channels, frames, sampleRate int) *Buffer {
	b := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for i := range b.Channels {
		b.Channels[i] = make([]float32, frames)
	}
	return b
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Downmix averages all channels per frame. A single channel is returned as is.
func Downmix(b *Buffer) []float32 {
	switch len(b.Channels) {
	case 0:
		return nil
	case 1:
		return b.Channels[0]
	}

	frames := b.Frames()
	n := float32(len(b.Channels))
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for _, ch := range b.Channels {
			sum += ch[i]
		}
		out[i] = sum / n
	}
	return out
}
