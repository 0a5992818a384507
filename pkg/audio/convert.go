package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format describes interleaved little-endian int16 PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// frameBytes is the size of one sample across all channels.
func (f Format) frameBytes() int { return 2 * max(f.Channels, 1) }

// Converter turns a stream of device PCM blocks into mono PCM at the rate the
// recognizer expects. Blocks may be cut anywhere: a partial frame is held
// back until the next block completes it, and resampling continues across
// block boundaries. A Converter belongs to one stream and one goroutine.
type Converter struct {
	src, dst Format
	rs       *Resampler
	carry    []byte
}

// NewConverter returns a converter from src to mono at dst.SampleRate.
// dst.Channels is ignored.
func NewConverter(src, dst Format) *Converter {
	c := &Converter{src: src, dst: Format{SampleRate: dst.SampleRate, Channels: 1}}
	if src.SampleRate != dst.SampleRate {
		c.rs = NewResampler(src.SampleRate, dst.SampleRate)
	}
	return c
}

// Passthrough reports whether blocks leave the converter untouched, apart
// from the realignment of partial frames.
func (c *Converter) Passthrough() bool { return c.rs == nil && c.src.Channels <= 1 }

// Convert converts the next block. The result may be empty when the block
// does not complete a frame.
func (c *Converter) Convert(pcm []byte) []byte {
	if len(c.carry) > 0 {
		pcm = append(c.carry, pcm...)
		c.carry = nil
	}
	fb := c.src.frameBytes()
	if rem := len(pcm) % fb; rem != 0 {
		c.carry = append([]byte(nil), pcm[len(pcm)-rem:]...)
		pcm = pcm[:len(pcm)-rem]
	}
	if c.src.Channels > 1 {
		pcm = Downmix(pcm, c.src.Channels)
	}
	if c.rs != nil {
		pcm = c.rs.Process(pcm)
	}
	return pcm
}

// Downmix averages each frame of interleaved PCM with the given channel count
// into one mono sample. A trailing partial frame is dropped.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	fb := 2 * channels
	out := make([]byte, len(pcm)/fb*2)
	for f := range len(pcm) / fb {
		var sum int32
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[f*fb+ch*2:])))
		}
		binary.LittleEndian.PutUint16(out[f*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// Resampler converts mono int16 PCM between sample rates by linear
// interpolation. It keeps the last input sample and the output phase between
// calls, so a stream fed in arbitrary blocks resamples as if it were one
// block. Output trails input by one source sample.
type Resampler struct {
	step    float64 // source samples per output sample
	pos     float64 // position of the next output, 0 being prev
	prev    int16
	started bool
}

// NewResampler returns a resampler from src Hz to dst Hz. Both must be
// positive.
func NewResampler(src, dst int) *Resampler {
	return &Resampler{step: float64(src) / float64(dst)}
}

// Process resamples the next block of mono PCM. A trailing odd byte is
// ignored.
func (r *Resampler) Process(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	// at returns sample i of prev followed by pcm (or of pcm alone before
	// the first call).
	off := 0
	if r.started {
		off = 1
	}
	at := func(i int) float64 {
		if i < off {
			return float64(r.prev)
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[(i-off)*2:])))
	}
	last := n + off - 1

	out := make([]byte, 0, int(float64(n)/r.step)+2)
	for r.pos < float64(last) {
		i := int(r.pos)
		frac := r.pos - float64(i)
		s := at(i)*(1-frac) + at(i+1)*frac
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(math.Round(s))))
		r.pos += r.step
	}
	r.pos -= float64(last)
	r.prev = int16(at(last))
	r.started = true
	return out
}
