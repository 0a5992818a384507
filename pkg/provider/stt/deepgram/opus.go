package deepgram

import (
	"fmt"

	"github.com/MrWong99/embla/pkg/audio"
	"layeh.com/gopus"
)

// Uplink audio is compressed as mono Opus in 20 ms frames.
const (
	opusChannels    = 1
	opusFrameSizeMs = 20
	opusMaxPacket   = 4000
	opusFallbackHz  = 48000
)

// opusRate reports the rate the encoder should run at for PCM captured at
// rate. Opus only accepts a handful of sample rates; anything else is
// resampled to 48 kHz before encoding.
func opusRate(rate int) int {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return rate
	default:
		return opusFallbackHz
	}
}

// opusFramer buffers arbitrary-length PCM chunks and emits complete Opus
// packets of one frame each.
type opusFramer struct {
	enc       *gopus.Encoder
	rs        *audio.Resampler // nil when srcRate is an Opus rate
	rate      int
	frameSize int // samples per frame
	pending   []int16
}

func newOpusFramer(srcRate int) (*opusFramer, error) {
	rate := opusRate(srcRate)
	enc, err := gopus.NewEncoder(rate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create opus encoder: %w", err)
	}
	f := &opusFramer{
		enc:       enc,
		rate:      rate,
		frameSize: rate * opusFrameSizeMs / 1000,
	}
	if srcRate != rate {
		f.rs = audio.NewResampler(srcRate, rate)
	}
	return f, nil
}

// push appends a PCM chunk and returns every packet that is now complete.
func (f *opusFramer) push(pcm []byte) ([][]byte, error) {
	if f.rs != nil {
		pcm = f.rs.Process(pcm)
	}
	f.pending = append(f.pending, bytesToInt16s(pcm)...)

	var packets [][]byte
	for len(f.pending) >= f.frameSize {
		pkt, err := f.enc.Encode(f.pending[:f.frameSize], f.frameSize, opusMaxPacket)
		if err != nil {
			return packets, fmt.Errorf("deepgram: opus encode: %w", err)
		}
		packets = append(packets, pkt)
		f.pending = f.pending[f.frameSize:]
	}
	return packets, nil
}

// flush pads any partial frame with silence and encodes it. Returns nil when
// nothing is pending.
func (f *opusFramer) flush() ([]byte, error) {
	if len(f.pending) == 0 {
		return nil, nil
	}
	frame := make([]int16, f.frameSize)
	copy(frame, f.pending)
	f.pending = nil
	pkt, err := f.enc.Encode(frame, f.frameSize, opusMaxPacket)
	if err != nil {
		return nil, fmt.Errorf("deepgram: opus encode: %w", err)
	}
	return pkt, nil
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
