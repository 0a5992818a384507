package audio

import "math"

// Level returns the RMS loudness of a block of little-endian int16 PCM,
// normalised to [0, 1]. A trailing odd byte is ignored. Empty input yields 0.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(n)) / 32768
	return min(rms, 1)
}
