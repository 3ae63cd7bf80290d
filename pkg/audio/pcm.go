package audio

// BytesToInt16 converts little-endian bytes to a slice of int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16ToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// StereoToMono downmixes interleaved stereo int16 samples by averaging each
// L+R pair. The averaging cannot overflow int16 range.
func StereoToMono(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		l := int32(stereo[i*2])
		r := int32(stereo[i*2+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

// ResampleMono converts mono int16 samples from one sample rate to another
// using linear interpolation. Quality is sufficient for speech recognition
// input; this is not a general-purpose resampler.
func ResampleMono(in []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	outLen := len(in) * toRate / fromRate
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(in[idx])
		b := float64(in[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
