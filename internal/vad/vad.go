// Package vad implements the energy-based voice activity detector that gates
// the utterance segmenter.
//
// The detector is deliberately simple: it computes the normalized RMS energy
// of a PCM chunk and compares it against a threshold. No hysteresis, no model
// inference, no state — smoothing over brief in-utterance pauses is the
// segmenter's job, not the detector's.
package vad

import (
	"encoding/binary"
	"math"
)

// DefaultEnergyThreshold is the normalized RMS level above which a chunk is
// classified as speech. 0.01 corresponds to roughly 328 in raw 16-bit PCM
// units, a sensible floor for a close microphone.
const DefaultEnergyThreshold = 0.01

// Detector classifies PCM chunks as speech or silence by RMS energy.
// The zero value is not usable; construct with New.
//
// Detector is stateless and safe for concurrent use.
type Detector struct {
	threshold float64
}

// New creates a Detector with the given normalized energy threshold in
// (0, 1]. Callers validate the threshold at config load time; New does not
// re-check it.
func New(threshold float64) *Detector {
	return &Detector{threshold: threshold}
}

// Classify reports whether the chunk contains speech. A chunk whose
// normalized RMS energy is strictly greater than the threshold is speech;
// energy exactly at the threshold is silence. Empty or undersized chunks
// have zero energy and are always silence.
func (d *Detector) Classify(pcm []byte) bool {
	return RMS(pcm) > d.threshold
}

// Threshold returns the detector's configured energy threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, normalized to [0, 1]. Returns 0 for buffers shorter than one
// sample. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
