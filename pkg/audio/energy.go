package audio

import (
	"math"
	"time"
)

const (
	// BytesPerSample for 16-bit linear PCM
	BytesPerSample = 2
	// CarrierSampleRate is the μ-law rate used by telephony media streams
	CarrierSampleRate = 8000
)

// RMSEnergy computes the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, normalized to [0.0, 1.0]. An empty buffer
// has zero energy.
func RMSEnergy(pcm []byte) float64 {
	numSamples := len(pcm) / BytesPerSample
	if numSamples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < numSamples; i++ {
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(numSamples))
}

// MuLawRMSEnergy computes normalized RMS energy directly from a μ-law buffer.
func MuLawRMSEnergy(mulaw []byte) float64 {
	if len(mulaw) == 0 {
		return 0
	}

	var sum float64
	for _, b := range mulaw {
		v := float64(muLawDecompressTable[b]) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(mulaw)))
}

// MuLawDuration returns the playback duration of a μ-law buffer at the
// given sample rate (one byte per sample).
func MuLawDuration(numBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(numBytes) * time.Second / time.Duration(sampleRate)
}

// PCMDuration returns the playback duration of a 16-bit mono PCM buffer
// at the given sample rate.
func PCMDuration(numBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(numBytes/BytesPerSample) * time.Second / time.Duration(sampleRate)
}
