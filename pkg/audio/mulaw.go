// Package audio provides audio processing utilities for the dialer.
//
// mulaw.go implements μ-law (G.711) codec conversions. Carrier media
// streams deliver and expect μ-law at 8kHz mono; the synthesis side
// produces 16-bit linear PCM, so both directions pass through here.
//
// Reference: ITU-T G.711 specification

package audio

// MuLaw codec constants
const (
	MuLawBias      = 0x84  // Bias for linear code
	MuLawClip      = 32635 // Maximum linear magnitude
	MuLawSegShift  = 4
	MuLawQuantMask = 0x0f
)

// muLawDecompressTable is a pre-computed lookup table for μ-law to linear PCM
// conversion. Each μ-law byte maps to a 16-bit signed PCM value.
var muLawDecompressTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// muLawSegmentTable is a segment end lookup for μ-law encoding.
var muLawSegmentTable = [8]int16{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// MuLawDecode converts a single μ-law byte to a 16-bit signed PCM sample.
func MuLawDecode(mulaw byte) int16 {
	return muLawDecompressTable[mulaw]
}

// MuLawEncode converts a 16-bit signed PCM sample to μ-law.
func MuLawEncode(pcm int16) byte {
	sign := (pcm >> 8) & 0x80
	if sign != 0 {
		pcm = -pcm
	}
	if pcm > MuLawClip {
		pcm = MuLawClip
	}
	pcm = pcm + MuLawBias

	segment := 7
	for i := 0; i < 8; i++ {
		if pcm <= muLawSegmentTable[i] {
			segment = i
			break
		}
	}

	return byte(^(sign | (int16(segment) << MuLawSegShift) | ((pcm >> (segment + 3)) & MuLawQuantMask)))
}

// MuLawToPCM converts μ-law encoded audio to 16-bit signed little-endian PCM.
// Returns a new slice twice the length of the input.
func MuLawToPCM(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := muLawDecompressTable[b]
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// PCMToMuLaw converts 16-bit signed little-endian PCM audio to μ-law.
// Returns a new slice half the length of the input.
func PCMToMuLaw(pcm []byte) []byte {
	numSamples := len(pcm) / 2
	mulaw := make([]byte, numSamples)
	for i := 0; i < numSamples; i++ {
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		mulaw[i] = MuLawEncode(sample)
	}
	return mulaw
}

// DownsamplePCM reduces a 16-bit mono PCM buffer from srcRate to dstRate by
// integer decimation. srcRate must be a whole multiple of dstRate; anything
// else returns the input unchanged. Synthesis providers return 24kHz PCM
// while the carrier expects 8kHz, which divides evenly.
func DownsamplePCM(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= dstRate || dstRate <= 0 || srcRate%dstRate != 0 {
		return pcm
	}
	step := srcRate / dstRate
	numSamples := len(pcm) / BytesPerSample
	out := make([]byte, 0, (numSamples/step+1)*BytesPerSample)
	for i := 0; i < numSamples; i += step {
		out = append(out, pcm[i*2], pcm[i*2+1])
	}
	return out
}
