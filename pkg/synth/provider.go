// Package synth renders prompt text into carrier-ready audio. A Provider
// produces linear PCM; the Renderer downsamples it to the carrier rate,
// transcodes to μ-law, and caches the result so repeated prompts (greetings,
// reprompts) cost one synthesis per call campaign, not one per call.
package synth

import "context"

// Audio is raw synthesized speech.
type Audio struct {
	PCM        []byte // 16-bit little-endian mono
	SampleRate int
}

// Request carries the text to synthesize and its language.
type Request struct {
	Text     string
	Language string // ISO 639-1, used for voice selection
	Voice    string // optional override
}

// Provider is one speech-synthesis backend. Implementations must be safe
// for concurrent use.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}
