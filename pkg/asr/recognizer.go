// Package asr turns the inbound carrier media stream into transcribable
// utterances. A Segmenter gates utterances out of the frame stream by audio
// energy; a Recognizer transcribes each finished utterance.
package asr

import "context"

// Recognizer transcribes one complete utterance. Implementations must be
// safe for concurrent use from unrelated call goroutines.
type Recognizer interface {
	// Recognize transcribes 16-bit mono PCM at the given sample rate.
	// language is an ISO 639-1 hint, empty for auto-detection.
	Recognize(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	return f(ctx, pcm, sampleRate, language)
}
