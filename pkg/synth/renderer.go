package synth

import (
	"context"
	"fmt"
	"sync"

	"github.com/outdial-ai/outdial/pkg/audio"
)

// Renderer turns prompt text into μ-law audio at the carrier sample rate,
// memoizing per (language, text). Safe for concurrent use; concurrent
// misses for the same prompt may synthesize twice, last write wins.
type Renderer struct {
	provider Provider

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewRenderer wraps a provider with transcoding and a prompt cache.
func NewRenderer(provider Provider) *Renderer {
	return &Renderer{
		provider: provider,
		cache:    make(map[string][]byte),
	}
}

// Render returns the prompt as 8kHz μ-law, synthesizing on cache miss.
// Callers must not mutate the returned slice.
func (r *Renderer) Render(ctx context.Context, language, text string) ([]byte, error) {
	key := language + "\x00" + text

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	speech, err := r.provider.Synthesize(ctx, Request{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("synth: render %q prompt: %w", language, err)
	}

	pcm := audio.DownsamplePCM(speech.PCM, speech.SampleRate, audio.CarrierSampleRate)
	mulaw := audio.PCMToMuLaw(pcm)

	r.mu.Lock()
	r.cache[key] = mulaw
	r.mu.Unlock()

	return mulaw, nil
}

// Warm pre-renders a set of prompts, stopping at the first failure.
func (r *Renderer) Warm(ctx context.Context, language string, prompts []string) error {
	for _, text := range prompts {
		if _, err := r.Render(ctx, language, text); err != nil {
			return err
		}
	}
	return nil
}

// CacheSize reports the number of rendered prompts held in memory.
func (r *Renderer) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
