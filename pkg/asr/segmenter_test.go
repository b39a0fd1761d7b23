package asr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outdial-ai/outdial/pkg/audio"
)

const testFrameSize = 160 // 20ms at 8kHz

// loudFrame returns one μ-law frame of a full-scale square wave.
func loudFrame() []byte {
	pcm := make([]byte, testFrameSize*audio.BytesPerSample)
	for i := 0; i < testFrameSize; i++ {
		sample := int16(16000)
		if i%2 == 1 {
			sample = -16000
		}
		pcm[2*i] = byte(sample)
		pcm[2*i+1] = byte(sample >> 8)
	}
	return audio.PCMToMuLaw(pcm)
}

// silentFrame returns one μ-law frame of digital silence.
func silentFrame() []byte {
	frame := make([]byte, testFrameSize)
	for i := range frame {
		frame[i] = 0xFF // μ-law zero
	}
	return frame
}

func testConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:      audio.CarrierSampleRate,
		SpeechFloor:     0.02,
		TrailingSilence: 100 * time.Millisecond, // 5 frames
		MinUtterance:    40 * time.Millisecond,
		MaxUtterance:    time.Second,
	}
}

func TestSegmenterFlushesOnTrailingSilence(t *testing.T) {
	s := NewSegmenter(testConfig())

	// Leading silence is ignored entirely.
	for i := 0; i < 10; i++ {
		assert.Nil(t, s.Feed(silentFrame()))
	}

	// Speech, then trailing silence to the threshold.
	for i := 0; i < 8; i++ {
		assert.Nil(t, s.Feed(loudFrame()))
	}
	var utt *Utterance
	for i := 0; i < 5 && utt == nil; i++ {
		utt = s.Feed(silentFrame())
	}

	require.NotNil(t, utt)
	// 8 speech frames + 5 silence frames, all PCM-expanded.
	assert.Equal(t, 13*testFrameSize*audio.BytesPerSample, len(utt.PCM))
	assert.Equal(t, 260*time.Millisecond, utt.Duration)
	assert.Greater(t, utt.Energy, 0.02)
}

func TestSegmenterDropsShortBlips(t *testing.T) {
	s := NewSegmenter(testConfig())

	cfg := testConfig()
	cfg.MinUtterance = 500 * time.Millisecond
	s = NewSegmenter(cfg)

	s.Feed(loudFrame())
	var utt *Utterance
	for i := 0; i < 5; i++ {
		utt = s.Feed(silentFrame())
	}
	assert.Nil(t, utt)

	// The segmenter is reusable after a dropped blip.
	for i := 0; i < 30; i++ {
		assert.Nil(t, s.Feed(loudFrame()))
	}
	for i := 0; i < 5 && utt == nil; i++ {
		utt = s.Feed(silentFrame())
	}
	require.NotNil(t, utt)
}

func TestSegmenterForceClosesAtMaxUtterance(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUtterance = 200 * time.Millisecond // 10 frames
	s := NewSegmenter(cfg)

	var utt *Utterance
	frames := 0
	for i := 0; i < 50 && utt == nil; i++ {
		utt = s.Feed(loudFrame())
		frames++
	}

	require.NotNil(t, utt)
	assert.Equal(t, 10, frames)
	assert.Equal(t, 200*time.Millisecond, utt.Duration)
}

func TestSegmenterSpeechResetsSilenceRun(t *testing.T) {
	s := NewSegmenter(testConfig())

	s.Feed(loudFrame())
	s.Feed(loudFrame())
	s.Feed(loudFrame())

	// Four silent frames (below the five-frame threshold), then speech
	// again: the run must restart from zero.
	for i := 0; i < 4; i++ {
		assert.Nil(t, s.Feed(silentFrame()))
	}
	assert.Nil(t, s.Feed(loudFrame()))
	for i := 0; i < 4; i++ {
		assert.Nil(t, s.Feed(silentFrame()))
	}
	utt := s.Feed(silentFrame())

	require.NotNil(t, utt)
	assert.Equal(t, 13*testFrameSize*audio.BytesPerSample, len(utt.PCM))
}

func TestSegmenterReset(t *testing.T) {
	s := NewSegmenter(testConfig())

	for i := 0; i < 10; i++ {
		s.Feed(loudFrame())
	}
	s.Reset()

	// Nothing pending: silence alone produces no utterance.
	for i := 0; i < 20; i++ {
		assert.Nil(t, s.Feed(silentFrame()))
	}
}
