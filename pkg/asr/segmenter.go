package asr

import (
	"time"

	"github.com/outdial-ai/outdial/pkg/audio"
)

// SegmenterConfig holds the energy-gating tunables.
type SegmenterConfig struct {
	// SampleRate of the inbound μ-law stream in Hz.
	SampleRate int
	// SpeechFloor is the normalized RMS energy at which a frame counts as
	// speech.
	SpeechFloor float64
	// TrailingSilence closes an utterance once this much continuous
	// sub-floor audio follows speech.
	TrailingSilence time.Duration
	// MinUtterance drops blips shorter than this.
	MinUtterance time.Duration
	// MaxUtterance force-closes a segment that never goes silent.
	MaxUtterance time.Duration
}

// DefaultSegmenterConfig returns telephony-tuned defaults.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:      audio.CarrierSampleRate,
		SpeechFloor:     0.02,
		TrailingSilence: 700 * time.Millisecond,
		MinUtterance:    200 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
	}
}

// Utterance is one closed speech segment ready for recognition.
type Utterance struct {
	PCM      []byte // 16-bit mono at the segmenter's sample rate
	Energy   float64
	Duration time.Duration
}

// Segmenter accumulates inbound μ-law frames and cuts them into utterances
// at trailing-silence boundaries. One segmenter per call; not safe for
// concurrent use (the owning orchestrator goroutine feeds it).
type Segmenter struct {
	cfg SegmenterConfig

	buffer   []byte // μ-law, speech onset to present
	inSpeech bool
	silence  time.Duration
}

// NewSegmenter creates a segmenter, filling zero config fields with
// defaults.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	def := DefaultSegmenterConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.SpeechFloor <= 0 {
		cfg.SpeechFloor = def.SpeechFloor
	}
	if cfg.TrailingSilence <= 0 {
		cfg.TrailingSilence = def.TrailingSilence
	}
	if cfg.MinUtterance <= 0 {
		cfg.MinUtterance = def.MinUtterance
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}
	return &Segmenter{cfg: cfg}
}

// Feed consumes one μ-law frame and returns a finished utterance, or nil
// while a segment is still open (or nothing speech-like has started).
func (s *Segmenter) Feed(mulawFrame []byte) *Utterance {
	if len(mulawFrame) == 0 {
		return nil
	}

	frameEnergy := audio.MuLawRMSEnergy(mulawFrame)
	frameDur := audio.MuLawDuration(len(mulawFrame), s.cfg.SampleRate)

	if !s.inSpeech {
		if frameEnergy < s.cfg.SpeechFloor {
			return nil
		}
		s.inSpeech = true
		s.silence = 0
	}

	s.buffer = append(s.buffer, mulawFrame...)

	if frameEnergy < s.cfg.SpeechFloor {
		s.silence += frameDur
	} else {
		s.silence = 0
	}

	total := audio.MuLawDuration(len(s.buffer), s.cfg.SampleRate)
	if s.silence >= s.cfg.TrailingSilence || total >= s.cfg.MaxUtterance {
		return s.close(total)
	}

	return nil
}

// Active reports whether an utterance is currently open.
func (s *Segmenter) Active() bool {
	return s.inSpeech
}

// Reset discards any open segment, used when the engine starts speaking so
// its own prompt tail is not recognized as customer input.
func (s *Segmenter) Reset() {
	s.buffer = nil
	s.inSpeech = false
	s.silence = 0
}

func (s *Segmenter) close(total time.Duration) *Utterance {
	mulaw := s.buffer
	s.Reset()

	if total < s.cfg.MinUtterance {
		return nil
	}

	return &Utterance{
		PCM:      audio.MuLawToPCM(mulaw),
		Energy:   audio.MuLawRMSEnergy(mulaw),
		Duration: total,
	}
}
