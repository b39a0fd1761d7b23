// Package transcript implements the quality gate applied to every
// recognized-speech result before it is allowed to drive the conversation.
// The gate is pure and stateless: retry counting and escalation live in the
// state machine so the gate can be tested on its own.
package transcript

import (
	"strings"
	"unicode"
)

// RejectReason classifies why a recognition result was not usable.
type RejectReason int

const (
	// RejectNone means the transcript was accepted.
	RejectNone RejectReason = iota
	// RejectEmpty - no text left after trimming.
	RejectEmpty
	// RejectLowEnergy - audio energy below the configured floor. Flagged
	// even when text is present: a confident transcript over near-silent
	// audio is a recognizer artifact, not the customer.
	RejectLowEnergy
	// RejectNoiseOnly - text present but too short or content-free to act on.
	RejectNoiseOnly
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectEmpty:
		return "empty"
	case RejectLowEnergy:
		return "low_energy"
	case RejectNoiseOnly:
		return "noise_only"
	default:
		return "unknown"
	}
}

// Result is the gate's verdict on one recognition result.
type Result struct {
	Accepted bool
	// Text is the cleaned transcript, set only when Accepted.
	Text   string
	Reason RejectReason
}

// Config holds the gate's tunables.
type Config struct {
	// EnergyFloor is the minimum normalized RMS energy [0.0, 1.0] for the
	// utterance audio to be trusted.
	EnergyFloor float64
	// MinLetters is the minimum count of letter runes for the text to be
	// considered content rather than noise.
	MinLetters int
}

// DefaultConfig returns the gate defaults.
func DefaultConfig() Config {
	return Config{
		EnergyFloor: 0.01,
		MinLetters:  2,
	}
}

// Gate evaluates recognition results against a fixed configuration.
type Gate struct {
	cfg Config
}

// NewGate creates a gate, filling zero config fields with defaults.
func NewGate(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.EnergyFloor <= 0 {
		cfg.EnergyFloor = def.EnergyFloor
	}
	if cfg.MinLetters <= 0 {
		cfg.MinLetters = def.MinLetters
	}
	return &Gate{cfg: cfg}
}

// Evaluate scores one recognized transcript together with the energy of the
// audio it was recognized from.
func (g *Gate) Evaluate(raw string, energy float64) Result {
	text := strings.TrimSpace(raw)

	if text == "" {
		return Result{Reason: RejectEmpty}
	}

	if energy < g.cfg.EnergyFloor {
		return Result{Reason: RejectLowEnergy}
	}

	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters++
		}
	}
	if letters < g.cfg.MinLetters {
		return Result{Reason: RejectNoiseOnly}
	}

	return Result{Accepted: true, Text: text}
}
