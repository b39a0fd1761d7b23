// Package intent provides language detection and yes/no intent
// classification over accepted transcripts. The conversation engine calls it
// at exactly two points: the confirmation turn (language lock) and the
// agent-response turn (transfer decision). Classifiers are opaque; the
// engine only depends on the Analysis contract.
package intent

import "context"

// Intent is the coarse classification of an agent-response answer.
type Intent int

const (
	IntentAmbiguous Intent = iota
	IntentAffirmative
	IntentNegative
)

func (i Intent) String() string {
	switch i {
	case IntentAffirmative:
		return "affirmative"
	case IntentNegative:
		return "negative"
	default:
		return "ambiguous"
	}
}

// Analysis is the classifier output for one transcript.
type Analysis struct {
	// Language is a lowercase ISO 639-1 code ("en", "hi"), empty when the
	// classifier cannot tell.
	Language string
	// Intent is the yes/no reading of the text.
	Intent Intent
	// Confidence in [0.0, 1.0]; rule-based classification reports 1.0 for
	// lexicon hits and 0.0 for misses.
	Confidence float64
}

// Classifier analyzes one transcript. Implementations must be safe for
// concurrent use from unrelated call goroutines.
type Classifier interface {
	Classify(ctx context.Context, text string) (Analysis, error)
}
