package intent

import (
	"context"
	"strings"
	"unicode"
)

// Lexicon-based classification. Good enough for the confirmation and
// agent-response turns, free, and fully deterministic; the OpenAI classifier
// is a drop-in upgrade where nuance matters.

var affirmativeWords = map[string]string{
	// english
	"yes": "en", "yeah": "en", "yep": "en", "sure": "en", "okay": "en",
	"ok": "en", "correct": "en", "right": "en", "speaking": "en",
	"absolutely": "en", "please": "en",
	// hindi (romanized)
	"haan": "hi", "haa": "hi", "ha": "hi", "ji": "hi", "theek": "hi",
	"bilkul": "hi", "sahi": "hi", "zaroor": "hi",
}

var negativeWords = map[string]string{
	// english
	"no": "en", "nope": "en", "not": "en", "don't": "en", "dont": "en",
	"never": "en", "wrong": "en",
	// hindi (romanized)
	"nahi": "hi", "nahin": "hi", "mat": "hi", "galat": "hi",
}

// hindiMarkers are common particles that identify romanized Hindi even in
// sentences without a yes/no word.
var hindiMarkers = map[string]struct{}{
	"hai": {}, "hoon": {}, "kya": {}, "main": {}, "mera": {}, "aap": {},
	"kaun": {}, "bol": {}, "raha": {}, "rahi": {}, "namaste": {},
	"kripya": {}, "dhanyavaad": {},
}

// RuleClassifier classifies with keyword lexicons. Stateless.
type RuleClassifier struct{}

// NewRuleClassifier returns the default lexicon classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

func (c *RuleClassifier) Classify(ctx context.Context, text string) (Analysis, error) {
	tokens := tokenize(text)

	var affirmative, negative int
	langVotes := map[string]int{}

	for _, tok := range tokens {
		if lang, ok := affirmativeWords[tok]; ok {
			affirmative++
			langVotes[lang]++
		}
		if lang, ok := negativeWords[tok]; ok {
			negative++
			langVotes[lang]++
		}
		if _, ok := hindiMarkers[tok]; ok {
			langVotes["hi"]++
		}
	}

	analysis := Analysis{Language: topVote(langVotes)}

	switch {
	case affirmative > 0 && negative == 0:
		analysis.Intent = IntentAffirmative
		analysis.Confidence = 1.0
	case negative > 0 && affirmative == 0:
		analysis.Intent = IntentNegative
		analysis.Confidence = 1.0
	default:
		// Both or neither: don't guess.
		analysis.Intent = IntentAmbiguous
	}

	// Plain ASCII text with no Hindi vote reads as English.
	if analysis.Language == "" && len(tokens) > 0 && isASCII(text) {
		analysis.Language = "en"
	}

	return analysis, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func topVote(votes map[string]int) string {
	best, bestN := "", 0
	for lang, n := range votes {
		if n > bestN || (n == bestN && lang < best) {
			best, bestN = lang, n
		}
	}
	return best
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

var _ Classifier = (*RuleClassifier)(nil)
