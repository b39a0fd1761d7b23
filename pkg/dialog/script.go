package dialog

// PromptKind names one scripted utterance. The engine selects prompts by
// (language, kind); the text itself is deployment configuration.
type PromptKind int

const (
	PromptGreeting PromptKind = iota
	PromptInfo
	PromptAgentQuestion
	PromptReprompt
	PromptEscalation
	PromptTransfer
	PromptClosing
)

func (k PromptKind) String() string {
	switch k {
	case PromptGreeting:
		return "greeting"
	case PromptInfo:
		return "info"
	case PromptAgentQuestion:
		return "agent_question"
	case PromptReprompt:
		return "reprompt"
	case PromptEscalation:
		return "escalation"
	case PromptTransfer:
		return "transfer"
	case PromptClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Script holds the prompt text per language. Placeholders {name}, {amount}
// and {due_date} are substituted by the caller before synthesis.
type Script struct {
	prompts     map[string]map[PromptKind]string
	defaultLang string
}

// NewScript builds a script from per-language prompt tables. defaultLang is
// the fallback when a language has no entry.
func NewScript(defaultLang string, prompts map[string]map[PromptKind]string) *Script {
	return &Script{prompts: prompts, defaultLang: defaultLang}
}

// DefaultScript returns the built-in English/Hindi loan-reminder script.
func DefaultScript() *Script {
	return NewScript("en", map[string]map[PromptKind]string{
		"en": {
			PromptGreeting:      "Hello {name}, this is an automated call from your loan provider. Am I speaking with {name}?",
			PromptInfo:          "Your loan payment of {amount} is due on {due_date}. Please make the payment at your earliest convenience.",
			PromptAgentQuestion: "Would you like to speak with a customer service agent about this payment?",
			PromptReprompt:      "Sorry, I did not catch that. Could you please repeat?",
			PromptEscalation:    "I am having trouble hearing you. Let me connect you to a customer service agent.",
			PromptTransfer:      "Connecting you to an agent now. Please hold.",
			PromptClosing:       "Thank you for your time. Goodbye.",
		},
		"hi": {
			PromptGreeting:      "Namaste {name}, yeh aapke loan provider ki or se ek automated call hai. Kya main {name} se baat kar raha hoon?",
			PromptInfo:          "Aapke loan ka bhugtan {amount} ka {due_date} tak dena hai. Kripya jald se jald bhugtan karein.",
			PromptAgentQuestion: "Kya aap is bhugtan ke baare mein customer service agent se baat karna chahenge?",
			PromptReprompt:      "Maaf kijiye, main samajh nahi paya. Kripya dobara boliye.",
			PromptEscalation:    "Mujhe aapko sunne mein dikkat ho rahi hai. Main aapko customer service agent se jod raha hoon.",
			PromptTransfer:      "Aapko agent se joda ja raha hai. Kripya pratiksha karein.",
			PromptClosing:       "Aapke samay ke liye dhanyavaad. Namaste.",
		},
	})
}

// Lookup returns the prompt text for (lang, kind), falling back to the
// default language when lang has no table or entry.
func (s *Script) Lookup(lang string, kind PromptKind) string {
	if table, ok := s.prompts[lang]; ok {
		if text, ok := table[kind]; ok {
			return text
		}
	}
	if lang != s.defaultLang {
		return s.Lookup(s.defaultLang, kind)
	}
	return ""
}

// Languages lists the languages the script can speak.
func (s *Script) Languages() []string {
	langs := make([]string, 0, len(s.prompts))
	for lang := range s.prompts {
		langs = append(langs, lang)
	}
	return langs
}

// DefaultLanguage returns the fallback language.
func (s *Script) DefaultLanguage() string {
	return s.defaultLang
}
