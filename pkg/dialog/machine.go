package dialog

import (
	"log"

	"github.com/outdial-ai/outdial/pkg/intent"
	"github.com/outdial-ai/outdial/pkg/ledger"
	"github.com/outdial-ai/outdial/pkg/transcript"
)

// DefaultRetryThreshold is the number of consecutive rejected transcripts in
// one listening stage that triggers escalation.
const DefaultRetryThreshold = 3

// Utterance is one prompt to synthesize and play.
type Utterance struct {
	Kind     PromptKind
	Language string
}

// Action is what the orchestrator must do after feeding the machine an
// event: play the utterances in order, then either arm a listening window,
// or finalize the call with the given ledger status.
type Action struct {
	Speak  []Utterance
	Listen bool
	// Finalize, when set, is the single terminal ledger status to record.
	Finalize *ledger.Status
	// Outcome annotates the terminal write ("agent_transfer", "declined",
	// "retry_exhausted").
	Outcome string
}

func statusPtr(s ledger.Status) *ledger.Status { return &s }

// QualityMetrics are rolling per-call recognition counters.
type QualityMetrics struct {
	Accepted  int
	Rejected  int
	LowEnergy int
}

// Machine is the per-call conversation state machine. It is single-writer:
// only the owning orchestrator goroutine may call its methods.
type Machine struct {
	callTag string // for logs

	stage          Stage
	guessedLang    string
	resolvedLang   string
	retryThreshold int

	retries map[Stage]int
	metrics QualityMetrics
}

// NewMachine creates a machine in AWAITING_RESOLUTION. callTag identifies
// the call in logs, retryThreshold <= 0 selects the default.
func NewMachine(callTag string, retryThreshold int) *Machine {
	if retryThreshold <= 0 {
		retryThreshold = DefaultRetryThreshold
	}
	return &Machine{
		callTag:        callTag,
		stage:          StageAwaitingResolution,
		retryThreshold: retryThreshold,
		retries:        make(map[Stage]int),
	}
}

// Stage returns the current conversation stage.
func (m *Machine) Stage() Stage {
	return m.stage
}

// Language returns the locked language if set, else the greeting guess.
func (m *Machine) Language() string {
	if m.resolvedLang != "" {
		return m.resolvedLang
	}
	return m.guessedLang
}

// LanguageLocked reports whether the confirmation turn has locked the
// spoken language.
func (m *Machine) LanguageLocked() bool {
	return m.resolvedLang != ""
}

// Metrics returns a copy of the rolling quality counters.
func (m *Machine) Metrics() QualityMetrics {
	return m.metrics
}

func (m *Machine) transition(to Stage) {
	log.Printf("[Dialog %s] %s -> %s", m.callTag, m.stage, to)
	m.stage = to
}

// Resolve fires once the customer snapshot is attached. preferredLang is
// the snapshot's stored guess; the greeting is delivered speculatively in it
// before any speech evidence exists.
func (m *Machine) Resolve(preferredLang string) Action {
	if m.stage != StageAwaitingResolution {
		log.Printf("[Dialog %s] Ignoring resolve in stage %s", m.callTag, m.stage)
		return Action{}
	}

	m.guessedLang = preferredLang
	m.transition(StageGreetingSent)
	return Action{Speak: []Utterance{{Kind: PromptGreeting, Language: m.Language()}}}
}

// PlaybackComplete fires after the pacer reports an utterance fully heard.
func (m *Machine) PlaybackComplete() Action {
	switch m.stage {
	case StageGreetingSent:
		m.transition(StageWaitingForConfirmation)
		return Action{Listen: true}

	case StageLanguageLocked:
		m.transition(StageInfoSent)
		return Action{Speak: []Utterance{{Kind: PromptAgentQuestion, Language: m.Language()}}}

	case StageInfoSent:
		m.transition(StageWaitingAgentResponse)
		return Action{Listen: true}

	case StageWaitingForConfirmation, StageWaitingAgentResponse:
		// A reprompt finished; listen again in the same stage.
		return Action{Listen: true}

	case StageAgentTransfer:
		m.transition(StageEnded)
		return Action{Finalize: statusPtr(ledger.StatusCompleted), Outcome: "agent_transfer"}

	case StageClosing:
		m.transition(StageEnded)
		return Action{Finalize: statusPtr(ledger.StatusCompleted), Outcome: "declined"}

	case StageEscalated:
		m.transition(StageEnded)
		return Action{Finalize: statusPtr(ledger.StatusEscalated), Outcome: "retry_exhausted"}

	default:
		log.Printf("[Dialog %s] Ignoring playback completion in stage %s", m.callTag, m.stage)
		return Action{}
	}
}

// Accept fires for a gate-accepted transcript in a listening stage.
// analysis is the classifier's reading of the text.
func (m *Machine) Accept(text string, analysis intent.Analysis) Action {
	if !m.stage.Listening() {
		log.Printf("[Dialog %s] Ignoring transcript in stage %s", m.callTag, m.stage)
		return Action{}
	}

	switch m.stage {
	case StageWaitingForConfirmation:
		m.metrics.Accepted++
		m.retries[m.stage] = 0

		// Lock the spoken language exactly once, from real speech
		// evidence, never from the snapshot's guess. Later turns reuse
		// the lock so a stray mid-call language flip cannot corrupt
		// content selection.
		lang := analysis.Language
		if lang == "" {
			lang = m.guessedLang
		}
		m.resolvedLang = lang
		log.Printf("[Dialog %s] Language locked: %s", m.callTag, m.resolvedLang)

		m.transition(StageLanguageLocked)
		return Action{Speak: []Utterance{{Kind: PromptInfo, Language: m.Language()}}}

	case StageWaitingAgentResponse:
		switch analysis.Intent {
		case intent.IntentAffirmative:
			m.metrics.Accepted++
			m.retries[m.stage] = 0
			m.transition(StageAgentTransfer)
			return Action{Speak: []Utterance{{Kind: PromptTransfer, Language: m.Language()}}}

		case intent.IntentNegative:
			m.metrics.Accepted++
			m.retries[m.stage] = 0
			m.transition(StageClosing)
			return Action{Speak: []Utterance{{Kind: PromptClosing, Language: m.Language()}}}

		default:
			// Ambiguous answers travel the rejection path.
			return m.Reject(transcript.RejectNoiseOnly)
		}
	}

	return Action{}
}

// Reject fires for a gate-rejected transcript (or a silence timeout, which
// the orchestrator maps to RejectEmpty) in a listening stage. All rejection
// reasons feed one counter per stage.
func (m *Machine) Reject(reason transcript.RejectReason) Action {
	if !m.stage.Listening() {
		log.Printf("[Dialog %s] Ignoring rejection in stage %s", m.callTag, m.stage)
		return Action{}
	}

	m.metrics.Rejected++
	if reason == transcript.RejectLowEnergy {
		m.metrics.LowEnergy++
	}

	m.retries[m.stage]++
	count := m.retries[m.stage]
	log.Printf("[Dialog %s] Transcript rejected (%s), retry %d/%d in %s",
		m.callTag, reason, count, m.retryThreshold, m.stage)

	if count >= m.retryThreshold {
		// Retry exhausted is a successful escalation path, not an error:
		// the customer always hears the escalation message before the
		// transfer.
		m.transition(StageEscalated)
		return Action{Speak: []Utterance{{Kind: PromptEscalation, Language: m.Language()}}}
	}

	return Action{Speak: []Utterance{{Kind: PromptReprompt, Language: m.Language()}}}
}

// Abort finalizes the machine when the connection is lost or resolution
// times out. Returns the terminal ledger status reflecting the last known
// stage; the orchestrator performs the write.
func (m *Machine) Abort() ledger.Status {
	last := m.stage
	m.transition(StageEnded)

	switch last {
	case StageAgentTransfer, StageClosing:
		return ledger.StatusCompleted
	case StageEscalated:
		return ledger.StatusEscalated
	default:
		return ledger.StatusFailed
	}
}
