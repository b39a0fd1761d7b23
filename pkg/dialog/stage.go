// Package dialog implements the per-call conversation state machine.
//
// The machine is event-driven and single-writer: exactly one goroutine (the
// session orchestrator) feeds it resolution, playback-completion, and
// transcript events, and executes the speak/listen actions it returns. It
// performs no I/O itself, which keeps every transition unit-testable.
package dialog

// Stage is a node in the conversation graph.
type Stage int

const (
	StageAwaitingResolution Stage = iota
	StageGreetingSent
	StageWaitingForConfirmation
	StageLanguageLocked
	StageInfoSent
	StageWaitingAgentResponse
	StageAgentTransfer
	StageClosing
	StageEscalated
	StageEnded
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingResolution:
		return "AWAITING_RESOLUTION"
	case StageGreetingSent:
		return "GREETING_SENT"
	case StageWaitingForConfirmation:
		return "WAITING_FOR_CONFIRMATION"
	case StageLanguageLocked:
		return "LANGUAGE_LOCKED"
	case StageInfoSent:
		return "INFO_SENT"
	case StageWaitingAgentResponse:
		return "WAITING_AGENT_RESPONSE"
	case StageAgentTransfer:
		return "AGENT_TRANSFER"
	case StageClosing:
		return "CLOSING"
	case StageEscalated:
		return "ESCALATED"
	case StageEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Listening reports whether the stage waits for customer speech.
func (s Stage) Listening() bool {
	return s == StageWaitingForConfirmation || s == StageWaitingAgentResponse
}

// Terminal reports whether no further prompts follow this stage; each
// terminal stage produces exactly one ledger write on the way to ENDED.
func (s Stage) Terminal() bool {
	return s == StageAgentTransfer || s == StageClosing || s == StageEscalated
}
