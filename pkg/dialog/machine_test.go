package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outdial-ai/outdial/pkg/intent"
	"github.com/outdial-ai/outdial/pkg/ledger"
	"github.com/outdial-ai/outdial/pkg/transcript"
)

func TestMachineHappyPathToTransfer(t *testing.T) {
	m := NewMachine("CA-1", 3)
	require.Equal(t, StageAwaitingResolution, m.Stage())

	// Resolution: greeting in the snapshot's guessed language
	action := m.Resolve("en")
	require.Len(t, action.Speak, 1)
	assert.Equal(t, PromptGreeting, action.Speak[0].Kind)
	assert.Equal(t, "en", action.Speak[0].Language)
	assert.Equal(t, StageGreetingSent, m.Stage())

	// Greeting played: listen for confirmation
	action = m.PlaybackComplete()
	assert.True(t, action.Listen)
	assert.Equal(t, StageWaitingForConfirmation, m.Stage())

	// Customer answers in Hindi although the snapshot guessed English:
	// the lock follows the speech evidence
	action = m.Accept("haan ji bol raha hoon", intent.Analysis{Language: "hi", Intent: intent.IntentAffirmative})
	require.Len(t, action.Speak, 1)
	assert.Equal(t, PromptInfo, action.Speak[0].Kind)
	assert.Equal(t, "hi", action.Speak[0].Language)
	assert.True(t, m.LanguageLocked())
	assert.Equal(t, StageLanguageLocked, m.Stage())

	// Info played: agent question follows automatically
	action = m.PlaybackComplete()
	require.Len(t, action.Speak, 1)
	assert.Equal(t, PromptAgentQuestion, action.Speak[0].Kind)
	assert.Equal(t, StageInfoSent, m.Stage())

	// Question played: listen for the answer
	action = m.PlaybackComplete()
	assert.True(t, action.Listen)
	assert.Equal(t, StageWaitingAgentResponse, m.Stage())

	// Affirmative answer: transfer message, then exactly one terminal write
	action = m.Accept("haan", intent.Analysis{Language: "hi", Intent: intent.IntentAffirmative})
	require.Len(t, action.Speak, 1)
	assert.Equal(t, PromptTransfer, action.Speak[0].Kind)
	assert.Equal(t, StageAgentTransfer, m.Stage())

	action = m.PlaybackComplete()
	require.NotNil(t, action.Finalize)
	assert.Equal(t, ledger.StatusCompleted, *action.Finalize)
	assert.Equal(t, "agent_transfer", action.Outcome)
	assert.Equal(t, StageEnded, m.Stage())
}

func TestMachineDeclineClosesCall(t *testing.T) {
	m := driveToAgentResponse(t)

	// "No, thank you" -> CLOSING -> one COMPLETED write
	action := m.Accept("No, thank you", intent.Analysis{Language: "en", Intent: intent.IntentNegative})
	require.Len(t, action.Speak, 1)
	assert.Equal(t, PromptClosing, action.Speak[0].Kind)
	assert.Equal(t, StageClosing, m.Stage())

	action = m.PlaybackComplete()
	require.NotNil(t, action.Finalize)
	assert.Equal(t, ledger.StatusCompleted, *action.Finalize)
	assert.Equal(t, "declined", action.Outcome)
}

func TestMachineRetryLaw(t *testing.T) {
	m := NewMachine("CA-1", 3)
	m.Resolve("en")
	m.PlaybackComplete() // -> WAITING_FOR_CONFIRMATION

	// A mix of rejection reasons feeds the same counter
	reasons := []transcript.RejectReason{
		transcript.RejectEmpty,
		transcript.RejectLowEnergy,
		transcript.RejectNoiseOnly,
	}

	for i, reason := range reasons[:2] {
		action := m.Reject(reason)
		require.Len(t, action.Speak, 1, "rejection %d", i)
		assert.Equal(t, PromptReprompt, action.Speak[0].Kind)
		assert.Equal(t, StageWaitingForConfirmation, m.Stage())

		// Reprompt playback rearms listening in the same stage
		action = m.PlaybackComplete()
		assert.True(t, action.Listen)
	}

	// Third consecutive rejection hits the threshold: exactly one audible
	// escalation message, then the terminal write
	action := m.Reject(reasons[2])
	require.Len(t, action.Speak, 1)
	assert.Equal(t, PromptEscalation, action.Speak[0].Kind)
	assert.Equal(t, StageEscalated, m.Stage())

	action = m.PlaybackComplete()
	require.NotNil(t, action.Finalize)
	assert.Equal(t, ledger.StatusEscalated, *action.Finalize)
	assert.Equal(t, "retry_exhausted", action.Outcome)

	metrics := m.Metrics()
	assert.Equal(t, 3, metrics.Rejected)
	assert.Equal(t, 1, metrics.LowEnergy)
}

func TestMachineRetryCounterResetsOnAccept(t *testing.T) {
	m := NewMachine("CA-1", 3)
	m.Resolve("en")
	m.PlaybackComplete()

	m.Reject(transcript.RejectEmpty)
	m.PlaybackComplete()
	m.Reject(transcript.RejectEmpty)
	m.PlaybackComplete()

	// Acceptance resets the stage counter before the threshold
	m.Accept("yes speaking", intent.Analysis{Language: "en", Intent: intent.IntentAffirmative})
	assert.Equal(t, 0, m.retries[StageWaitingForConfirmation])
}

func TestMachineAmbiguousAnswerIsRejected(t *testing.T) {
	m := driveToAgentResponse(t)

	action := m.Accept("the weather is nice", intent.Analysis{Intent: intent.IntentAmbiguous})
	require.Len(t, action.Speak, 1)
	assert.Equal(t, PromptReprompt, action.Speak[0].Kind)
	assert.Equal(t, StageWaitingAgentResponse, m.Stage())
	assert.Equal(t, 1, m.Metrics().Rejected)
}

func TestMachineLanguageLockedOnce(t *testing.T) {
	m := driveToAgentResponse(t)
	require.Equal(t, "en", m.Language())

	// A Hindi-looking answer at the agent turn must not re-detect language
	m.Accept("haan", intent.Analysis{Language: "hi", Intent: intent.IntentAffirmative})
	assert.Equal(t, "en", m.Language(), "language is locked at the confirmation turn")
}

func TestMachineLanguageFallsBackToGuess(t *testing.T) {
	m := NewMachine("CA-1", 3)
	m.Resolve("hi")
	m.PlaybackComplete()

	// Classifier could not tell the language; keep the snapshot guess
	m.Accept("mmm okay fine", intent.Analysis{Language: ""})
	assert.Equal(t, "hi", m.Language())
	assert.True(t, m.LanguageLocked())
}

func TestMachineIgnoresEventsOutOfStage(t *testing.T) {
	m := NewMachine("CA-1", 3)

	assert.Empty(t, m.Accept("yes", intent.Analysis{}).Speak)
	assert.Empty(t, m.Reject(transcript.RejectEmpty).Speak)
	assert.Empty(t, m.PlaybackComplete().Speak)
	assert.Equal(t, StageAwaitingResolution, m.Stage())

	m.Resolve("en")
	assert.Empty(t, m.Resolve("en").Speak, "double resolve is ignored")
	assert.Equal(t, StageGreetingSent, m.Stage())
}

func TestMachineAbort(t *testing.T) {
	t.Run("Mid-conversation abort fails the call", func(t *testing.T) {
		m := NewMachine("CA-1", 3)
		m.Resolve("en")
		assert.Equal(t, ledger.StatusFailed, m.Abort())
		assert.Equal(t, StageEnded, m.Stage())
	})

	t.Run("Abort during closing still completes", func(t *testing.T) {
		m := driveToAgentResponse(t)
		m.Accept("no", intent.Analysis{Intent: intent.IntentNegative})
		assert.Equal(t, ledger.StatusCompleted, m.Abort())
	})
}

// driveToAgentResponse advances a machine to WAITING_AGENT_RESPONSE with
// language locked to English.
func driveToAgentResponse(t *testing.T) *Machine {
	t.Helper()

	m := NewMachine("CA-1", 3)
	m.Resolve("en")
	m.PlaybackComplete()
	m.Accept("yes speaking", intent.Analysis{Language: "en", Intent: intent.IntentAffirmative})
	m.PlaybackComplete()
	m.PlaybackComplete()
	require.Equal(t, StageWaitingAgentResponse, m.Stage())
	return m
}
