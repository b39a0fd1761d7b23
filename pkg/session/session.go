// Package session runs one outbound call end to end: it resolves the media
// stream to a customer snapshot, drives the conversation state machine, and
// records exactly one terminal ledger status no matter how the call ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/outdial-ai/outdial/pkg/asr"
	"github.com/outdial-ai/outdial/pkg/audio"
	"github.com/outdial-ai/outdial/pkg/carrier"
	"github.com/outdial-ai/outdial/pkg/correlation"
	"github.com/outdial-ai/outdial/pkg/dialog"
	"github.com/outdial-ai/outdial/pkg/intent"
	"github.com/outdial-ai/outdial/pkg/ledger"
	"github.com/outdial-ai/outdial/pkg/pacer"
	"github.com/outdial-ai/outdial/pkg/transcript"
	obs "github.com/outdial-ai/outdial/pkg/trace"
)

// TriggerIDParam is the custom parameter the trigger request plants on the
// media stream so the session can resolve before any status callback lands.
const TriggerIDParam = "trigger_id"

// ErrResolutionTimeout is returned when no snapshot appears within the
// resolution ceiling.
var ErrResolutionTimeout = errors.New("session: resolution timed out")

// Conn is the slice of the media connection the session drives. It is
// satisfied by *carrier.MediaConnection.
type Conn interface {
	pacer.FrameConn
	Started() <-chan struct{}
	Done() <-chan struct{}
	Media() <-chan carrier.MediaFrame
	CallID() string
	CustomParameter(key string) string
	Close() error
}

// PromptRenderer produces carrier-ready μ-law for a prompt. Satisfied by
// *synth.Renderer.
type PromptRenderer interface {
	Render(ctx context.Context, language, text string) ([]byte, error)
}

// Config holds the per-session timing knobs.
type Config struct {
	// ResolutionPoll is the interval between snapshot lookups while the
	// status callback races the media stream.
	ResolutionPoll time.Duration
	// ResolutionCeiling bounds the whole resolution wait, start event
	// included.
	ResolutionCeiling time.Duration
	// SilenceTimeout bounds one listening window; expiry counts as a
	// rejected turn.
	SilenceTimeout time.Duration
	// RetryThreshold is passed through to the conversation machine;
	// <= 0 selects the default.
	RetryThreshold int

	Segmenter asr.SegmenterConfig
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		ResolutionPoll:    500 * time.Millisecond,
		ResolutionCeiling: 10 * time.Second,
		SilenceTimeout:    6 * time.Second,
		RetryThreshold:    dialog.DefaultRetryThreshold,
		Segmenter:         asr.DefaultSegmenterConfig(),
	}
}

// Deps are the shared services a session borrows. All of them outlive the
// session and are safe for concurrent use.
type Deps struct {
	Store      correlation.Store
	Ledger     ledger.Ledger
	Renderer   PromptRenderer
	Recognizer asr.Recognizer
	Classifier intent.Classifier
	Gate       *transcript.Gate
	Pacer      *pacer.Pacer
	Script     *dialog.Script
}

// Session owns one call from media-stream attach to terminal ledger write.
type Session struct {
	cfg  Config
	deps Deps

	conn      Conn
	machine   *dialog.Machine
	segmenter *asr.Segmenter
	snapshot  *correlation.Snapshot

	finalized bool
}

// New creates a session for one upgraded media connection.
func New(cfg Config, deps Deps, conn Conn) *Session {
	if cfg.ResolutionPoll <= 0 {
		cfg.ResolutionPoll = 500 * time.Millisecond
	}
	if cfg.ResolutionCeiling <= 0 {
		cfg.ResolutionCeiling = 10 * time.Second
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 6 * time.Second
	}
	return &Session{
		cfg:       cfg,
		deps:      deps,
		conn:      conn,
		segmenter: asr.NewSegmenter(cfg.Segmenter),
	}
}

// Run drives the call to completion. It always closes the connection and
// always leaves exactly one terminal status in the ledger.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	ctx, span := obs.StartSpan(ctx, "session.run")
	defer span.End()

	snap, err := s.resolve(ctx)
	if err != nil {
		obs.RecordError(span, err)
		reason := abortOutcome(err)
		if errors.Is(err, ErrResolutionTimeout) {
			reason = "RESOLUTION_TIMEOUT"
		}
		s.finalize(ctx, ledger.StatusFailed, reason)
		return err
	}
	s.snapshot = snap
	span.SetAttributes(obs.CallAttrs(snap.TriggerID, s.conn.CallID())...)

	s.machine = dialog.NewMachine(s.callTag(), s.cfg.RetryThreshold)
	act := s.machine.Resolve(snap.PreferredLang)

	for {
		if len(act.Speak) > 0 {
			for _, u := range act.Speak {
				if err := s.speak(ctx, u); err != nil {
					return s.abort(ctx, span, err)
				}
			}
			act = s.machine.PlaybackComplete()
			continue
		}

		if act.Finalize != nil {
			s.finalize(ctx, *act.Finalize, act.Outcome)
			span.SetAttributes(obs.StageAttrs(s.machine.Stage().String())...)
			return nil
		}

		if act.Listen {
			act, err = s.listen(ctx)
			if err != nil {
				return s.abort(ctx, span, err)
			}
			continue
		}

		// The machine declined the event; treat as a fresh listening
		// window rather than spinning.
		act = dialog.Action{Listen: true}
	}
}

// callTag identifies the call in logs, preferring the carrier id.
func (s *Session) callTag() string {
	if id := s.conn.CallID(); id != "" {
		return id
	}
	if s.snapshot != nil {
		return s.snapshot.TriggerID
	}
	return "unresolved"
}

// resolve waits for the start event, then races the correlation lookup
// against the resolution ceiling. The media stream usually arrives before
// the carrier's status callback has written the call id, so the trigger id
// planted in the custom parameters is the reliable first key.
func (s *Session) resolve(ctx context.Context) (*correlation.Snapshot, error) {
	deadline := time.NewTimer(s.cfg.ResolutionCeiling)
	defer deadline.Stop()

	select {
	case <-s.conn.Started():
	case <-s.conn.Done():
		return nil, carrier.ErrConnectionClosed
	case <-deadline.C:
		return nil, ErrResolutionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ticker := time.NewTicker(s.cfg.ResolutionPoll)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if snap := s.lookup(ctx); snap != nil {
			log.Printf("[Session %s] Resolved after %d attempt(s)", s.conn.CallID(), attempt)
			// A resolved live media stream is the in-progress lifecycle
			// change; report it so audio eligibility reads from the ledger.
			if _, err := s.deps.Ledger.Record(ctx, s.ledgerKey(), ledger.StatusInProgress, map[string]string{
				"source": "media_stream",
			}); err != nil {
				log.Printf("[Session %s] In-progress ledger write failed: %v", s.conn.CallID(), err)
			}
			return snap, nil
		}

		select {
		case <-ticker.C:
		case <-s.conn.Done():
			return nil, carrier.ErrConnectionClosed
		case <-deadline.C:
			return nil, ErrResolutionTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// lookup tries the carrier call id, then the trigger id, aliasing the entry
// under the call id on a trigger-id hit so the status webhook and the
// ledger view share one key space.
func (s *Session) lookup(ctx context.Context) *correlation.Snapshot {
	callID := s.conn.CallID()
	if callID != "" {
		if snap, err := s.deps.Store.Get(ctx, callID); err == nil {
			return snap
		}
	}

	triggerID := s.conn.CustomParameter(TriggerIDParam)
	if triggerID == "" {
		return nil
	}
	snap, err := s.deps.Store.Get(ctx, triggerID)
	if err != nil {
		return nil
	}

	if callID != "" && snap.CarrierCallID != callID {
		if err := s.deps.Store.Reindex(ctx, triggerID, callID); err != nil {
			log.Printf("[Session %s] Reindex failed: %v", callID, err)
		}
	}
	return snap
}

// speak renders one prompt and streams it out at playback rate. Inbound
// frames arriving mid-prompt are drained and discarded so the engine never
// transcribes its own echo.
func (s *Session) speak(ctx context.Context, u dialog.Utterance) error {
	if err := s.audioAllowed(ctx); err != nil {
		return err
	}

	text := s.fillPlaceholders(s.deps.Script.Lookup(u.Language, u.Kind))

	mulaw, err := s.deps.Renderer.Render(ctx, u.Language, text)
	if err != nil {
		return fmt.Errorf("render %s prompt: %w", u.Kind, err)
	}

	drainStop := make(chan struct{})
	go s.drainMedia(drainStop)
	defer close(drainStop)

	stats, err := s.deps.Pacer.Stream(ctx, s.conn, mulaw)
	if err != nil {
		return err
	}
	log.Printf("[Session %s] Played %s prompt (%d/%d frames)",
		s.callTag(), u.Kind, stats.FramesSent, stats.FramesAttempted)

	// Activity extends the correlation entry so long calls outlive the TTL.
	if err := s.deps.Store.Touch(ctx, s.ledgerKey(), correlation.DefaultTTL); err != nil && !errors.Is(err, correlation.ErrNotFound) {
		log.Printf("[Session %s] Touch failed: %v", s.callTag(), err)
	}
	return nil
}

// audioAllowed permits output only while the call is IN_PROGRESS: a call
// the ledger still shows as ringing must not hear prompts, and a late
// carrier callback can end the call under the session's feet.
func (s *Session) audioAllowed(ctx context.Context) error {
	if s.finalized {
		return errors.New("session: audio after finalization")
	}
	current, err := s.deps.Ledger.Current(ctx, s.ledgerKey())
	if err != nil {
		return fmt.Errorf("session: audio refused, no ledger status: %w", err)
	}
	if current != ledger.StatusInProgress {
		return fmt.Errorf("session: audio refused, call is %s", current)
	}
	return nil
}

func (s *Session) drainMedia(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case _, ok := <-s.conn.Media():
			if !ok {
				return
			}
		}
	}
}

// fillPlaceholders substitutes snapshot fields into prompt text.
func (s *Session) fillPlaceholders(text string) string {
	if s.snapshot == nil {
		return text
	}
	return strings.NewReplacer(
		"{name}", s.snapshot.CustomerName,
		"{amount}", s.snapshot.AmountDue,
		"{due_date}", s.snapshot.DueDate,
	).Replace(text)
}

// listen runs one listening window: it gates utterances out of the inbound
// stream until one closes, the silence timeout fires, or the connection
// drops. A timeout is fed to the machine as an empty-transcript rejection.
func (s *Session) listen(ctx context.Context) (dialog.Action, error) {
	s.segmenter.Reset()

	timer := time.NewTimer(s.cfg.SilenceTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return dialog.Action{}, ctx.Err()
		case <-s.conn.Done():
			return dialog.Action{}, carrier.ErrConnectionClosed
		case <-timer.C:
			log.Printf("[Session %s] Silence timeout in %s", s.callTag(), s.machine.Stage())
			return s.machine.Reject(transcript.RejectEmpty), nil
		case frame, ok := <-s.conn.Media():
			if !ok {
				return dialog.Action{}, carrier.ErrConnectionClosed
			}
			utt := s.segmenter.Feed(frame.Payload)
			if utt == nil {
				// The timeout covers silence, not slow talkers: hold it
				// open while an utterance is being spoken.
				if s.segmenter.Active() {
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(s.cfg.SilenceTimeout)
				}
				continue
			}
			return s.handleUtterance(ctx, utt), nil
		}
	}
}

// handleUtterance recognizes and gates one closed utterance, then feeds the
// verdict to the machine.
func (s *Session) handleUtterance(ctx context.Context, utt *asr.Utterance) dialog.Action {
	text, err := s.deps.Recognizer.Recognize(ctx, utt.PCM, audio.CarrierSampleRate, s.machine.Language())
	if err != nil {
		log.Printf("[Session %s] Recognition failed: %v", s.callTag(), err)
		return s.machine.Reject(transcript.RejectEmpty)
	}

	verdict := s.deps.Gate.Evaluate(text, utt.Energy)
	if !verdict.Accepted {
		return s.machine.Reject(verdict.Reason)
	}

	analysis, err := s.deps.Classifier.Classify(ctx, verdict.Text)
	if err != nil {
		log.Printf("[Session %s] Classification failed: %v", s.callTag(), err)
		analysis = intent.Analysis{Intent: intent.IntentAmbiguous}
	}
	return s.machine.Accept(verdict.Text, analysis)
}

// abort finalizes a call torn down mid-flight. The terminal status depends
// on how far the conversation got.
func (s *Session) abort(ctx context.Context, span trace.Span, cause error) error {
	obs.RecordError(span, cause)
	status := ledger.StatusFailed
	if s.machine != nil {
		status = s.machine.Abort()
	}
	s.finalize(ctx, status, abortOutcome(cause))

	if errors.Is(cause, carrier.ErrConnectionClosed) {
		// Expected hang-up path, already reflected in the ledger.
		return nil
	}
	// The line may still be up; drop any audio the carrier has buffered so
	// the caller is not left listening to a half-played prompt.
	if ac, ok := s.conn.(audioClearer); ok {
		if err := ac.ClearAudio(); err != nil {
			log.Printf("[Session %s] Clear audio failed: %v", s.callTag(), err)
		}
	}
	return cause
}

// audioClearer is implemented by connections that can flush carrier-side
// buffered audio, such as carrier.MediaConnection.
type audioClearer interface {
	ClearAudio() error
}

// abortOutcome labels the terminal ledger write by what actually ended the
// call, so a synthesis failure is not reported as a hang-up.
func abortOutcome(cause error) string {
	switch {
	case errors.Is(cause, carrier.ErrConnectionClosed):
		return "connection_lost"
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return "canceled"
	default:
		return "engine_error"
	}
}

// finalize records the single terminal ledger entry for this call. A second
// call is a no-op: whichever path finishes first wins.
func (s *Session) finalize(ctx context.Context, status ledger.Status, outcome string) {
	if s.finalized {
		return
	}
	s.finalized = true

	meta := map[string]string{"outcome": outcome}
	if s.machine != nil {
		m := s.machine.Metrics()
		meta["transcripts_accepted"] = strconv.Itoa(m.Accepted)
		meta["transcripts_rejected"] = strconv.Itoa(m.Rejected)
		meta["low_energy_rejects"] = strconv.Itoa(m.LowEnergy)
		meta["language"] = s.machine.Language()
	}

	key := s.ledgerKey()
	accepted, err := s.deps.Ledger.Record(ctx, key, status, meta)
	if err != nil {
		log.Printf("[Session %s] Terminal ledger write failed: %v", key, err)
		return
	}
	log.Printf("[Session %s] Finalized %s (%s), accepted=%t", key, status, outcome, accepted)
}

// ledgerKey prefers the carrier call id, falling back to the trigger id for
// calls that never produced a start event with a call id.
func (s *Session) ledgerKey() string {
	if id := s.conn.CallID(); id != "" {
		return id
	}
	if id := s.conn.CustomParameter(TriggerIDParam); id != "" {
		return id
	}
	return "unknown"
}
