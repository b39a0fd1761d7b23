// Package pacer streams a finished synthesis buffer to the carrier as a
// sequence of fixed-size media frames at real-time playback rate.
//
// Bursting a whole utterance at once overflows the playback buffer on the
// carrier side, so each frame is followed by a delay equal to its playback
// duration. A frame that fails to send is logged and skipped rather than
// truncating the rest of the utterance; only a confirmed-closed connection
// stops the loop. Stream returns once the listener is believed to have
// finished hearing the audio, not when the last byte left this process.
package pacer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/outdial-ai/outdial/pkg/audio"
	"github.com/outdial-ai/outdial/pkg/carrier"
	"github.com/outdial-ai/outdial/pkg/trace"
)

// FrameConn is the slice of the carrier connection the pacer needs.
type FrameConn interface {
	SendMediaFrame(mulaw []byte) error
	Closed() bool
}

// MarkConn is a FrameConn that also supports the carrier's mark round-trip:
// a mark sent after the last frame echoes back once the audio buffered
// before it has played out. WaitForMark must block until the mark echoes or
// the timeout elapses.
type MarkConn interface {
	FrameConn
	SendMark(name string) error
	WaitForMark(name string, timeout time.Duration) bool
}

// Config holds the pacing tunables. The frame size is deliberately a single
// configurable value: production history showed multiple inconsistent chunk
// sizes in the wild, and exactly one of them can be right per carrier.
type Config struct {
	// FrameSize in bytes. μ-law carries one sample per byte, so 160 bytes
	// is 20ms at 8kHz.
	FrameSize int
	// SampleRate of the μ-law payload in Hz.
	SampleRate int
	// TailMargin is the fixed safety wait after the last frame's playback
	// duration has elapsed.
	TailMargin time.Duration
}

// DefaultConfig returns carrier-standard pacing: 20ms frames at 8kHz.
func DefaultConfig() Config {
	return Config{
		FrameSize:  160,
		SampleRate: audio.CarrierSampleRate,
		TailMargin: 300 * time.Millisecond,
	}
}

// Stats reports the outcome of one Stream call.
type Stats struct {
	FramesSent      int
	FramesAttempted int
}

// Pacer paces outbound audio delivery for one or more calls; it holds no
// per-call state, so one instance is shared.
type Pacer struct {
	cfg Config
}

// New creates a pacer, filling zero config fields with defaults.
func New(cfg Config) *Pacer {
	def := DefaultConfig()
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.TailMargin <= 0 {
		cfg.TailMargin = def.TailMargin
	}
	return &Pacer{cfg: cfg}
}

// FrameDuration returns the playback duration of one full frame.
func (p *Pacer) FrameDuration() time.Duration {
	return audio.MuLawDuration(p.cfg.FrameSize, p.cfg.SampleRate)
}

// Stream sends mulaw to conn frame by frame at playback rate. It returns
// carrier.ErrConnectionClosed if the connection went away mid-utterance and
// ctx.Err() on cancellation; per-frame send failures are absorbed.
func (p *Pacer) Stream(ctx context.Context, conn FrameConn, mulaw []byte) (Stats, error) {
	ctx, span := trace.StartSpan(ctx, "pacer.stream")
	defer span.End()
	span.SetAttributes(
		attribute.Int("audio.bytes", len(mulaw)),
		attribute.Int("audio.frame_size", p.cfg.FrameSize),
	)

	var stats Stats
	if len(mulaw) == 0 {
		return stats, nil
	}

	for offset := 0; offset < len(mulaw); offset += p.cfg.FrameSize {
		if conn.Closed() {
			log.Printf("[Pacer] Connection closed after %d/%d frames, stopping",
				stats.FramesSent, stats.FramesAttempted)
			return stats, carrier.ErrConnectionClosed
		}

		end := offset + p.cfg.FrameSize
		if end > len(mulaw) {
			end = len(mulaw)
		}
		frame := mulaw[offset:end]

		stats.FramesAttempted++
		if err := conn.SendMediaFrame(frame); err != nil {
			if errors.Is(err, carrier.ErrConnectionClosed) {
				log.Printf("[Pacer] Connection closed after %d/%d frames, stopping",
					stats.FramesSent, stats.FramesAttempted)
				return stats, carrier.ErrConnectionClosed
			}
			// One dropped frame must not truncate the whole message.
			log.Printf("[Pacer] Frame %d send failed, continuing: %v", stats.FramesAttempted, err)
		} else {
			stats.FramesSent++
		}

		// Pace to playback rate: a partial last frame plays for less time.
		if err := sleepCtx(ctx, audio.MuLawDuration(len(frame), p.cfg.SampleRate)); err != nil {
			return stats, err
		}
	}

	// The carrier buffers ahead of the phone; give the listener time to
	// actually hear the tail before the caller moves on to listening. A
	// mark echo is the authoritative completion signal when the connection
	// supports it; the tail margin bounds the wait either way.
	if err := p.waitForTail(ctx, conn, span); err != nil {
		return stats, err
	}

	span.SetAttributes(attribute.Int("audio.frames_sent", stats.FramesSent))
	return stats, nil
}

func (p *Pacer) waitForTail(ctx context.Context, conn FrameConn, span oteltrace.Span) error {
	if mc, ok := conn.(MarkConn); ok {
		name := "pb-" + uuid.NewString()
		if err := mc.SendMark(name); err == nil {
			echoed := mc.WaitForMark(name, p.cfg.TailMargin)
			span.SetAttributes(attribute.Bool("audio.mark_echoed", echoed))
			return ctx.Err()
		}
		// Mark delivery failed; fall through to the plain timer wait.
	}
	return sleepCtx(ctx, p.cfg.TailMargin)
}

// PlaybackDuration returns how long a buffer takes to play plus the tail
// margin, which is how long Stream will take absent failures.
func (p *Pacer) PlaybackDuration(numBytes int) time.Duration {
	return audio.MuLawDuration(numBytes, p.cfg.SampleRate) + p.cfg.TailMargin
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
