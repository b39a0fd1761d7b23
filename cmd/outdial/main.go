package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/outdial-ai/outdial/pkg/asr"
	"github.com/outdial-ai/outdial/pkg/correlation"
	"github.com/outdial-ai/outdial/pkg/dialog"
	"github.com/outdial-ai/outdial/pkg/intent"
	"github.com/outdial-ai/outdial/pkg/ledger"
	"github.com/outdial-ai/outdial/pkg/pacer"
	"github.com/outdial-ai/outdial/pkg/server"
	"github.com/outdial-ai/outdial/pkg/session"
	"github.com/outdial-ai/outdial/pkg/synth"
	"github.com/outdial-ai/outdial/pkg/trace"
	"github.com/outdial-ai/outdial/pkg/transcript"
)

// Environment variables:
//   - LISTEN_ADDR: HTTP listen address (default ":8080")
//   - STREAM_URL: public WebSocket URL for the carrier, e.g. "wss://host/media"
//   - REDIS_ADDR: enables the Redis store and ledger backends when set
//   - OPENAI_API_KEY: used for synthesis, transcription, and classification
//   - INTENT_CLASSIFIER: "openai" or "rules" (default "rules")
//   - RETRY_THRESHOLD, SILENCE_TIMEOUT, RESOLUTION_POLL, RESOLUTION_CEILING,
//     FRAME_SIZE, TAIL_MARGIN: session tuning overrides
//   - TRACE_EXPORTER: "stdout" or "none"
func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := trace.Shutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracing: %v", err)
		}
	}()

	store, led := buildBackends()
	defer store.Close()
	defer led.Close()

	deps := session.Deps{
		Store:      store,
		Ledger:     led,
		Renderer:   synth.NewRenderer(synth.NewOpenAIProvider("")),
		Recognizer: asr.NewWhisperRecognizer(""),
		Classifier: buildClassifier(),
		Gate:       transcript.NewGate(transcript.DefaultConfig()),
		Pacer: pacer.New(pacer.Config{
			FrameSize:  envInt("FRAME_SIZE", 0),
			TailMargin: envDuration("TAIL_MARGIN", 0),
		}),
		Script: dialog.DefaultScript(),
	}

	sessionCfg := session.DefaultConfig()
	sessionCfg.RetryThreshold = envInt("RETRY_THRESHOLD", sessionCfg.RetryThreshold)
	sessionCfg.SilenceTimeout = envDuration("SILENCE_TIMEOUT", sessionCfg.SilenceTimeout)
	sessionCfg.ResolutionPoll = envDuration("RESOLUTION_POLL", sessionCfg.ResolutionPoll)
	sessionCfg.ResolutionCeiling = envDuration("RESOLUTION_CEILING", sessionCfg.ResolutionCeiling)

	srv := server.New(server.Config{
		Address:   envString("LISTEN_ADDR", ":8080"),
		StreamURL: os.Getenv("STREAM_URL"),
	}, sessionCfg, deps)

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// buildBackends selects Redis-backed state when REDIS_ADDR is set, so
// multiple engine instances can share one correlation space and ledger.
func buildBackends() (correlation.Store, ledger.Ledger) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Println("Using in-memory store and ledger")
		return correlation.NewMemoryStore(), ledger.NewMemoryLedger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	log.Printf("Using Redis backends at %s", addr)
	return correlation.NewRedisStore(client), ledger.NewRedisLedger(client)
}

func buildClassifier() intent.Classifier {
	if envString("INTENT_CLASSIFIER", "rules") == "openai" {
		c, err := intent.NewOpenAIClassifier(intent.OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  os.Getenv("INTENT_MODEL"),
		})
		if err != nil {
			log.Printf("OpenAI classifier unavailable (%v), using rules", err)
			return intent.NewRuleClassifier()
		}
		return c
	}
	return intent.NewRuleClassifier()
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Ignoring invalid %s=%q", key, v)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Ignoring invalid %s=%q", key, v)
	}
	return fallback
}
