// Package server exposes the outbound-call engine over HTTP: a trigger
// endpoint that seeds the correlation store, the carrier-facing connect and
// status-callback webhooks, the per-call media WebSocket, and a read-only
// ledger view.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/outdial-ai/outdial/pkg/carrier"
	"github.com/outdial-ai/outdial/pkg/correlation"
	"github.com/outdial-ai/outdial/pkg/ledger"
	"github.com/outdial-ai/outdial/pkg/session"
)

// Config holds the service configuration.
type Config struct {
	// Address is the listen address (e.g., ":8080").
	Address string

	// MediaPath is the WebSocket path the carrier streams call audio to
	// (default: "/media").
	MediaPath string

	// StreamURL is the public WebSocket URL handed to the carrier in the
	// connect document, e.g. "wss://your-domain.com/media".
	StreamURL string

	// SnapshotTTL bounds correlation entries; zero selects the default.
	SnapshotTTL time.Duration

	// ReadBufferSize for WebSocket upgrades (default: 1024).
	ReadBufferSize int

	// WriteBufferSize for WebSocket upgrades (default: 1024).
	WriteBufferSize int
}

// Server is the HTTP face of the engine. One per process.
type Server struct {
	config      Config
	sessionCfg  session.Config
	sessionDeps session.Deps

	upgrader websocket.Upgrader
	server   *http.Server

	// Active media connections, keyed once the start event names the call.
	active   map[*carrier.MediaConnection]struct{}
	activeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. sessionDeps are shared across all calls.
func New(config Config, sessionCfg session.Config, sessionDeps session.Deps) *Server {
	if config.MediaPath == "" {
		config.MediaPath = "/media"
	}
	if config.SnapshotTTL <= 0 {
		config.SnapshotTTL = correlation.DefaultTTL
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 1024
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 1024
	}

	return &Server{
		config:      config,
		sessionCfg:  sessionCfg,
		sessionDeps: sessionDeps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		active: make(map[*carrier.MediaConnection]struct{}),
	}
}

// Handler returns the route table, exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls", s.handleTrigger)
	mux.HandleFunc("/calls/", s.handleCallStatus)
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/callbacks/status", s.handleStatusCallback)
	mux.HandleFunc(s.config.MediaPath, s.handleMedia)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:    s.config.Address,
		Handler: s.Handler(),
	}

	log.Printf("[Server] Starting on %s", s.config.Address)
	log.Printf("[Server] Media endpoint: %s", s.config.MediaPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] Serve error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down, closing active media connections.
func (s *Server) Stop() error {
	log.Printf("[Server] Stopping...")

	if s.cancel != nil {
		s.cancel()
	}

	s.activeMu.Lock()
	for conn := range s.active {
		conn.Close()
	}
	s.activeMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}

	s.wg.Wait()
	log.Printf("[Server] Stopped")
	return nil
}

// triggerRequest is the POST /calls payload.
type triggerRequest struct {
	CustomerName  string `json:"customer_name"`
	Phone         string `json:"phone"`
	LoanID        string `json:"loan_id,omitempty"`
	AmountDue     string `json:"amount_due,omitempty"`
	DueDate       string `json:"due_date,omitempty"`
	PreferredLang string `json:"preferred_lang,omitempty"`
}

// triggerResponse acknowledges a minted trigger.
type triggerResponse struct {
	TriggerID  string `json:"trigger_id"`
	ConnectURL string `json:"connect_url,omitempty"`
}

// handleTrigger mints a trigger id and seeds the correlation store. The
// caller then places the outbound call with the carrier, pointing its
// connect webhook at /connect?trigger_id=...
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.CustomerName == "" || req.Phone == "" {
		http.Error(w, "customer_name and phone are required", http.StatusBadRequest)
		return
	}
	if req.PreferredLang == "" {
		req.PreferredLang = "en"
	}

	triggerID := uuid.NewString()
	snap := &correlation.Snapshot{
		TriggerID:     triggerID,
		CustomerName:  req.CustomerName,
		Phone:         req.Phone,
		LoanID:        req.LoanID,
		AmountDue:     req.AmountDue,
		DueDate:       req.DueDate,
		PreferredLang: req.PreferredLang,
	}

	if err := s.sessionDeps.Store.Put(r.Context(), triggerID, snap, s.config.SnapshotTTL); err != nil {
		log.Printf("[Server] Seed snapshot failed: %v", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	log.Printf("[Server] Trigger %s minted for %s", triggerID, req.Phone)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(triggerResponse{
		TriggerID:  triggerID,
		ConnectURL: "/connect?trigger_id=" + triggerID,
	})
}

// connectTemplate is the carrier connect document: it opens the media stream
// and plants the trigger id as a custom parameter so the session can resolve
// before the first status callback lands.
var connectTemplate = template.Must(template.New("connect").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="{{.StreamURL}}">
            <Parameter name="trigger_id" value="{{.TriggerID}}" />
        </Stream>
    </Connect>
</Response>`))

// handleConnect serves the connect document when the carrier answers the
// outbound call. The carrier posts the call id here, which is the earliest
// point it is known, so the store is reindexed immediately.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	triggerID := r.FormValue("trigger_id")
	if triggerID == "" {
		http.Error(w, "trigger_id is required", http.StatusBadRequest)
		return
	}

	callID := r.FormValue("CallSid")
	if callID != "" {
		if err := s.sessionDeps.Store.Reindex(r.Context(), triggerID, callID); err != nil {
			// The session's own resolution retries; log and serve anyway.
			log.Printf("[Server] Early reindex %s -> %s failed: %v", triggerID, callID, err)
		}
	}

	log.Printf("[Server] Connect for trigger %s (call %s)", triggerID, callID)

	w.Header().Set("Content-Type", "application/xml")
	connectTemplate.Execute(w, struct {
		StreamURL string
		TriggerID string
	}{s.config.StreamURL, triggerID})
}

// handleStatusCallback ingests carrier call-progress webhooks. Raw carrier
// statuses are mapped onto the ledger's vocabulary; unknown ones are
// acknowledged and dropped so the carrier does not retry them forever.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	callID := r.FormValue("CallSid")
	rawStatus := r.FormValue("CallStatus")
	if callID == "" || rawStatus == "" {
		http.Error(w, "CallSid and CallStatus are required", http.StatusBadRequest)
		return
	}

	if triggerID := r.FormValue("trigger_id"); triggerID != "" {
		if err := s.sessionDeps.Store.Reindex(r.Context(), triggerID, callID); err != nil && !errors.Is(err, correlation.ErrNotFound) {
			log.Printf("[Server] Reindex %s -> %s failed: %v", triggerID, callID, err)
		}
	}

	status, ok := ledger.ParseStatus(rawStatus)
	if !ok {
		log.Printf("[Server] Unmapped carrier status %q for call %s", rawStatus, callID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	accepted, err := s.sessionDeps.Ledger.Record(r.Context(), callID, status, map[string]string{
		"source":     "carrier_callback",
		"raw_status": rawStatus,
	})
	if err != nil {
		log.Printf("[Server] Ledger write failed for call %s: %v", callID, err)
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}

	log.Printf("[Server] Callback %s -> %s (accepted=%t)", callID, status, accepted)
	w.WriteHeader(http.StatusNoContent)
}

// callStatusResponse is the GET /calls/{id}/status payload.
type callStatusResponse struct {
	CallID  string         `json:"call_id"`
	Status  string         `json:"status"`
	History []ledger.Entry `json:"history"`
}

// handleCallStatus serves the ledger view for one call.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/calls/")
	callID, ok := strings.CutSuffix(rest, "/status")
	if !ok || callID == "" || strings.Contains(callID, "/") {
		http.NotFound(w, r)
		return
	}

	status, err := s.sessionDeps.Ledger.Current(r.Context(), callID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, "unknown call", http.StatusNotFound)
			return
		}
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}

	history, err := s.sessionDeps.Ledger.History(r.Context(), callID)
	if err != nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(callStatusResponse{
		CallID:  callID,
		Status:  status.String(),
		History: history,
	})
}

// handleMedia upgrades the carrier's media WebSocket and hands the call to a
// session.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	log.Printf("[Server] Media connection from %s", r.RemoteAddr)

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}

	conn := carrier.NewMediaConnection(wsConn)
	conn.Start()

	s.activeMu.Lock()
	s.active[conn] = struct{}{}
	s.activeMu.Unlock()

	sess := session.New(s.sessionCfg, s.sessionDeps, conn)

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.activeMu.Lock()
			delete(s.active, conn)
			s.activeMu.Unlock()
		}()

		started := time.Now()
		if err := sess.Run(ctx); err != nil {
			log.Printf("[Server] Session ended with error: %v", err)
		}
		log.Printf("[Server] Session for call %s finished (duration: %v)",
			conn.CallID(), time.Since(started).Round(time.Millisecond))
	}()
}

// handleHealth reports liveness and the active call count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.activeMu.Lock()
	activeCalls := len(s.active)
	s.activeMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","active_calls":%d}`, activeCalls)
}
