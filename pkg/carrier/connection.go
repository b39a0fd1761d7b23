// Package carrier handles the per-call media stream connection to the
// telephony carrier.
//
// The carrier opens one WebSocket per call and speaks a small JSON protocol:
// a "connected" handshake, a "start" event carrying the stream and call
// identifiers plus custom parameters echoed from the trigger request,
// "media" events with base64 μ-law audio in both directions, "mark" events
// for playback synchronization, and a "stop" event at teardown.
//
// Audio format on the wire: μ-law, 8kHz, mono.
package carrier

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned by sends after the connection is gone.
var ErrConnectionClosed = errors.New("carrier: connection closed")

// Track labels for media events.
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// MediaMessage is the carrier's WebSocket envelope.
type MediaMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamID       string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload carries stream initialization data.
type StartPayload struct {
	AccountID        string            `json:"accountSid"`
	StreamID         string            `json:"streamSid"`
	CallID           string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one audio frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 μ-law
}

// StopPayload carries stream termination data.
type StopPayload struct {
	AccountID string `json:"accountSid"`
	CallID    string `json:"callSid"`
}

// MarkPayload carries a playback synchronization marker.
type MarkPayload struct {
	Name string `json:"name"`
}

// MediaFrame is one decoded inbound audio frame.
type MediaFrame struct {
	Payload   []byte // μ-law bytes
	Timestamp string
}

// MediaConnection wraps one carrier WebSocket. Reads run on an internal
// pump; writes are synchronized (gorilla/websocket requires it).
type MediaConnection struct {
	conn *websocket.Conn

	// stream metadata, written once by the start event
	streamID string
	callID   string
	params   map[string]string
	metaMu   sync.RWMutex

	sequence int64

	media    chan MediaFrame
	started  chan struct{}
	startOne sync.Once
	done     chan struct{}

	closed  atomic.Bool
	closeMu sync.Mutex
	closeWg sync.WaitGroup

	writeMu  sync.Mutex
	markChan chan string
}

// NewMediaConnection wraps an upgraded WebSocket. Call Start to begin the
// read pump.
func NewMediaConnection(conn *websocket.Conn) *MediaConnection {
	return &MediaConnection{
		conn:     conn,
		media:    make(chan MediaFrame, 100),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
		markChan: make(chan string, 10),
		params:   make(map[string]string),
	}
}

// Start begins processing the WebSocket connection.
func (c *MediaConnection) Start() {
	c.closeWg.Add(1)
	go c.readPump()
}

// Started is closed once the start event has delivered stream metadata.
func (c *MediaConnection) Started() <-chan struct{} {
	return c.started
}

// Done is closed when the connection is closed from either side.
func (c *MediaConnection) Done() <-chan struct{} {
	return c.done
}

// Media returns the inbound audio frame channel. It is closed on teardown.
func (c *MediaConnection) Media() <-chan MediaFrame {
	return c.media
}

// Closed reports whether the connection is confirmed gone.
func (c *MediaConnection) Closed() bool {
	return c.closed.Load()
}

// StreamID returns the carrier stream identifier, empty before start.
func (c *MediaConnection) StreamID() string {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.streamID
}

// CallID returns the carrier call identifier, empty before start.
func (c *MediaConnection) CallID() string {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.callID
}

// CustomParameter returns a parameter echoed from the trigger request.
func (c *MediaConnection) CustomParameter(key string) string {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.params[key]
}

// Close tears the connection down and waits for the read pump to exit.
// Safe to call more than once.
func (c *MediaConnection) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	log.Printf("[MediaConn] Closing connection for stream %s", c.StreamID())

	if c.conn != nil {
		c.conn.Close()
	}

	c.closeWg.Wait()

	close(c.media)
	close(c.done)
	return nil
}

func (c *MediaConnection) readPump() {
	defer c.closeWg.Done()
	defer func() {
		// Ensure teardown runs when the peer closes first. Close waits on
		// closeWg, so it must run outside this goroutine.
		if !c.closed.Load() {
			go c.Close()
		}
	}()

	for {
		if c.closed.Load() {
			return
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed.Load() {
				log.Printf("[MediaConn] Read error: %v", err)
			}
			return
		}

		var msg MediaMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[MediaConn] Failed to parse message: %v", err)
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *MediaConnection) handleMessage(msg *MediaMessage) {
	switch msg.Event {
	case "connected":
		log.Printf("[MediaConn] Connected (protocol: %s, version: %s)", msg.Protocol, msg.Version)

	case "start":
		c.handleStart(msg)

	case "media":
		c.handleMedia(msg)

	case "stop":
		log.Printf("[MediaConn] Stream stopped - CallID: %s", c.CallID())

	case "mark":
		if msg.Mark != nil {
			select {
			case c.markChan <- msg.Mark.Name:
			default:
			}
		}

	default:
		log.Printf("[MediaConn] Unknown event: %s", msg.Event)
	}
}

func (c *MediaConnection) handleStart(msg *MediaMessage) {
	if msg.Start == nil {
		log.Printf("[MediaConn] Start event missing payload")
		return
	}

	c.metaMu.Lock()
	c.streamID = msg.Start.StreamID
	c.callID = msg.Start.CallID
	for k, v := range msg.Start.CustomParameters {
		c.params[k] = v
	}
	c.metaMu.Unlock()

	log.Printf("[MediaConn] Stream started - StreamID: %s, CallID: %s, Params: %v",
		msg.Start.StreamID, msg.Start.CallID, msg.Start.CustomParameters)

	c.startOne.Do(func() { close(c.started) })
}

func (c *MediaConnection) handleMedia(msg *MediaMessage) {
	if msg.Media == nil || msg.Media.Payload == "" {
		return
	}
	if msg.Media.Track != "" && msg.Media.Track != TrackInbound {
		return
	}

	payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		log.Printf("[MediaConn] Failed to decode audio: %v", err)
		return
	}

	select {
	case c.media <- MediaFrame{Payload: payload, Timestamp: msg.Media.Timestamp}:
	default:
		log.Printf("[MediaConn] Media channel full, dropping frame")
	}
}

// SendMediaFrame sends one μ-law frame to the carrier in the outbound media
// envelope (track, sequence, timestamp, payload).
func (c *MediaConnection) SendMediaFrame(mulaw []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	streamID := c.StreamID()
	if streamID == "" {
		return errors.New("carrier: stream not started")
	}

	seq := atomic.AddInt64(&c.sequence, 1)
	msg := MediaMessage{
		Event:          "media",
		SequenceNumber: strconv.FormatInt(seq, 10),
		StreamID:       streamID,
		Media: &MediaPayload{
			Track:     TrackOutbound,
			Timestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
			Payload:   base64.StdEncoding.EncodeToString(mulaw),
		},
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.conn.WriteJSON(msg)
}

// SendMark asks the carrier to echo a marker once buffered audio before it
// has played out.
func (c *MediaConnection) SendMark(name string) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	msg := MediaMessage{
		Event:    "mark",
		StreamID: c.StreamID(),
		Mark:     &MarkPayload{Name: name},
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// ClearAudio asks the carrier to drop any audio it has buffered but not yet
// played.
func (c *MediaConnection) ClearAudio() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	msg := MediaMessage{
		Event:    "clear",
		StreamID: c.StreamID(),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// WaitForMark blocks until the named mark echoes back or the timeout fires.
func (c *MediaConnection) WaitForMark(name string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case mark := <-c.markChan:
			if mark == name {
				return true
			}
		case <-c.done:
			return false
		case <-timer.C:
			return false
		}
	}
}
