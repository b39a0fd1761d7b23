package carrier

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestConnection upgrades a loopback WebSocket and returns both ends.
func dialTestConnection(t *testing.T) (*MediaConnection, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	connCh := make(chan *MediaConnection, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		mc := NewMediaConnection(ws)
		mc.Start()
		connCh <- mc
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	mc := <-connCh
	t.Cleanup(func() { mc.Close() })
	return mc, peer
}

func startMessage() *MediaMessage {
	return &MediaMessage{
		Event: "start",
		Start: &StartPayload{
			AccountID: "AC-1",
			StreamID:  "MZ-1",
			CallID:    "CA-1",
			Tracks:    []string{"inbound"},
			CustomParameters: map[string]string{
				"trigger_id": "trig-42",
			},
		},
	}
}

func TestMediaConnectionStart(t *testing.T) {
	mc, peer := dialTestConnection(t)

	require.NoError(t, peer.WriteJSON(&MediaMessage{Event: "connected", Protocol: "Call", Version: "1.0.0"}))
	require.NoError(t, peer.WriteJSON(startMessage()))

	select {
	case <-mc.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("start event not observed")
	}

	assert.Equal(t, "MZ-1", mc.StreamID())
	assert.Equal(t, "CA-1", mc.CallID())
	assert.Equal(t, "trig-42", mc.CustomParameter("trigger_id"))
}

func TestMediaConnectionInboundMedia(t *testing.T) {
	mc, peer := dialTestConnection(t)

	require.NoError(t, peer.WriteJSON(startMessage()))
	<-mc.Started()

	mulaw := []byte{0xFF, 0x00, 0x80, 0x7F}
	require.NoError(t, peer.WriteJSON(&MediaMessage{
		Event: "media",
		Media: &MediaPayload{
			Track:   TrackInbound,
			Payload: base64.StdEncoding.EncodeToString(mulaw),
		},
	}))

	select {
	case frame := <-mc.Media():
		assert.Equal(t, mulaw, frame.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("media frame not delivered")
	}

	t.Run("Outbound track ignored", func(t *testing.T) {
		require.NoError(t, peer.WriteJSON(&MediaMessage{
			Event: "media",
			Media: &MediaPayload{Track: TrackOutbound, Payload: base64.StdEncoding.EncodeToString(mulaw)},
		}))
		select {
		case <-mc.Media():
			t.Fatal("outbound echo must not be delivered")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestMediaConnectionSendMediaFrame(t *testing.T) {
	mc, peer := dialTestConnection(t)

	require.NoError(t, peer.WriteJSON(startMessage()))
	<-mc.Started()

	mulaw := []byte{0x01, 0x02, 0x03}
	require.NoError(t, mc.SendMediaFrame(mulaw))

	var msg MediaMessage
	require.NoError(t, peer.ReadJSON(&msg))
	assert.Equal(t, "media", msg.Event)
	assert.Equal(t, "MZ-1", msg.StreamID)
	assert.Equal(t, "1", msg.SequenceNumber)
	require.NotNil(t, msg.Media)
	assert.Equal(t, TrackOutbound, msg.Media.Track)
	assert.NotEmpty(t, msg.Media.Timestamp)
	assert.Equal(t, base64.StdEncoding.EncodeToString(mulaw), msg.Media.Payload)
}

func TestMediaConnectionClose(t *testing.T) {
	mc, peer := dialTestConnection(t)

	require.NoError(t, peer.WriteJSON(startMessage()))
	<-mc.Started()

	require.NoError(t, mc.Close())
	assert.True(t, mc.Closed())

	select {
	case <-mc.Done():
	case <-time.After(time.Second):
		t.Fatal("done not signaled")
	}

	assert.ErrorIs(t, mc.SendMediaFrame([]byte{0x01}), ErrConnectionClosed)
	assert.NoError(t, mc.Close(), "double close is safe")
}

func TestMediaConnectionPeerClose(t *testing.T) {
	mc, peer := dialTestConnection(t)

	require.NoError(t, peer.WriteJSON(startMessage()))
	<-mc.Started()

	peer.Close()

	select {
	case <-mc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer close not detected")
	}
	assert.True(t, mc.Closed())
}

func TestMediaConnectionMarks(t *testing.T) {
	mc, peer := dialTestConnection(t)

	require.NoError(t, peer.WriteJSON(startMessage()))
	<-mc.Started()

	require.NoError(t, mc.SendMark("utterance-1"))

	var msg MediaMessage
	require.NoError(t, peer.ReadJSON(&msg))
	require.NotNil(t, msg.Mark)

	// Carrier echoes the mark once playback reaches it
	require.NoError(t, peer.WriteJSON(&MediaMessage{Event: "mark", Mark: &MarkPayload{Name: "utterance-1"}}))
	assert.True(t, mc.WaitForMark("utterance-1", 2*time.Second))

	assert.False(t, mc.WaitForMark("never", 50*time.Millisecond))
}
