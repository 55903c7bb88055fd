package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type forgetRecorder struct {
	forgotten chan string
}

func (f *forgetRecorder) Forget(id string) { f.forgotten <- id }

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
}

func TestHubRoutesFramesToChannel(t *testing.T) {
	hub := NewHub(nil)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)

	channels := hub.Channels()
	if len(channels) != 1 {
		t.Fatalf("channels = %v", channels)
	}

	if err := hub.Send(channels[0], []byte(`{"t":42}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != `{"t":42}` {
		t.Errorf("msg = %s", msg)
	}

	// An unknown channel is silently dropped, not an error.
	if err := hub.Send("no-such-channel", []byte(`{}`)); err != nil {
		t.Errorf("unknown channel: %v", err)
	}
}

func TestHubBatchIsJSONArray(t *testing.T) {
	hub := NewHub(nil)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)

	channel := hub.Channels()[0]
	err := hub.SendBatch(channel, [][]byte{[]byte(`{"t":1}`), []byte(`{"t":2}`)})
	if err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frames []map[string]uint64
	if err := json.Unmarshal(msg, &frames); err != nil {
		t.Fatalf("batch is not a JSON array: %v", err)
	}
	if len(frames) != 2 || frames[0]["t"] != 1 || frames[1]["t"] != 2 {
		t.Errorf("frames = %v", frames)
	}
}

func TestHubForgetsChannelOnDisconnect(t *testing.T) {
	rec := &forgetRecorder{forgotten: make(chan string, 1)}
	hub := NewHub(rec)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)
	channel := hub.Channels()[0]

	conn.Close()
	select {
	case id := <-rec.forgotten:
		if id != channel {
			t.Errorf("forgot %q, want %q", id, channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not forgotten")
	}
	waitForClients(t, hub, 0)
}
