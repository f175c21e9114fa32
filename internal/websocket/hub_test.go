package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/model"
)

func newTestHub() *Hub {
	h := NewHub(zerolog.Nop())
	go h.Run()
	return h
}

func TestHubBroadcastReachesOnlyJobSubscribers(t *testing.T) {
	h := newTestHub()
	sub := &Client{JobID: "j1", Send: make(chan []byte, 4)}
	other := &Client{JobID: "j2", Send: make(chan []byte, 4)}
	h.register <- sub
	h.register <- other

	h.BroadcastProgress("j1", 40, model.JobStatusRunning, "Transcribing segments...")

	select {
	case raw := <-sub.Send:
		var msg model.WSProgressMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("bad message: %v", err)
		}
		if msg.JobID != "j1" || msg.Progress != 40 {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the broadcast")
	}

	select {
	case raw := <-other.Send:
		t.Fatalf("subscriber for another job received %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubLaggingSubscriberDropped(t *testing.T) {
	h := newTestHub()
	lagging := &Client{JobID: "j1", Send: make(chan []byte)}
	fence := &Client{JobID: "j2", Send: make(chan []byte, 1)}
	h.register <- lagging
	h.register <- fence

	// Broadcasts are handled in order; once the fence message lands the
	// first broadcast has been fully processed.
	h.BroadcastError("j1", "JOB_FAILED", "transcoder crashed")
	h.BroadcastError("j2", "JOB_FAILED", "fence")
	select {
	case <-fence.Send:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcasts never processed")
	}

	if _, ok := <-lagging.Send; ok {
		t.Fatal("expected the lagging subscriber channel to be closed")
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	h := newTestHub()
	sub := &Client{JobID: "j1", Send: make(chan []byte, 1)}
	h.register <- sub
	h.unregister <- sub

	select {
	case _, ok := <-sub.Send:
		if ok {
			t.Fatal("expected the send channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel never closed")
	}
}
