package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubDeliversInOrder(t *testing.T) {
	var h Hub
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	// Publish must not block even though nobody is reading yet
	for i := 0; i < 100; i++ {
		h.Publish(Event{Kind: SocketFrame, ID: "1"})
	}
	h.Publish(Event{Kind: SocketClosed, ID: "1"})

	for i := 0; i < 100; i++ {
		if ev := receive(t, ch); ev.Kind != SocketFrame {
			t.Fatalf("event %d kind = %s, want frame", i, ev.Kind)
		}
	}
	if ev := receive(t, ch); ev.Kind != SocketClosed {
		t.Errorf("last event kind = %s, want closed", ev.Kind)
	}
}

func TestHubFanOut(t *testing.T) {
	var h Hub
	a, stopA := h.Subscribe()
	b, stopB := h.Subscribe()
	defer stopA()
	defer stopB()

	h.Publish(Event{Kind: SocketOpened, ID: "7", URL: "wss://realtime.ably.io/"})

	for _, ch := range []<-chan Event{a, b} {
		ev := receive(t, ch)
		if ev.URL != "wss://realtime.ably.io/" || ev.ID != "7" {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	var h Hub
	ch, unsubscribe := h.Subscribe()
	unsubscribe()
	unsubscribe()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// publishing after unsubscribe is a no-op
	h.Publish(Event{Kind: SocketOpened})
}

func TestCloseAllThenUnsubscribe(t *testing.T) {
	var h Hub
	_, unsubscribe := h.Subscribe()
	h.CloseAll()
	unsubscribe()
}

func TestMarkerFollowsEarlierEvents(t *testing.T) {
	var h Hub
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	for i := 0; i < 50; i++ {
		h.Publish(Event{Kind: SocketFrame, ID: "1"})
	}
	h.Publish(Event{Kind: Marker, ID: "barrier"})

	for i := 0; i < 50; i++ {
		if ev := receive(t, ch); ev.Kind != SocketFrame {
			t.Fatalf("event %d = %v, want frame before the marker", i, ev.Kind)
		}
	}
	if ev := receive(t, ch); ev.Kind != Marker || ev.ID != "barrier" {
		t.Errorf("last event = %+v, want the marker", ev)
	}
}

func TestMainFrameIdle(t *testing.T) {
	tests := []struct {
		name string
		ev   *page.EventLifecycleEvent
		main cdp.FrameID
		want bool
	}{
		{"main frame idle", &page.EventLifecycleEvent{FrameID: "A", Name: "networkIdle"}, "A", true},
		{"iframe idle", &page.EventLifecycleEvent{FrameID: "B", Name: "networkIdle"}, "A", false},
		{"main frame load", &page.EventLifecycleEvent{FrameID: "A", Name: "load"}, "A", false},
		{"main frame unknown", &page.EventLifecycleEvent{FrameID: "A", Name: "networkIdle"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mainFrameIdle(tt.ev, tt.main); got != tt.want {
				t.Errorf("mainFrameIdle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventKindString(t *testing.T) {
	if SocketOpened.String() != "opened" || SocketFrame.String() != "frame" || SocketClosed.String() != "closed" || Marker.String() != "marker" {
		t.Error("unexpected EventKind names")
	}
}
