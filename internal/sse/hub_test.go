package sse

import (
	"testing"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New(logger.Options{Mode: "development"})
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return NewHub(log)
}

func TestBroadcastReachesOnlySubscribedChannel(t *testing.T) {
	hub := testHub(t)
	subscribed := hub.NewClient()
	other := hub.NewClient()
	hub.Subscribe(subscribed, "job-1")
	hub.Subscribe(other, "job-2")

	hub.Broadcast(Message{Channel: "job-1", Event: EventPlanJobProgress, Data: "payload"})

	select {
	case msg := <-subscribed.Outbound:
		if msg.Event != EventPlanJobProgress || msg.Data != "payload" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	default:
		t.Fatalf("subscribed client received nothing")
	}
	select {
	case msg := <-other.Outbound:
		t.Fatalf("other channel leaked message: %+v", msg)
	default:
	}
}

func TestBroadcastDropsWhenClientBufferFull(t *testing.T) {
	hub := testHub(t)
	client := hub.NewClient()
	hub.Subscribe(client, "job-1")

	// One more than the outbound buffer; the overflow must not block.
	for i := 0; i < cap(client.Outbound)+1; i++ {
		hub.Broadcast(Message{Channel: "job-1", Event: EventPlanJobProgress, Data: i})
	}

	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered: want=%d got=%d", cap(client.Outbound), got)
	}
}

func TestCloseClientUnsubscribesAndSignalsDone(t *testing.T) {
	hub := testHub(t)
	client := hub.NewClient()
	hub.Subscribe(client, "job-1")

	hub.CloseClient(client)

	select {
	case <-client.Done():
	default:
		t.Fatalf("done channel must be closed")
	}
	// Broadcasting after close must not reach (or panic on) the closed client.
	hub.Broadcast(Message{Channel: "job-1", Event: EventPlanJobProgress})
}

func TestUnsubscribeClearsChannels(t *testing.T) {
	hub := testHub(t)
	client := hub.NewClient()
	hub.Subscribe(client, "job-1")
	hub.Subscribe(client, "job-2")

	hub.Unsubscribe(client)
	if len(client.Channels) != 0 {
		t.Fatalf("channels not cleared: %v", client.Channels)
	}

	hub.Broadcast(Message{Channel: "job-1", Event: EventPlanJobProgress})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("unsubscribed client received %+v", msg)
	default:
	}
}
