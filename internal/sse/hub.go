package sse

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
)

type Event string

const (
	EventPlanJobQueued    Event = "PlanJobQueued"
	EventPlanJobProgress  Event = "PlanJobProgress"
	EventPlanJobCompleted Event = "PlanJobCompleted"
	EventPlanJobFailed    Event = "PlanJobFailed"
)

// Message is one fan-out unit. Channel is the job id, so a progress viewer
// subscribes to exactly the job it is watching.
type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
}

// Done is closed when the hub closes this client.
func (c *Client) Done() <-chan struct{} { return c.done }

// Hub is the in-process broadcast layer. Cross-process delivery is handled by
// the Redis bus forwarding into this hub; when Redis is absent the notifier
// broadcasts here directly and single-process deployments lose nothing.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(baseLog *logger.Logger) *Hub {
	return &Hub{
		log:           baseLog.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) NewClient() *Client {
	return &Client{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan Message, 16),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	client.Channels[channel] = true

	clients, exists := h.subscriptions[channel]
	if !exists {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true

	h.log.Debug("Stream client subscribed", "client_id", client.ID, "channel", channel)
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range client.Channels {
		if subMap, ok := h.subscriptions[ch]; ok {
			delete(subMap, client)
			if len(subMap) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.Channel == "" {
		return
	}
	clientsMap, ok := h.subscriptions[msg.Channel]
	if !ok {
		return
	}
	for c := range clientsMap {
		select {
		case c.Outbound <- msg:
		default:
			// A slow viewer only loses intermediate events; the terminal
			// state is always readable from the job store.
			h.log.Warn("Dropping stream message; outbound buffer full", "client_id", c.ID)
		}
	}
}

func (h *Hub) CloseClient(client *Client) {
	h.Unsubscribe(client)
	close(client.done)
	close(client.Outbound)
}
