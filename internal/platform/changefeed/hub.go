// Package changefeed pushes committed resource writes to WebSocket clients.
// Clients subscribe to a resource type ("Patient") or to one resource
// ("Patient/123") and receive an Event for every create, update and delete
// that touches it.
package changefeed

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/platform/versioned"
)

// Event is a committed write as delivered to subscribers.
type Event struct {
	Interaction  string    `json:"interaction"`
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id"`
	VersionID    string    `json:"versionId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventFromChange converts a store change to its wire form.
func EventFromChange(c versioned.Change) Event {
	return Event{
		Interaction:  c.Interaction,
		ResourceType: c.ResourceType,
		ID:           c.ID,
		VersionID:    c.VersionID,
		Timestamp:    c.At.UTC(),
	}
}

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one subscriber. Allowed decides which resource types it may
// watch; nil allows every type.
type Client struct {
	ID      string
	Send    chan []byte
	Allowed func(resourceType string) bool

	topics map[string]struct{}
}

// NewClient creates a client with a send buffer of size buffer.
func NewClient(id string, buffer int, allowed func(string) bool) *Client {
	return &Client{
		ID:      id,
		Send:    make(chan []byte, buffer),
		Allowed: allowed,
		topics:  make(map[string]struct{}),
	}
}


// topicType returns the resource type part of "Type" or "Type/id".
func topicType(topic string) string {
	t, _, _ := strings.Cut(topic, "/")
	return t
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "changefeed").Logger(),
	}
}

// Register adds client to the hub and subscribes it to topics.
func (h *Hub) Register(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	h.subscribeLocked(client, topics)
}

// Unregister removes client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for topic := range client.topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client. Topics naming a resource
// type the client may not read are skipped and returned.
func (h *Hub) Subscribe(client *Client, topics []string) (rejected []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return topics
	}
	return h.subscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) (rejected []string) {
	for _, topic := range topics {
		rt := topicType(topic)
		if rt == "" || (client.Allowed != nil && !client.Allowed(rt)) {
			rejected = append(rejected, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
	if len(rejected) > 0 {
		h.logger.Debug().Str("client_id", client.ID).Strs("topics", rejected).Msg("subscription rejected")
	}
	return rejected
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		h.removeLocked(client, topic)
	}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
	delete(client.topics, topic)
}

// ProcessMessage dispatches an inbound message to Subscribe or Unsubscribe.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Publish delivers event to the subscribers of its type and of its
// resource. A client subscribed to both receives it once. Clients whose
// buffer is full miss the event.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, topic := range []string{event.ResourceType, event.ResourceType + "/" + event.ID} {
		for client := range h.clients[topic] {
			if _, ok := seen[client]; ok {
				continue
			}
			seen[client] = struct{}{}
			select {
			case client.Send <- data:
			default:
				h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
			}
		}
	}
	return nil
}

// Listener returns a store listener that publishes every change.
func (h *Hub) Listener() versioned.Listener {
	return func(ctx context.Context, c versioned.Change) {
		if err := h.Publish(ctx, EventFromChange(c)); err != nil {
			h.logger.Error().Err(err).Str("resource_type", c.ResourceType).Str("id", c.ID).Msg("publish change")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// Topics returns the topics client is subscribed to, sorted.
func (h *Hub) Topics(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(client.topics))
	for t := range client.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
