package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Subscription filters the live pointage feed. Empty fields match
// everything; a supervisor typically subscribes to an organisation, a
// door display to a single reader.
type Subscription struct {
	OrganisationID  string
	UserID          string
	ReaderReference string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action          string `json:"action"`
	OrganisationID  string `json:"organisation_id"`
	UserID          string `json:"user_id"`
	ReaderReference string `json:"reader_reference"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast fans a pointage event out to every matching client. Slow
// clients drop messages rather than block the poller.
func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func match(sub Subscription, meta Subscription) bool {
	if sub.OrganisationID != "" && meta.OrganisationID != sub.OrganisationID {
		return false
	}
	if sub.UserID != "" && meta.UserID != sub.UserID {
		return false
	}
	if sub.ReaderReference != "" && meta.ReaderReference != sub.ReaderReference {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
