// Package broadcast pushes item events to websocket subscribers. Events arrive
// over Redis Pub/Sub, so every API instance can serve watchers of any item no
// matter which instance accepted the bid.
package broadcast

import (
	"context"
	"log"
	"sync"
)

// Manager tracks websocket clients per item and fans messages out to them.
type Manager struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}

	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{}
}

type message struct {
	itemID  string
	payload []byte
}

func NewManager() *Manager {
	return &Manager{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan message, 256),
		done:        make(chan struct{}),
		subscribers: make(map[string]map[*Client]struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled, then drops every client.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case c := <-m.register:
			m.add(c)
		case c := <-m.unregister:
			m.remove(c)
		case msg := <-m.broadcast:
			m.fanout(msg)
		case <-ctx.Done():
			m.mu.Lock()
			for _, clients := range m.subscribers {
				for c := range clients {
					close(c.send)
				}
			}
			m.subscribers = make(map[string]map[*Client]struct{})
			m.mu.Unlock()
			return
		}
	}
}

func (m *Manager) Register(c *Client) bool {
	select {
	case m.register <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) Unregister(c *Client) {
	select {
	case m.unregister <- c:
	case <-m.done:
	}
}

// Broadcast queues payload for every client watching itemID.
func (m *Manager) Broadcast(itemID string, payload []byte) {
	select {
	case m.broadcast <- message{itemID: itemID, payload: payload}:
	case <-m.done:
	}
}

// SubscriberCount returns the number of clients watching itemID.
func (m *Manager) SubscriberCount(itemID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[itemID])
}

func (m *Manager) add(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients, ok := m.subscribers[c.itemID]
	if !ok {
		clients = make(map[*Client]struct{})
		m.subscribers[c.itemID] = clients
	}
	clients[c] = struct{}{}
}

func (m *Manager) remove(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients, ok := m.subscribers[c.itemID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(m.subscribers, c.itemID)
	}
}

func (m *Manager) fanout(msg message) {
	m.mu.RLock()
	var slow []*Client
	for c := range m.subscribers[msg.itemID] {
		select {
		case c.send <- msg.payload:
		default:
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range slow {
		log.Printf("[broadcast] dropping slow client %s on item %s", c.id, c.itemID)
		m.remove(c)
	}
}
