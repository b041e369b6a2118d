// Package registry tracks live client connections and routes outbound
// payloads to their send channels. It owns no sockets: the websocket
// layer registers a buffered channel per connection and drains it from
// the connection's write pump.
package registry

import (
	"sync"

	"chatrelay/pkg/logger"
)

type Registry struct {
	mu    sync.RWMutex
	conns map[string]chan []byte
}

func New() *Registry {
	return &Registry{conns: make(map[string]chan []byte)}
}

// Register associates a connection id with its outbound channel.
// Re-registering an id replaces the previous channel.
func (r *Registry) Register(connID string, ch chan []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		logger.Warn("registry_replace_conn", "conn_id", connID)
	}
	r.conns[connID] = ch
}

// Unregister removes the connection. Unknown ids are a no-op so the
// disconnect path never has to care whether registration completed.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
}

// SendTo delivers payload to one connection without blocking. It
// reports false when the connection is unknown or its channel is full;
// a full channel means the client is too slow and the frame is dropped.
func (r *Registry) SendTo(connID string, payload []byte) bool {
	r.mu.RLock()
	ch, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- payload:
		return true
	default:
		logger.Warn("registry_send_dropped", "conn_id", connID)
		return false
	}
}

// Broadcast delivers payload to every connection and returns the
// number of successful deliveries. Connections whose channel is full
// are unregistered: a client that stopped draining is gone.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.RLock()
	targets := make(map[string]chan []byte, len(r.conns))
	for id, ch := range r.conns {
		targets[id] = ch
	}
	r.mu.RUnlock()

	sent := 0
	var dead []string
	for id, ch := range targets {
		select {
		case ch <- payload:
			sent++
		default:
			logger.Warn("registry_send_dropped", "conn_id", id)
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		r.Unregister(id)
	}
	return sent
}

// BroadcastExcept delivers payload to every connection but exceptID.
// Channels are snapshotted under the read lock and sends happen after
// release, so a slow client cannot stall registration.
func (r *Registry) BroadcastExcept(exceptID string, payload []byte) int {
	r.mu.RLock()
	targets := make(map[string]chan []byte, len(r.conns))
	for id, ch := range r.conns {
		if id == exceptID {
			continue
		}
		targets[id] = ch
	}
	r.mu.RUnlock()

	sent := 0
	for id, ch := range targets {
		select {
		case ch <- payload:
			sent++
		default:
			logger.Warn("registry_send_dropped", "conn_id", id)
		}
	}
	return sent
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
