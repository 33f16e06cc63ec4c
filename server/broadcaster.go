package server

import (
	"airlive/models"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Broadcaster fans feed changes out to every connected SSE client
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.FeedState
	closed  bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.FeedState),
	}
}

// Broadcast hands state to every client. Slow clients skip a state rather than block
// the others, the next one replaces it anyway.
func (b *Broadcaster) Broadcast(state models.FeedState) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		select {
		case client <- state.Copy(): // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping feed state for client: %v", id)
		}
	}
}

// AddClient registers a client channel under key. It returns false after Shutdown.
func (b *Broadcaster) AddClient(key string, client chan models.FeedState) bool {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return false
	}
	b.clients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
	return true
}

// RemoveClient closes and forgets the client channel, unknown keys are ignored
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	client, ok := b.clients[key]
	if !ok {
		return
	}
	close(client)
	delete(b.clients, key)

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

// Count returns the number of connected clients
func (b *Broadcaster) Count() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

// Shutdown closes every client channel, which ends their streams
func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
	b.closed = true
}
