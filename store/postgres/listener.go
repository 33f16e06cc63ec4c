package postgres

import (
	"airlive/store"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// ChangeChannel is the notification channel the updates trigger publishes on
const ChangeChannel = "updates_changed"

const pingInterval = 90 * time.Second

// Subscribe listens for change notifications. lib/pq reconnects the listener on its
// own, the subscription only reports when that happens.
func (s *Store) Subscribe(ctx context.Context) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	var listener *pq.Listener
	stream := store.NewStream(func() error {
		cancel()
		return listener.Close()
	})

	listener = pq.NewListener(
		buildConnectionString(s.config),
		s.config.MinReconnectInterval,
		s.config.MaxReconnectInterval,
		func(event pq.ListenerEventType, err error) {
			handleListenerEvent(stream, event, err)
		},
	)

	if err := listener.Listen(ChangeChannel); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}

	go watch(ctx, listener, stream)

	return stream, nil
}

func handleListenerEvent(stream *store.Stream, event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		log.Info("Listening for update notifications")
	case pq.ListenerEventReconnected:
		log.Info("Update listener reconnected")
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		if err == nil {
			err = errors.New("connection lost")
		}
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Update listener lost its connection")
		stream.Fail(fmt.Errorf("listener disconnected: %w", err))
	}
}

func watch(ctx context.Context, listener *pq.Listener, stream *store.Stream) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect, anything may have changed meanwhile
			if n != nil {
				log.WithFields(log.Fields{
					"operation": n.Extra,
				}).Debug("Update notification")
			}
			stream.Emit()

		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.WithFields(log.Fields{
						"error": err,
					}).Warn("Update listener ping failed")
				}
			}()
		}
	}
}
