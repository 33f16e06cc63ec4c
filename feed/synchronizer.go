// Package feed keeps an in-memory copy of the feed in step with the content store.
package feed

import (
	"airlive/models"
	"airlive/store"
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyStarted = errors.New("synchronizer already started")
	ErrNotStarted     = errors.New("synchronizer not started")
	ErrTerminated     = errors.New("synchronizer terminated")
)

type fetchResult struct {
	updates []models.Update
	err     error
}

// Synchronizer owns the FeedState. It loads the feed once, then re-reads the whole
// feed each time the store signals a change.
type Synchronizer struct {
	client   store.Client
	onChange func(models.FeedState)

	mu        sync.RWMutex
	state     models.FeedState
	phase     models.Phase
	sub       store.Subscription
	cancel    context.CancelFunc
	results   chan fetchResult
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Synchronizer)

// OnChange registers a callback that receives a copy of the state after each change.
// It runs on the synchronizer's event loop, or on the caller of Refresh, and should not block.
func OnChange(fn func(models.FeedState)) Option {
	return func(s *Synchronizer) {
		s.onChange = fn
	}
}

func NewSynchronizer(client store.Client, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		client:  client,
		phase:   models.Uninitialized,
		results: make(chan fetchResult, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start seeds the feed with initial, opens the change subscription and runs the
// event loop until ctx is cancelled or Teardown is called.
func (s *Synchronizer) Start(ctx context.Context, initial []models.Update) error {
	if s.Phase() != models.Uninitialized {
		return ErrAlreadyStarted
	}

	// Subscribing may dial the store, readers must not wait on it
	sub, err := s.client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("could not subscribe to changes: %w", err)
	}

	s.mu.Lock()
	if s.phase != models.Uninitialized {
		// Torn down or started by someone else while subscribing
		s.mu.Unlock()
		if err := sub.Close(); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Error closing change subscription")
		}
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.sub = sub
	s.cancel = cancel
	s.state = models.FeedState{Updates: copyUpdates(initial), IsConnected: true}
	s.phase = models.Live
	snapshot := s.state.Copy()
	s.mu.Unlock()

	syncUpdates.Set(float64(len(snapshot.Updates)))
	syncConnected.Set(1)

	log.WithFields(log.Fields{
		"updates": len(snapshot.Updates),
	}).Info("Feed synchronizer started")

	s.notify(snapshot)

	go s.loop(ctx, sub)
	return nil
}

func (s *Synchronizer) loop(ctx context.Context, sub store.Subscription) {
	defer close(s.done)
	defer s.Teardown()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-sub.Signals():
			if !ok {
				s.disconnect(store.ErrClosed)
				return
			}
			syncSignals.Inc()
			s.reconnect()
			go s.fetch(ctx)

		case err := <-sub.Errors():
			s.disconnect(err)

		case res := <-s.results:
			if res.err != nil {
				syncRefreshes.WithLabelValues("error").Inc()
				log.WithFields(log.Fields{
					"error": res.err,
				}).Warn("Refetching feed failed, keeping current updates")
				continue
			}
			syncRefreshes.WithLabelValues("ok").Inc()
			s.replace(res.updates)
		}
	}
}

// fetch runs outside the loop so a slow store never blocks signal handling.
// Overlapping fetches are not coordinated: the last one to finish wins.
func (s *Synchronizer) fetch(ctx context.Context) {
	updates, err := s.client.FetchAll(ctx)
	select {
	case s.results <- fetchResult{updates: updates, err: err}:
	case <-ctx.Done():
	}
}

// Refresh re-reads the whole feed and swaps it in. On error the state is left as is.
// Connectivity is not touched, only a signal from the subscription reconnects.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	switch s.Phase() {
	case models.Uninitialized:
		return ErrNotStarted
	case models.Terminated:
		return ErrTerminated
	}
	updates, err := s.client.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch updates: %w", err)
	}
	s.replace(updates)
	return nil
}

// replace swaps in a new list and leaves connectivity alone
func (s *Synchronizer) replace(updates []models.Update) {
	s.mu.Lock()
	if s.phase == models.Terminated {
		s.mu.Unlock()
		return
	}
	s.state.Updates = copyUpdates(updates)
	snapshot := s.state.Copy()
	s.mu.Unlock()

	syncUpdates.Set(float64(len(snapshot.Updates)))

	log.WithFields(log.Fields{
		"updates": len(snapshot.Updates),
	}).Info("Feed refreshed")

	s.notify(snapshot)
}

func (s *Synchronizer) reconnect() {
	s.mu.Lock()
	if s.phase != models.Disconnected {
		s.mu.Unlock()
		return
	}
	s.phase = models.Live
	s.state.IsConnected = true
	snapshot := s.state.Copy()
	s.mu.Unlock()

	syncConnected.Set(1)
	log.Info("Change subscription is live again")
	s.notify(snapshot)
}

func (s *Synchronizer) disconnect(err error) {
	s.mu.Lock()
	if s.phase == models.Terminated {
		s.mu.Unlock()
		return
	}
	s.phase = models.Disconnected
	changed := s.state.IsConnected
	s.state.IsConnected = false
	snapshot := s.state.Copy()
	s.mu.Unlock()

	syncSubscriptionErrors.Inc()
	syncConnected.Set(0)

	log.WithFields(log.Fields{
		"error": err,
	}).Warn("Change subscription failed, waiting for the transport to reconnect")

	if changed {
		s.notify(snapshot)
	}
}

// Teardown cancels the subscription. It is safe to call more than once.
func (s *Synchronizer) Teardown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		started := s.phase != models.Uninitialized
		s.phase = models.Terminated
		sub := s.sub
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sub != nil {
			if err := sub.Close(); err != nil {
				log.WithFields(log.Fields{
					"error": err,
				}).Warn("Error closing change subscription")
			}
		}
		if !started {
			close(s.done)
		}
		syncConnected.Set(0)
		log.Info("Feed synchronizer terminated")
	})
}

// Done is closed when the synchronizer has terminated
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a copy of the current state
func (s *Synchronizer) Snapshot() models.FeedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Copy()
}

func (s *Synchronizer) Phase() models.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Synchronizer) notify(state models.FeedState) {
	if s.onChange != nil {
		s.onChange(state)
	}
}

func copyUpdates(updates []models.Update) []models.Update {
	if updates == nil {
		return []models.Update{}
	}
	out := make([]models.Update, len(updates))
	copy(out, updates)
	return out
}
