// Package storetest provides an in-memory content store for tests
package storetest

import (
	"airlive/models"
	"airlive/store"
	"context"
	"errors"
	"sync"
)

// Fake is a store.Client whose contents and failures are driven by the test
type Fake struct {
	mu          sync.Mutex
	updates     []models.Update
	fetchErr    error
	subErr      error
	fetchCount  int
	streams     []*store.Stream
	closedCount int
	holding     bool
	held        []chan []models.Update
	subGate     chan struct{}
	subWaiting  int
}

func NewFake(updates ...models.Update) *Fake {
	return &Fake{updates: updates}
}

func (f *Fake) FetchAll(ctx context.Context) ([]models.Update, error) {
	f.mu.Lock()
	if f.holding {
		result := make(chan []models.Update, 1)
		f.held = append(f.held, result)
		f.mu.Unlock()

		select {
		case updates := <-result:
			f.mu.Lock()
			defer f.mu.Unlock()
			f.fetchCount++
			if f.fetchErr != nil {
				return nil, f.fetchErr
			}
			return updates, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer f.mu.Unlock()

	f.fetchCount++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.contents(), nil
}

func (f *Fake) Subscribe(ctx context.Context) (store.Subscription, error) {
	f.mu.Lock()
	gate := f.subGate
	if gate != nil {
		f.subWaiting++
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}

	stream := store.NewStream(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closedCount++
		return nil
	})
	f.streams = append(f.streams, stream)
	return stream, nil
}

// SetUpdates replaces the store contents without notifying subscribers
func (f *Fake) SetUpdates(updates ...models.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = updates
}

// SetFetchError makes FetchAll fail with err until reset with nil
func (f *Fake) SetFetchError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// SetSubscribeError makes Subscribe fail with err
func (f *Fake) SetSubscribeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subErr = err
}

// HoldFetches parks every later FetchAll until it is released with ReleaseFetch
func (f *Fake) HoldFetches() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holding = true
}

// HeldFetches returns how many fetches were parked since HoldFetches
func (f *Fake) HeldFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

// ReleaseFetch resolves the n-th parked fetch, counting from zero, with updates.
// Each fetch can only be released once.
func (f *Fake) ReleaseFetch(n int, updates ...models.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < len(f.held) && f.held[n] != nil {
		f.held[n] <- updates
		f.held[n] = nil
	}
}

// HoldSubscribes blocks Subscribe until ReleaseSubscribes is called
func (f *Fake) HoldSubscribes() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subGate = make(chan struct{})
}

// WaitingSubscribes returns how many Subscribe calls reached the hold
func (f *Fake) WaitingSubscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subWaiting
}

func (f *Fake) ReleaseSubscribes() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subGate != nil {
		close(f.subGate)
		f.subGate = nil
	}
}

// Publish replaces the store contents and signals every open subscription
func (f *Fake) Publish(updates ...models.Update) {
	f.SetUpdates(updates...)
	f.Change()
}

// Change signals every open subscription
func (f *Fake) Change() {
	for _, s := range f.open() {
		s.Emit()
	}
}

// Break reports a transport error on every open subscription
func (f *Fake) Break(err error) {
	if err == nil {
		err = errors.New("transport failure")
	}
	for _, s := range f.open() {
		s.Fail(err)
	}
}

func (f *Fake) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount
}

// Subscriptions returns how many subscriptions were opened and how many closed
func (f *Fake) Subscriptions() (opened int, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams), f.closedCount
}

// contents copies the store contents, f.mu must be held
func (f *Fake) contents() []models.Update {
	updates := make([]models.Update, len(f.updates))
	copy(updates, f.updates)
	return updates
}

func (f *Fake) open() []*store.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []*store.Stream
	for _, s := range f.streams {
		select {
		case <-s.Done():
		default:
			open = append(open, s)
		}
	}
	return open
}
