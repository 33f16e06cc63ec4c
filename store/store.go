// Package store defines the contract between the feed and the content store
// that holds its updates. Backends live in the sub packages.
package store

import (
	"airlive/models"
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("subscription closed")

// Client reads the feed and subscribes to changes of it
type Client interface {
	// FetchAll returns every update, newest first
	FetchAll(ctx context.Context) ([]models.Update, error)

	// Subscribe opens a change subscription using the same filter as FetchAll
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a cancellable stream of change signals
type Subscription interface {
	Signals() <-chan models.Signal
	Errors() <-chan error
	// Close cancels the subscription. Closing twice is a no-op.
	Close() error
}

// Stream is the Subscription plumbing shared by the backends
type Stream struct {
	signals chan models.Signal
	errors  chan error
	done    chan struct{}
	once    sync.Once
	onClose func() error
	err     error
}

// NewStream returns an open stream. onClose, if set, runs once when the stream closes.
func NewStream(onClose func() error) *Stream {
	return &Stream{
		signals: make(chan models.Signal, 1),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *Stream) Signals() <-chan models.Signal {
	return s.signals
}

func (s *Stream) Errors() <-chan error {
	return s.errors
}

// Done is closed once the stream has been closed
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Emit sends a change signal. A signal already waiting to be read absorbs this one.
func (s *Stream) Emit() {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.signals <- models.Signal{}:
	default:
	}
}

// Fail reports a transport error. Only the oldest unread error is kept.
func (s *Stream) Fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.errors <- err:
	default:
	}
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.err = s.onClose()
		}
	})
	return s.err
}
