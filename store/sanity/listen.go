package sanity

import (
	"airlive/store"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	listenConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlive_sanity_listen_connection_attempts_total",
		Help: "The total number of connection attempts to the Sanity listen endpoint",
	})

	listenConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlive_sanity_listen_connection_errors_total",
		Help: "The total number of listen stream failures",
	})

	listenMutations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlive_sanity_listen_mutations_total",
		Help: "The total number of mutation events received",
	})
)

// ErrDisconnected is returned when Sanity asks the listener to go away for good
var ErrDisconnected = errors.New("listener disconnected by server")

// sseEvent is one server-sent event
type sseEvent struct {
	Name string
	Data string
}

// readEvents parses a text/event-stream body and calls fn for every complete event
func readEvents(r io.Reader, fn func(sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var evt sseEvent
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if evt.Name != "" || len(data) > 0 {
				if evt.Name == "" {
					evt.Name = "message"
				}
				evt.Data = strings.Join(data, "\n")
				if err := fn(evt); err != nil {
					return err
				}
			}
			evt = sseEvent{}
			data = nil
			continue
		}

		// Comments are keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			evt.Name = value
		case "data":
			data = append(data, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// Subscribe opens the listen stream for the updates query. The returned subscription
// reconnects with exponential backoff until it is closed.
func (c *Client) Subscribe(ctx context.Context) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream := store.NewStream(func() error {
		cancel()
		return nil
	})

	go c.listen(ctx, stream)

	return stream, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 1.5
	b.MaxElapsedTime = 0 // Never stop retrying
	return b
}

func (c *Client) listen(ctx context.Context, stream *store.Stream) {
	b := c.newBackOff()
	reconnecting := false

	for {
		err := c.listenOnce(ctx, stream, reconnecting, b)
		if ctx.Err() != nil {
			return
		}

		listenConnectionErrors.Inc()
		stream.Fail(err)

		if errors.Is(err, ErrDisconnected) {
			log.Warn("Sanity closed the listener, not reconnecting")
			return
		}

		wait := b.NextBackOff()
		log.WithFields(log.Fields{
			"error": err,
			"wait":  wait,
		}).Warn("Sanity listen stream failed, reconnecting")

		reconnecting = true
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Client) listenOnce(ctx context.Context, stream *store.Stream, reconnecting bool, b backoff.BackOff) error {
	params := url.Values{}
	params.Set("query", c.query)
	params.Set("visibility", "query")
	params.Set("includeResult", "false")

	req, err := c.newRequest(ctx, c.endpoint("listen", false, params))
	if err != nil {
		return fmt.Errorf("failed to build listen request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	listenConnectionAttempts.Inc()
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("listen request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listen returned %s", resp.Status)
	}

	return readEvents(resp.Body, func(evt sseEvent) error {
		switch evt.Name {
		case "welcome":
			log.Info("Listening for Sanity mutations")
			b.Reset()
			// Changes may have been missed while we were away
			if reconnecting {
				stream.Emit()
			}
		case "mutation":
			listenMutations.Inc()
			stream.Emit()
		case "channelError":
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal([]byte(evt.Data), &payload)
			return fmt.Errorf("channel error: %s", payload.Message)
		case "disconnect":
			return ErrDisconnected
		case "reconnect":
			return errors.New("server requested reconnect")
		}
		return nil
	})
}
