package bluesky

import (
	"airlive/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	jetstream_models "github.com/bluesky-social/jetstream/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	wsConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlive_jetstream_connection_attempts_total",
		Help: "The total number of connection attempts to the Jetstream websocket",
	})

	wsConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlive_jetstream_connection_errors_total",
		Help: "The total number of connection errors encountered",
	})

	wsCurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airlive_jetstream_current_connections",
		Help: "The current number of active Jetstream websocket connections",
	})

	wsConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airlive_jetstream_connection_duration_seconds",
		Help:    "Duration of Jetstream websocket connections",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	wsPingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airlive_jetstream_ping_latency_seconds",
		Help:    "Latency of websocket ping/pong round trips",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})

	wsHostSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airlive_jetstream_host_switches_total",
		Help: "Number of times the connection switched to a different host",
	}, []string{"from_host", "to_host"})
)

const (
	wsReadBufferSize  = 64 * 1024
	wsWriteBufferSize = 1024
	wsReadTimeout     = 60 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

var DefaultJetstreamHosts = []string{
	"wss://jetstream1.us-east.bsky.network",
	"wss://jetstream2.us-east.bsky.network",
	"wss://jetstream1.us-west.bsky.network",
	"wss://jetstream2.us-west.bsky.network",
}

// JetstreamConfig holds configuration for the Jetstream connection
type JetstreamConfig struct {
	// Hosts are tried in order, moving to the next one when a dial fails
	Hosts             []string
	WantedCollections []string
	WantedDids        []string
	Compress          bool
	UserAgent         string
}

func (config JetstreamConfig) subscribeURL(host string) (string, error) {
	u, err := url.Parse(fmt.Sprintf("%s/subscribe", host))
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	for _, collection := range config.WantedCollections {
		q.Add("wantedCollections", collection)
	}
	for _, did := range config.WantedDids {
		q.Add("wantedDids", did)
	}
	if config.Compress {
		q.Set("compress", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialJetstream connects to the first reachable host, cycling through all of
// them with exponential backoff between rounds until ctx is done. roundFailed is
// called with the last dial error each time every host has failed.
func dialJetstream(ctx context.Context, config JetstreamConfig, roundFailed func(error)) (*websocket.Conn, error) {
	if len(config.Hosts) == 0 {
		return nil, fmt.Errorf("no hosts provided in config")
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
		HandshakeTimeout: 45 * time.Second,
		NetDialContext: (&net.Dialer{
			Timeout:   45 * time.Second,
			KeepAlive: 45 * time.Second,
		}).DialContext,
	}

	headers := http.Header{}
	if config.UserAgent != "" {
		headers.Set("User-Agent", config.UserAgent)
	}
	if config.Compress {
		headers.Set("Accept-Encoding", "zstd")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 1.5
	b.MaxElapsedTime = 0 // Never stop retrying

	hostIdx := 0
	failed := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		host := config.Hosts[hostIdx]
		target, err := config.subscribeURL(host)
		if err != nil {
			return nil, err
		}

		wsConnectionAttempts.Inc()
		conn, _, err := dialer.DialContext(ctx, target, headers)
		if err == nil {
			log.WithFields(log.Fields{
				"host": host,
			}).Info("Connected to Jetstream")
			return conn, nil
		}

		wsConnectionErrors.Inc()
		log.WithFields(log.Fields{
			"host":  host,
			"error": err,
		}).Error("Error connecting to Jetstream host")

		failed++
		next := (hostIdx + 1) % len(config.Hosts)
		if next != hostIdx {
			wsHostSwitches.WithLabelValues(host, config.Hosts[next]).Inc()
			hostIdx = next
		}

		// Only wait once every host has been tried
		if failed%len(config.Hosts) != 0 {
			continue
		}
		roundFailed(fmt.Errorf("no Jetstream host reachable: %w", err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}

// setupConnectionHandlers keeps the read deadline moving while the server answers.
// lastPing holds the unix nano time of the outstanding ping, zero when none is.
func setupConnectionHandlers(conn *websocket.Conn, lastPing *atomic.Int64) {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

	conn.SetCloseHandler(func(code int, text string) error {
		log.Infof("WebSocket connection closed with code %d: %s", code, text)
		return nil
	})

	conn.SetPingHandler(func(appData string) error {
		log.Debug("Received ping from server")
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	conn.SetPongHandler(func(appData string) error {
		if sent := lastPing.Swap(0); sent != 0 {
			wsPingLatency.Observe(time.Since(time.Unix(0, sent)).Seconds())
		}
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
}

// managePingPong pings the server until ctx is done, closing the connection
// when a ping cannot be written so the read loop fails and reconnects
func managePingPong(ctx context.Context, conn *websocket.Conn, lastPing *atomic.Int64) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastPing.Store(time.Now().UnixNano())
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Warn("Ping failed, closing connection for restart: ", err)
				wsConnectionErrors.Inc()
				conn.Close()
				return
			}
		}
	}
}

// Subscribe follows the account's posts on Jetstream. Every commit to a post
// is a signal, and so is each reconnect since commits may have been missed.
func (c *Client) Subscribe(ctx context.Context) (store.Subscription, error) {
	var decoder *zstd.Decoder
	if c.jetstream.Compress {
		var err error
		decoder, err = zstd.NewReader(nil, zstd.WithDecoderDicts(jetstream_models.ZSTDDictionary))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := store.NewStream(func() error {
		cancel()
		return nil
	})

	go func() {
		if decoder != nil {
			defer decoder.Close()
		}
		c.follow(ctx, stream, decoder)
	}()

	return stream, nil
}

func (c *Client) follow(ctx context.Context, stream *store.Stream, decoder *zstd.Decoder) {
	reconnecting := false
	for {
		conn, err := dialJetstream(ctx, c.jetstream, func(err error) {
			stream.Fail(err)
			// Commits may be missed while unreachable
			reconnecting = true
		})
		if err != nil {
			if ctx.Err() == nil {
				stream.Fail(err)
			}
			return
		}

		if reconnecting {
			stream.Emit()
		}

		err = c.readMessages(ctx, conn, stream, decoder)
		if ctx.Err() != nil {
			return
		}

		wsConnectionErrors.Inc()
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Jetstream connection lost, reconnecting")
		stream.Fail(err)
		reconnecting = true
	}
}

func (c *Client) readMessages(ctx context.Context, conn *websocket.Conn, stream *store.Stream, decoder *zstd.Decoder) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wsCurrentConnections.Inc()
	connStart := time.Now()
	defer func() {
		wsConnectionDuration.Observe(time.Since(connStart).Seconds())
		wsCurrentConnections.Dec()
	}()

	var lastPing atomic.Int64
	setupConnectionHandlers(conn, &lastPing)
	go managePingPong(connCtx, conn, &lastPing)

	// Unblock ReadMessage when the subscription is closed
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("Unexpected websocket close: %v", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if decoder != nil {
			data, err = decoder.DecodeAll(data, nil)
			if err != nil {
				log.WithFields(log.Fields{
					"error": err,
				}).Warn("Failed to decompress Jetstream message")
				continue
			}
		}

		if c.isPostCommit(data) {
			stream.Emit()
		}
	}
}

var errNotCommit = errors.New("not a commit")

func parseCommit(data []byte) (*jetstream_models.Event, error) {
	var event jetstream_models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.Kind != jetstream_models.EventKindCommit || event.Commit == nil {
		return nil, errNotCommit
	}
	return &event, nil
}

// isPostCommit reports whether a message creates, edits or deletes one of the account's posts
func (c *Client) isPostCommit(data []byte) bool {
	event, err := parseCommit(data)
	if err != nil {
		if !errors.Is(err, errNotCommit) {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Skipping unreadable Jetstream message")
		}
		return false
	}
	return event.Did == c.did && event.Commit.Collection == postCollection
}
