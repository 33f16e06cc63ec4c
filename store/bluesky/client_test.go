package bluesky

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDid = "did:plc:abc"

func post(rkey, text, createdAt, indexedAt string) string {
	return fmt.Sprintf(`{
		"uri": "at://%s/app.bsky.feed.post/%s",
		"cid": "bafyreib%s",
		"author": {"did": "%s", "handle": "launch.bsky.social"},
		"record": {"$type": "app.bsky.feed.post", "text": %q, "createdAt": %q},
		"indexedAt": %q
	}`, testDid, rkey, rkey, testDid, text, createdAt, indexedAt)
}

func TestFetchAll(t *testing.T) {
	repost := fmt.Sprintf(`{
		"post": %s,
		"reason": {
			"$type": "app.bsky.feed.defs#reasonRepost",
			"by": {"did": "%s", "handle": "launch.bsky.social"},
			"indexedAt": "2025-03-04T17:00:00.000Z"
		}
	}`, post("r1", "Someone else's news", "2025-03-04T17:00:00.000Z", "2025-03-04T17:00:00.000Z"), testDid)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/app.bsky.feed.getAuthorFeed", r.URL.Path)
		assert.Equal(t, testDid, r.URL.Query().Get("actor"))
		assert.Equal(t, "posts_no_replies", r.URL.Query().Get("filter"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"feed": [{"post": %s}, %s, {"post": %s}, {"post": %s}]}`,
			post("a", "Launch day!", "2025-03-04T15:00:00.000Z", "2025-03-04T15:00:01.000Z"),
			repost,
			post("b", "Update two", "2025-03-04T16:00:00.000Z", "2025-03-04T16:00:01.000Z"),
			post("c", "Clock skew", "not a date", "2025-03-04T15:30:00.000Z"),
		)
	}))
	defer server.Close()

	client, err := New(context.Background(), Config{Actor: testDid, AppViewHost: server.URL})
	require.NoError(t, err)
	assert.Equal(t, testDid, client.DID())

	updates, err := client.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 3)

	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/b", updates[0].Id)
	assert.Equal(t, "Update two", updates[0].Content)
	assert.Empty(t, updates[0].Title)
	assert.Equal(t, time.Date(2025, time.March, 4, 16, 0, 0, 0, time.UTC), updates[0].PublishedAt.UTC())

	// Falls back to the indexing time
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/c", updates[1].Id)
	assert.Equal(t, time.Date(2025, time.March, 4, 15, 30, 0, 0, time.UTC), updates[1].PublishedAt.UTC())

	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/a", updates[2].Id)
}

func TestResolveHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.identity.resolveHandle", r.URL.Path)
		assert.Equal(t, "launch.bsky.social", r.URL.Query().Get("handle"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"did": %q}`, testDid)
	}))
	defer server.Close()

	client, err := New(context.Background(), Config{Actor: "@launch.bsky.social", AppViewHost: server.URL})
	require.NoError(t, err)
	assert.Equal(t, testDid, client.DID())
	assert.Equal(t, []string{testDid}, client.jetstream.WantedDids)
	assert.Equal(t, []string{postCollection}, client.jetstream.WantedCollections)
	assert.Equal(t, DefaultJetstreamHosts, client.jetstream.Hosts)
}

func TestIsPostCommit(t *testing.T) {
	client := &Client{did: testDid}

	tests := []struct {
		name     string
		message  string
		expected bool
	}{
		{
			name:     "own post created",
			message:  `{"did": "did:plc:abc", "time_us": 1, "kind": "commit", "commit": {"rev": "1", "operation": "create", "collection": "app.bsky.feed.post", "rkey": "a", "record": {"text": "hi"}, "cid": "bafy"}}`,
			expected: true,
		},
		{
			name:     "own post deleted",
			message:  `{"did": "did:plc:abc", "time_us": 2, "kind": "commit", "commit": {"rev": "2", "operation": "delete", "collection": "app.bsky.feed.post", "rkey": "a"}}`,
			expected: true,
		},
		{
			name:     "other account",
			message:  `{"did": "did:plc:other", "time_us": 3, "kind": "commit", "commit": {"rev": "3", "operation": "create", "collection": "app.bsky.feed.post", "rkey": "b"}}`,
			expected: false,
		},
		{
			name:     "like",
			message:  `{"did": "did:plc:abc", "time_us": 4, "kind": "commit", "commit": {"rev": "4", "operation": "create", "collection": "app.bsky.feed.like", "rkey": "c"}}`,
			expected: false,
		},
		{
			name:     "identity event",
			message:  `{"did": "did:plc:abc", "time_us": 5, "kind": "identity"}`,
			expected: false,
		},
		{
			name:     "garbage",
			message:  `not json`,
			expected: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, client.isPostCommit([]byte(test.message)))
		})
	}
}

func TestSubscribeURL(t *testing.T) {
	config := JetstreamConfig{
		WantedCollections: []string{postCollection},
		WantedDids:        []string{testDid},
	}
	u, err := config.subscribeURL("wss://jetstream1.us-east.bsky.network")
	require.NoError(t, err)
	assert.Equal(t,
		"wss://jetstream1.us-east.bsky.network/subscribe?wantedCollections=app.bsky.feed.post&wantedDids=did%3Aplc%3Aabc",
		u,
	)
}

func TestSubscribeSignalsCommitsAndReconnects(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscribe", r.URL.Path)
		assert.Equal(t, testDid, r.URL.Query().Get("wantedDids"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if connections.Add(1) == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"did": "did:plc:abc", "time_us": 1, "kind": "commit", "commit": {"rev": "1", "operation": "create", "collection": "app.bsky.feed.post", "rkey": "a", "record": {"text": "hi"}, "cid": "bafy"}}`))
			// Give the client a moment to read before dropping the connection
			time.Sleep(50 * time.Millisecond)
			return
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := New(context.Background(), Config{
		Actor:       testDid,
		AppViewHost: server.URL,
		Jetstream: JetstreamConfig{
			Hosts: []string{"ws" + strings.TrimPrefix(server.URL, "http")},
		},
	})
	require.NoError(t, err)

	sub, err := client.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	select {
	case <-sub.Signals():
	case <-time.After(2 * time.Second):
		t.Fatal("no signal for commit")
	}

	select {
	case err := <-sub.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no error for dropped connection")
	}

	// Reconnecting is a fresh signal
	select {
	case <-sub.Signals():
	case <-time.After(2 * time.Second):
		t.Fatal("no signal after reconnect")
	}
	assert.GreaterOrEqual(t, connections.Load(), int32(2))

	require.NoError(t, sub.Close())
}

func TestSubscribeReportsUnreachableHosts(t *testing.T) {
	client, err := New(context.Background(), Config{
		Actor: testDid,
		Jetstream: JetstreamConfig{
			Hosts: []string{"ws://127.0.0.1:1"},
		},
	})
	require.NoError(t, err)

	sub, err := client.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	select {
	case err := <-sub.Errors():
		assert.ErrorContains(t, err, "no Jetstream host reachable")
	case <-time.After(3 * time.Second):
		t.Fatal("failed dials were not reported")
	}
}
