package server

import (
	"airlive/feed"
	"airlive/models"
	"airlive/render"
	"airlive/store/storetest"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, time.March, 4, 15, 0, 0, 0, time.UTC)

type testServer struct {
	app   *fiber.App
	store *storetest.Fake
	sync  *feed.Synchronizer
	bc    *Broadcaster
}

func newTestServer(t *testing.T, revalidate time.Duration, updates ...models.Update) *testServer {
	t.Helper()

	fake := storetest.NewFake(updates...)
	bc := NewBroadcaster()
	sync := feed.NewSynchronizer(fake, feed.OnChange(bc.Broadcast))
	require.NoError(t, sync.Start(context.Background(), updates))
	t.Cleanup(sync.Teardown)
	t.Cleanup(bc.Shutdown)

	app := Server(&ServerConfig{
		Site:        render.Site{Title: "Air Sports Live", Tagline: "Real-time updates from the sky"},
		Store:       fake,
		Sync:        sync,
		Broadcaster: bc,
		Location:    time.UTC,
		Revalidate:  revalidate,
		Now:         func() time.Time { return t0.Add(48 * time.Hour) },
	})

	return &testServer{app: app, store: fake, sync: sync, bc: bc}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPage(t *testing.T) {
	a := models.Update{Id: "a", Content: "Launch day!", PublishedAt: t0}
	ts := newTestServer(t, 0, a)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/?tz=Asia/Tokyo", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body := readBody(t, resp)
	assert.Contains(t, body, "<title>Air Sports Live</title>")
	assert.Contains(t, body, "Launch day!")
	assert.Contains(t, body, "1 update")
	// 15:00 UTC is the next day in Tokyo
	assert.Contains(t, body, "Mar 5")
	assert.Contains(t, body, "12:00 AM")
	assert.Contains(t, body, render.StatusConnected)
}

func TestPageUnknownTimezoneFallsBack(t *testing.T) {
	a := models.Update{Id: "a", Content: "Launch day!", PublishedAt: t0}
	ts := newTestServer(t, 0, a)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/?tz=Mars/Olympus", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "Mar 4")
	assert.Contains(t, body, "3:00 PM")
}

func TestPageFetchError(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.store.SetFetchError(errors.New("store unavailable"))

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

func TestPageIsCachedForRevalidateWindow(t *testing.T) {
	a := models.Update{Id: "a", Content: "Launch day!", PublishedAt: t0}
	b := models.Update{Id: "b", Content: "Update two", PublishedAt: t0.Add(time.Hour)}
	ts := newTestServer(t, time.Minute, a)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/?tz=UTC", nil))
	require.NoError(t, err)
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	first := readBody(t, resp)

	ts.store.SetUpdates(b, a)

	resp, err = ts.app.Test(httptest.NewRequest("GET", "/?tz=UTC", nil))
	require.NoError(t, err)
	assert.Equal(t, "hit", resp.Header.Get("X-Cache"))
	assert.Equal(t, first, readBody(t, resp))
	assert.Equal(t, 1, ts.store.FetchCount())

	// A different timezone is a different page
	resp, err = ts.app.Test(httptest.NewRequest("GET", "/?tz=Europe/Oslo", nil))
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "2 updates")
}

func TestPageCacheKeysOnResolvedTimezone(t *testing.T) {
	a := models.Update{Id: "a", Content: "Launch day!", PublishedAt: t0}
	ts := newTestServer(t, time.Minute, a)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/?tz=UTC", nil))
	require.NoError(t, err)
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))

	// Unknown and missing timezones fall back to the default and share its entry
	for _, target := range []string{"/?tz=Mars/Olympus", "/?tz=Nowhere/Bogus", "/", "/?tz=UTC&utm=feed"} {
		resp, err = ts.app.Test(httptest.NewRequest("GET", target, nil))
		require.NoError(t, err)
		assert.Equal(t, "hit", resp.Header.Get("X-Cache"), target)
	}
	assert.Equal(t, 1, ts.store.FetchCount())
}

func TestUpdatesAPI(t *testing.T) {
	a := models.Update{Id: "a", Title: "Opening", Content: "Launch day!", PublishedAt: t0}
	ts := newTestServer(t, 0, a)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/api/updates", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		Updates     []models.Update `json:"updates"`
		IsConnected bool            `json:"isConnected"`
		Phase       string          `json:"phase"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Updates, 1)
	assert.Equal(t, "a", body.Updates[0].Id)
	assert.Equal(t, "Opening", body.Updates[0].Title)
	assert.True(t, body.IsConnected)
	assert.Equal(t, "live", body.Phase)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"phase":"live"`)

	ts.sync.Teardown()

	resp, err = ts.app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"phase":"terminated"`)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "airlive_feed_connected")
}

func TestStaticAssets(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/static/favicon.svg", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "<svg")
}

func TestRemoveUnknownClient(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := ts.app.Test(httptest.NewRequest("DELETE", "/feed/sse?key=nope", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var evt sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return evt
		case strings.HasPrefix(line, "event: "):
			evt.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			evt.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// nextFeed skips pings until a feed event arrives
func nextFeed(t *testing.T, r *bufio.Reader) feedEvent {
	t.Helper()
	for {
		evt := readEvent(t, r)
		if evt.name != "feed" {
			continue
		}
		var payload feedEvent
		require.NoError(t, json.Unmarshal([]byte(evt.data), &payload))
		return payload
	}
}

func TestFeedStream(t *testing.T) {
	a := models.Update{Id: "a", Content: "Launch day!", PublishedAt: t0}
	b := models.Update{Id: "b", Content: "Update two", PublishedAt: t0.Add(time.Hour)}
	ts := newTestServer(t, 0, a)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go ts.app.Listener(ln)
	defer ts.app.Shutdown()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/feed/sse?tz=UTC")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	hello := readEvent(t, r)
	assert.Equal(t, "init", hello.name)
	assert.NotEmpty(t, hello.data)

	first := nextFeed(t, r)
	assert.Equal(t, 1, first.Count)
	assert.True(t, first.Connected)
	assert.Contains(t, first.HTML, "Launch day!")

	assert.Eventually(t, func() bool { return ts.bc.Count() == 1 }, time.Second, 10*time.Millisecond)

	ts.store.Publish(b, a)

	second := nextFeed(t, r)
	assert.Equal(t, 2, second.Count)
	assert.Contains(t, second.HTML, "Update two")
	assert.Contains(t, second.HTML, "2 updates")

	ts.store.Break(nil)

	third := nextFeed(t, r)
	assert.False(t, third.Connected)
	assert.Contains(t, third.HTML, render.StatusReconnecting)

	req, err := http.NewRequest("DELETE", base+"/feed/sse?key="+hello.data, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, 200, del.StatusCode)

	assert.Eventually(t, func() bool { return ts.bc.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster(t *testing.T) {
	bc := NewBroadcaster()
	one := make(chan models.FeedState, 1)
	two := make(chan models.FeedState, 1)

	assert.True(t, bc.AddClient("one", one))
	assert.True(t, bc.AddClient("two", two))
	assert.Equal(t, 2, bc.Count())

	state := models.FeedState{Updates: []models.Update{{Id: "a"}}, IsConnected: true}
	bc.Broadcast(state)
	// Full channels are skipped rather than blocking
	bc.Broadcast(state)

	got := <-one
	assert.Equal(t, []string{"a"}, got.Ids())
	got.Updates[0].Id = "changed"
	assert.Equal(t, "a", (<-two).Updates[0].Id)

	bc.RemoveClient("one")
	bc.RemoveClient("one")
	_, open := <-one
	assert.False(t, open)
	assert.Equal(t, 1, bc.Count())

	bc.Shutdown()
	_, open = <-two
	assert.False(t, open)
	assert.False(t, bc.AddClient("three", make(chan models.FeedState, 1)))
	bc.Shutdown()
}
