package server

import (
	"airlive/feed"
	"airlive/models"
	"airlive/render"
	"airlive/store"
	"airlive/timefmt"
	"bufio"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

//go:embed static/*
var static embed.FS

const (
	ssePath         = "/feed/sse"
	pingInterval    = 5 * time.Second
	relabelInterval = time.Minute
)

type ServerConfig struct {
	// Page chrome
	Site render.Site

	// Store used for the one-shot fetch behind each page render
	Store store.Client

	// The live feed shared by every SSE client
	Sync *feed.Synchronizer

	// Broadcast channels to pass feed changes to SSE clients
	Broadcaster *Broadcaster

	// Timezone used when a request does not ask for one
	Location *time.Location

	// How long a rendered page is served from cache, zero disables caching
	Revalidate time.Duration

	// Origins allowed to read the API from a browser, empty disables CORS
	AllowOrigins string

	// Public URL used for links in the RSS and Atom feeds, empty uses the request's host
	Hostname string

	// Clock, defaults to time.Now
	Now func() time.Time
}

type feedEvent struct {
	HTML      string `json:"html"`
	Count     int    `json:"count"`
	Connected bool   `json:"connected"`
}

func (config *ServerConfig) now() time.Time {
	if config.Now != nil {
		return config.Now()
	}
	return time.Now()
}

// location picks the timezone asked for by the tz query parameter, falling back to the default
func (config *ServerConfig) location(c *fiber.Ctx) *time.Location {
	if tz := c.Query("tz"); tz != "" {
		loc, err := timefmt.ResolveLocation(tz)
		if err == nil {
			return loc
		}
		log.WithFields(log.Fields{
			"tz":    tz,
			"error": err,
		}).Debug("Unknown timezone, using default")
	}
	if config.Location != nil {
		return config.Location
	}
	return time.Local
}

func (config *ServerConfig) baseURL(c *fiber.Ctx) string {
	if config.Hostname != "" {
		return config.Hostname
	}
	return c.BaseURL()
}

// Returns a fiber.App instance serving the live feed
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Debug("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == ssePath
		},
	}))

	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: config.AllowOrigins,
			AllowHeaders: "Cache-Control",
		}))
	}

	// Pages are re-rendered at most once per revalidate window
	if config.Revalidate > 0 {
		app.Use(cache.New(cache.Config{
			Next: func(c *fiber.Ctx) bool {
				return c.Method() != fiber.MethodGet || c.Path() != "/"
			},
			Expiration: config.Revalidate,
			KeyGenerator: func(c *fiber.Ctx) string {
				// One entry per resolved timezone, unknown names share the default page
				return c.Path() + "?tz=" + config.location(c).String()
			},
		}))
	}

	app.Get("/", func(c *fiber.Ctx) error {
		updates, err := config.Store.FetchAll(c.UserContext())
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error fetching updates for page")
			return fmt.Errorf("failed to fetch updates: %w", err)
		}

		state := models.FeedState{
			Updates:     updates,
			IsConnected: config.Sync.Snapshot().IsConnected,
		}

		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return render.WritePage(c, config.Site, render.Build(state, config.now(), config.location(c)))
	})

	app.Get("/api/updates", func(c *fiber.Ctx) error {
		state := config.Sync.Snapshot()
		return c.JSON(fiber.Map{
			"updates":     state.Updates,
			"isConnected": state.IsConnected,
			"phase":       config.Sync.Phase().String(),
		})
	})

	app.Get("/feed.xml", func(c *fiber.Ctx) error {
		rss, err := syndication(config.Site, config.Sync.Snapshot(), config.baseURL(c)).ToRss()
		if err != nil {
			return fmt.Errorf("failed to render rss: %w", err)
		}
		c.Set(fiber.HeaderContentType, "application/rss+xml; charset=utf-8")
		return c.SendString(rss)
	})

	app.Get("/feed.atom", func(c *fiber.Ctx) error {
		atom, err := syndication(config.Site, config.Sync.Snapshot(), config.baseURL(c)).ToAtom()
		if err != nil {
			return fmt.Errorf("failed to render atom: %w", err)
		}
		c.Set(fiber.HeaderContentType, "application/atom+xml; charset=utf-8")
		return c.SendString(atom)
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		phase := config.Sync.Phase()
		status := fiber.StatusOK
		if phase == models.Terminated {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"phase":     phase.String(),
			"connected": config.Sync.Snapshot().IsConnected,
			"clients":   bc.Count(),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Delete(ssePath, func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get(ssePath, func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		loc := config.location(c)
		states := make(chan models.FeedState, 10)

		if !bc.AddClient(key, states) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "shutting down")
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer func() {
				log.Infof("Cleaning up SSE stream for client: %s", key)
				bc.RemoveClient(key)
			}()

			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			relabel := time.NewTicker(relabelInterval)
			defer relabel.Stop()

			// Send initial event with client key
			if err := writeEvent(w, "init", []byte(key)); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			// The page may be up to one revalidate window old, bring it up to date
			state := config.Sync.Snapshot()
			if err := config.writeFeed(w, state, loc); err != nil {
				log.Warnf("Failed to send feed to client %s: %v", key, err)
				return
			}

			for {
				select {
				case <-ping.C:
					if err := writeEvent(w, "ping", nil); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}

				case <-relabel.C:
					// Relative labels go stale as time passes
					if err := config.writeFeed(w, state, loc); err != nil {
						log.Warnf("Failed to send feed to client %s: %v", key, err)
						return
					}

				case next, ok := <-states:
					if !ok {
						log.Debugf("Feed channel closed for client %s", key)
						return
					}
					state = next
					if err := config.writeFeed(w, state, loc); err != nil {
						log.Warnf("Failed to send feed to client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	app.Use("/static", filesystem.New(filesystem.Config{
		Browse:     false,
		Root:       http.FS(static),
		PathPrefix: "/static",
		MaxAge:     86400,
	}))

	return app
}

func (config *ServerConfig) writeFeed(w *bufio.Writer, state models.FeedState, loc *time.Location) error {
	view := render.Build(state, config.now(), loc)
	html, err := render.FeedHTML(view)
	if err != nil {
		return err
	}

	data, err := json.Marshal(feedEvent{
		HTML:      html,
		Count:     view.Count,
		Connected: view.Connected,
	})
	if err != nil {
		return fmt.Errorf("error marshalling feed: %w", err)
	}

	return writeEvent(w, "feed", data)
}

// writeEvent writes one server-sent event, data must not contain newlines
func writeEvent(w *bufio.Writer, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}
