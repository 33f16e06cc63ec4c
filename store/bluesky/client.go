// Package bluesky uses the posts of a single Bluesky account as the feed
package bluesky

import (
	"airlive/models"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultAppViewHost = "https://public.api.bsky.app"
	DefaultPDSHost     = "https://bsky.social"

	postCollection = "app.bsky.feed.post"
	authorFeedSize = 100
)

type Credentials struct {
	Identifier string
	Password   string
}

type Config struct {
	// Actor is the handle or DID whose posts make up the feed
	Actor       string
	AppViewHost string
	PDSHost     string
	// Credentials are optional, without them the public AppView is used
	Credentials *Credentials
	Jetstream   JetstreamConfig
}

type Client struct {
	xrpc      *xrpc.Client
	did       string
	jetstream JetstreamConfig
}

// New connects to Bluesky and resolves the actor to a DID
func New(ctx context.Context, cfg Config) (*Client, error) {
	var client *xrpc.Client
	var err error

	if cfg.Credentials != nil && cfg.Credentials.Identifier != "" {
		host := cfg.PDSHost
		if host == "" {
			host = DefaultPDSHost
		}
		client, err = clientFromCredentials(ctx, host, cfg.Credentials)
		if err != nil {
			return nil, err
		}
	} else {
		host := cfg.AppViewHost
		if host == "" {
			host = DefaultAppViewHost
		}
		client = &xrpc.Client{Host: host, Client: http.DefaultClient}
	}

	did, err := resolveActor(ctx, client, cfg.Actor)
	if err != nil {
		return nil, err
	}

	jetstream := cfg.Jetstream
	if len(jetstream.Hosts) == 0 {
		jetstream.Hosts = DefaultJetstreamHosts
	}
	jetstream.WantedDids = []string{did}
	jetstream.WantedCollections = []string{postCollection}

	log.WithFields(log.Fields{
		"actor": cfg.Actor,
		"did":   did,
		"host":  client.Host,
	}).Info("Using Bluesky account as feed")

	return &Client{xrpc: client, did: did, jetstream: jetstream}, nil
}

func clientFromCredentials(ctx context.Context, host string, creds *Credentials) (*xrpc.Client, error) {
	auth, err := atproto.ServerCreateSession(ctx, &xrpc.Client{Host: host}, &atproto.ServerCreateSession_Input{
		Identifier: creds.Identifier,
		Password:   creds.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &xrpc.Client{
		Host: host,
		Auth: &xrpc.AuthInfo{
			AccessJwt:  auth.AccessJwt,
			RefreshJwt: auth.RefreshJwt,
			Handle:     auth.Handle,
			Did:        auth.Did,
		},
		Client: http.DefaultClient,
	}, nil
}

func resolveActor(ctx context.Context, client *xrpc.Client, actor string) (string, error) {
	if strings.HasPrefix(actor, "did:") {
		return actor, nil
	}
	out, err := atproto.IdentityResolveHandle(ctx, client, strings.TrimPrefix(actor, "@"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve handle %s: %w", actor, err)
	}
	return out.Did, nil
}

// DID of the account backing the feed
func (c *Client) DID() string {
	return c.did
}

// FetchAll returns the newest posts of the account, replies and reposts excluded
func (c *Client) FetchAll(ctx context.Context) ([]models.Update, error) {
	out, err := bsky.FeedGetAuthorFeed(ctx, c.xrpc, c.did, "", "posts_no_replies", false, authorFeedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get author feed: %w", err)
	}

	updates := make([]models.Update, 0, len(out.Feed))
	for _, item := range out.Feed {
		update, ok := c.toUpdate(item)
		if ok {
			updates = append(updates, update)
		}
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].PublishedAt.After(updates[j].PublishedAt)
	})

	return updates, nil
}

func (c *Client) toUpdate(item *bsky.FeedDefs_FeedViewPost) (models.Update, bool) {
	// Reposts and pins carry a reason
	if item == nil || item.Post == nil || item.Reason != nil {
		return models.Update{}, false
	}

	uri, err := syntax.ParseATURI(item.Post.Uri)
	if err != nil || uri.Authority().String() != c.did || uri.Collection().String() != postCollection {
		return models.Update{}, false
	}

	update := models.Update{Id: item.Post.Uri}
	if item.Post.Record != nil {
		if post, ok := item.Post.Record.Val.(*bsky.FeedPost); ok {
			update.Content = post.Text
			if createdAt, err := time.Parse(time.RFC3339, post.CreatedAt); err == nil {
				update.PublishedAt = createdAt
			}
		}
	}

	if update.PublishedAt.IsZero() {
		if indexedAt, err := time.Parse(time.RFC3339, item.Post.IndexedAt); err == nil {
			update.PublishedAt = indexedAt
		}
	}

	return update, true
}
