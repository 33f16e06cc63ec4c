// Package sanity reads updates from a Sanity dataset and listens for changes to them
package sanity

import (
	"airlive/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

const requestTimeout = 30 * time.Second

// Config addresses a dataset
type Config struct {
	ProjectId  string
	Dataset    string
	ApiVersion string
	Token      string
	UseCdn     bool
	DocType    string

	// BaseURL replaces https://<project>.api.sanity.io, used for tests and proxies
	BaseURL string
}

// Client talks to the Sanity HTTP API
type Client struct {
	config Config
	query  string
	http   *http.Client
	stream *http.Client
}

func New(config Config) *Client {
	if config.DocType == "" {
		config.DocType = "updatePost"
	}
	return &Client{
		config: config,
		query:  AllUpdatesQuery(config.DocType),
		http:   &http.Client{Timeout: requestTimeout},
		// The listen stream stays open indefinitely
		stream: &http.Client{},
	}
}

// AllUpdatesQuery is the GROQ query used both for reads and for the change subscription
func AllUpdatesQuery(docType string) string {
	return fmt.Sprintf(`*[_type == %q] | order(publishedAt desc) { _id, title, content, publishedAt }`, docType)
}

func (c *Client) baseURL(cdn bool) string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	host := "api.sanity.io"
	// The CDN never serves authenticated requests
	if cdn && c.config.Token == "" {
		host = "apicdn.sanity.io"
	}
	return fmt.Sprintf("https://%s.%s", c.config.ProjectId, host)
}

func (c *Client) endpoint(kind string, cdn bool, params url.Values) string {
	return fmt.Sprintf("%s/v%s/data/%s/%s?%s",
		c.baseURL(cdn),
		c.config.ApiVersion,
		kind,
		url.PathEscape(c.config.Dataset),
		params.Encode(),
	)
}

func (c *Client) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

type queryResponse struct {
	Ms     int               `json:"ms"`
	Result []json.RawMessage `json:"result"`
}

// FetchAll runs the updates query and returns the result newest first
func (c *Client) FetchAll(ctx context.Context) ([]models.Update, error) {
	params := url.Values{}
	params.Set("query", c.query)

	req, err := c.newRequest(ctx, c.endpoint("query", c.config.UseCdn, params))
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query returned %s: %s", resp.Status, body)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}

	updates := make([]models.Update, 0, len(out.Result))
	for _, raw := range out.Result {
		var update models.Update
		if err := json.Unmarshal(raw, &update); err != nil {
			// One broken document must not take the feed down
			log.WithFields(log.Fields{
				"error":    err,
				"document": string(raw),
			}).Warn("Skipping malformed update")
			continue
		}
		updates = append(updates, update)
	}

	log.WithFields(log.Fields{
		"count": len(updates),
		"ms":    out.Ms,
	}).Debug("Fetched updates from Sanity")

	return updates, nil
}
