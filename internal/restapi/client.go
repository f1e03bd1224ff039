// Package restapi is the REST side of the sync engine: recovery status
// endpoints, batched association reads and preference writes. The push
// channel is authoritative when connected; this client reconciles what the
// channel may have missed.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// JobStatus is the server's answer to a per-job status poll.
type JobStatus struct {
	IsProcessing    bool
	PercentComplete float64
	Status          string
	Message         string
	Entity          string
	Details         map[string]any
}

// AssocEvent is one event linked to a download.
type AssocEvent struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Association is the tag/event association set for one download.
type Association struct {
	Tags   []string     `json:"tags"`
	Events []AssocEvent `json:"events"`
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration // default 10s
	BulkTimeout time.Duration // default 30s, used while a bulk job runs
}

// Client talks to the cache server's REST API with retries.
type Client struct {
	logger      *zap.Logger
	http        *retryablehttp.Client
	opts        Options
	bulkRunning atomic.Bool
}

// NewClient creates a REST client.
func NewClient(logger *zap.Logger, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BulkTimeout <= 0 {
		opts.BulkTimeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &Client{
		logger: logger.Named("restapi"),
		http:   rc,
		opts:   opts,
	}
}

// SetBulkRunning switches request deadlines to the bulk timeout while a
// long-running server-side job is known to be in flight.
func (c *Client) SetBulkRunning(running bool) {
	c.bulkRunning.Store(running)
}

func (c *Client) timeout() time.Duration {
	if c.bulkRunning.Load() {
		return c.opts.BulkTimeout
	}
	return c.opts.Timeout
}

// JobStatus polls the recovery endpoint for one job kind.
func (c *Client) JobStatus(ctx context.Context, kind cnst.JobKind) (*JobStatus, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/operations/%s/status", kind))
	if err != nil {
		return nil, err
	}

	j := gjson.ParseBytes(body)
	st := &JobStatus{
		IsProcessing:    j.Get("isProcessing").Bool() || j.Get("isRunning").Bool(),
		PercentComplete: j.Get("percentComplete").Float(),
		Status:          j.Get("status").String(),
		Message:         j.Get("message").String(),
		Entity:          j.Get("entity").String(),
	}
	j.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "isProcessing", "isRunning", "percentComplete", "status", "message", "entity":
			return true
		}
		if st.Details == nil {
			st.Details = make(map[string]any)
		}
		st.Details[key.String()] = value.Value()
		return true
	})
	return st, nil
}

// Associations fetches tag/event associations for a batch of download ids.
func (c *Client) Associations(ctx context.Context, ids []int64) (map[int64]Association, error) {
	payload, err := json.Marshal(map[string][]int64{"ids": ids})
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/api/downloads/associations", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Associations map[string]Association `json:"associations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode associations: %w", err)
	}

	out := make(map[int64]Association, len(resp.Associations))
	for k, v := range resp.Associations {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			c.logger.Debug("skipping non-numeric association key", zap.String("key", k))
			continue
		}
		out[id] = v
	}
	return out, nil
}

// Download is one download record summary, as returned by the latest
// downloads endpoint.
type Download struct {
	ID             int64  `json:"id"`
	Service        string `json:"service"`
	ClientIP       string `json:"clientIp"`
	CacheHitBytes  int64  `json:"cacheHitBytes"`
	CacheMissBytes int64  `json:"cacheMissBytes"`
	IsActive       bool   `json:"isActive"`
}

// LatestDownloads fetches the most recent download records.
func (c *Client) LatestDownloads(ctx context.Context) ([]Download, error) {
	body, err := c.get(ctx, "/api/downloads/latest")
	if err != nil {
		return nil, err
	}

	var downloads []Download
	if err := json.Unmarshal(body, &downloads); err != nil {
		return nil, fmt.Errorf("decode downloads: %w", err)
	}
	return downloads, nil
}

// Preferences reads the authoritative preference set for a session.
func (c *Client) Preferences(ctx context.Context, sessionID string) (map[string]any, error) {
	body, err := c.get(ctx, "/api/preferences?sessionId="+sessionID)
	if err != nil {
		return nil, err
	}

	var prefs map[string]any
	if err := json.Unmarshal(body, &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}

// SetPreference writes one preference key for a session.
func (c *Client) SetPreference(ctx context.Context, sessionID, key string, value any) error {
	payload, err := json.Marshal(map[string]any{"sessionId": sessionID, "value": value})
	if err != nil {
		return err
	}
	_, err = c.put(ctx, "/api/preferences/"+key, payload)
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) put(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var rawBody io.Reader
	if body != nil {
		rawBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(reqCtx, method, c.opts.BaseURL+path, rawBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("X-Api-Key", c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// unwrap so callers can distinguish cancellation from failure
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return data, nil
}
