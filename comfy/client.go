// Package comfy is a client for the ComfyUI API: job submission and
// result retrieval over HTTP, progress tracking over the websocket
// event feed.
package comfy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/google/uuid"
)

// DefaultSamplers is used when the sampler list can't be discovered
// from the server.
var DefaultSamplers = []string{
	"euler", "euler_ancestral", "heun", "heunpp2", "dpm_2",
	"dpm_2_ancestral", "lms", "dpm_fast", "dpm_adaptive",
	"dpmpp_2s_ancestral", "dpmpp_sde", "dpmpp_sde_gpu",
	"dpmpp_2m", "dpmpp_2m_sde", "dpmpp_2m_sde_gpu",
	"dpmpp_3m_sde", "dpmpp_3m_sde_gpu", "ddpm", "lcm", "ddim", "uni_pc", "uni_pc_bh2",
}

// DefaultSchedulers is used when the scheduler list can't be
// discovered from the server.
var DefaultSchedulers = []string{
	"normal", "karras", "exponential", "sgm_uniform", "simple", "ddim_uniform", "beta",
}

// Client talks to a single ComfyUI server. Each client carries a
// unique id used to correlate websocket events with queued prompts.
type Client struct {
	baseURL    string
	wsURL      string
	clientID   string
	httpClient *http.Client

	mu         sync.Mutex
	samplers   []string
	schedulers []string
}

// NewClient creates a client for the server at serverURL, e.g.
// "http://localhost:8188".
func NewClient(serverURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", serverURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in server url %q", u.Scheme, serverURL)
	}

	wsScheme := "ws"
	if u.Scheme == "https" {
		wsScheme = "wss"
	}

	return &Client{
		baseURL:    u.String(),
		wsURL:      fmt.Sprintf("%s://%s/ws", wsScheme, u.Host),
		clientID:   uuid.New().String(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// ClientID returns the unique id for this connection to the server.
func (c *Client) ClientID() string { return c.clientID }

// SetHTTPClient replaces the underlying http client.
func (c *Client) SetHTTPClient(client *http.Client) { c.httpClient = client }

// Samplers returns the sampler names offered by the server's KSampler
// node. Discovery is retried with backoff; if the server stays
// unreachable the default list is returned so callers can proceed.
func (c *Client) Samplers(ctx context.Context) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samplers == nil {
		c.discover(ctx)
	}
	return c.samplers
}

// Schedulers returns the scheduler names offered by the server's
// KSampler node, falling back to the default list on failure.
func (c *Client) Schedulers(ctx context.Context) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schedulers == nil {
		c.discover(ctx)
	}
	return c.schedulers
}

// discover mines sampler and scheduler enums from the KSampler entry
// of /object_info. Caller holds c.mu.
func (c *Client) discover(ctx context.Context) {
	rptr := repeater.New(&strategy.Backoff{Repeats: 3, Duration: time.Second, Factor: 2, Jitter: true})

	var info NodeInfo
	err := rptr.Do(ctx, func() error {
		res, e := c.NodeObjectInfo(ctx, "KSampler")
		if e != nil {
			return e
		}
		info = res
		return nil
	})
	if err != nil {
		log.Printf("[WARN] can't fetch KSampler info, using default samplers and schedulers: %v", err)
		c.samplers = DefaultSamplers
		c.schedulers = DefaultSchedulers
		return
	}

	if names := info.requiredEnum("sampler_name"); len(names) > 0 {
		c.samplers = names
		log.Printf("[INFO] discovered %d samplers", len(names))
	} else {
		log.Printf("[WARN] no sampler enum in KSampler info, using defaults")
		c.samplers = DefaultSamplers
	}

	if names := info.requiredEnum("scheduler"); len(names) > 0 {
		c.schedulers = names
		log.Printf("[INFO] discovered %d schedulers", len(names))
	} else {
		log.Printf("[WARN] no scheduler enum in KSampler info, using defaults")
		c.schedulers = DefaultSchedulers
	}
}
