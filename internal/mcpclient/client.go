// Package mcpclient translates named service calls into HTTP requests
// against a dynamic MCP (model/provider) registry, with graceful
// degradation: every failure mode collapses to an Absent result rather than
// propagating upward.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	registryTimeout   = 10 * time.Second
	reasoningTimeout  = 20 * time.Second
	defaultTimeout    = 15 * time.Second
	shapeErrorLogBody = 200
)

var (
	consciousnessServiceNames = []string{"mcp-consciousness-layer", "consciousness-layer", "consciousness"}
	marketAnalyzerServiceNames = []string{"mcp-market-analyzer", "market-analyzer-service", "market-analyzer"}
	reasoningServiceNames     = []string{"mcp-reasoning-orchestrator", "reasoning-service", "reasoning-engine"}
	specialistServiceNames    = []string{"mcp-specialist-service", "mcp-strategy-specialist", "strategy-specialist"}
	portfolioServiceNames     = []string{"mcp-portfolio-optimizer", "portfolio-optimizer-service", "portfolio-optimizer"}
)

// registryResponse is the shape of GET {registry}/registry.
type registryResponse struct {
	Services    map[string]serviceEntry `json:"services"`
	LastUpdated string                  `json:"last_updated"`
}

type serviceEntry struct {
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Functions   []string `json:"functions"`
}

// Client is the MCP Client Layer: registry lookup plus the six typed calls
// the pipeline and arbitrage service depend on. All operations are
// asynchronous (via context), idempotent, and side-effect-free beyond the
// HTTP request itself.
type Client struct {
	registryURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a Client pointed at the given registry root (e.g.
// "http://mcp-registry:3001").
func New(registryURL string, logger *slog.Logger) *Client {
	return &Client{
		registryURL: strings.TrimRight(registryURL, "/"),
		httpClient:  &http.Client{},
		logger:      logger,
	}
}

// Lookup finds the first candidate name present in the registry's services
// map, matched case-insensitively, with a non-empty URL. It returns the URL
// or Absent — a missing service is not an error condition.
func (c *Client) Lookup(ctx context.Context, candidateNames []string, contextTag string) Result[string] {
	reg, ok := c.fetchRegistry(ctx, contextTag)
	if !ok {
		return Absent[string]()
	}

	for _, candidate := range candidateNames {
		for name, entry := range reg.Services {
			if !strings.EqualFold(candidate, name) {
				continue
			}
			if strings.TrimSpace(entry.URL) == "" {
				c.logger.Warn("mcpclient: service url is empty, rejecting",
					slog.String("service", name), slog.String("context", contextTag))
				continue
			}
			return Ok(entry.URL)
		}
	}

	c.logger.Warn("mcpclient: no candidate matched a registered service",
		slog.Any("candidates", candidateNames), slog.String("context", contextTag))
	return Absent[string]()
}

// fetchRegistry performs step 1-2 of the lookup algorithm: GET the registry
// with a bounded timeout and parse the services map. Any HTTP, network, or
// decode error is logged and reported as "not found" to the caller.
func (c *Client) fetchRegistry(ctx context.Context, contextTag string) (registryResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()

	url := c.registryURL + "/registry"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Error("mcpclient: build registry request", slog.String("error", err.Error()))
		return registryResponse{}, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("mcpclient: registry unreachable",
			slog.String("context", contextTag), slog.String("error", err.Error()))
		return registryResponse{}, false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		c.logger.Error("mcpclient: registry returned non-2xx",
			slog.Int("status", resp.StatusCode), slog.String("context", contextTag))
		return registryResponse{}, false
	}

	var reg registryResponse
	if err := json.Unmarshal(body, &reg); err != nil {
		c.logger.Warn("mcpclient: registry response shape error",
			slog.String("context", contextTag), slog.String("body_prefix", truncate(body, shapeErrorLogBody)))
		return registryResponse{}, false
	}
	if reg.Services == nil {
		c.logger.Warn("mcpclient: registry response missing services map",
			slog.String("context", contextTag), slog.String("body_prefix", truncate(body, shapeErrorLogBody)))
		return registryResponse{}, false
	}

	return reg, true
}

// get performs a GET against url, decoding the JSON body into out. Any
// failure is logged and reported to the caller as false.
func (c *Client) get(ctx context.Context, timeout time.Duration, url string, out interface{}, contextTag string) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	return c.do(req, out, contextTag)
}

// post performs a POST with a JSON body against url, decoding the JSON
// response into out.
func (c *Client) post(ctx context.Context, timeout time.Duration, url string, payload interface{}, out interface{}, contextTag string) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, contextTag)
}

func (c *Client) do(req *http.Request, out interface{}, contextTag string) bool {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("mcpclient: request failed", slog.String("context", contextTag), slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		c.logger.Error("mcpclient: non-2xx response",
			slog.Int("status", resp.StatusCode), slog.String("context", contextTag))
		return false
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Warn("mcpclient: response shape error",
			slog.String("context", contextTag), slog.String("body_prefix", truncate(respBody, shapeErrorLogBody)))
		return false
	}
	return true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

func serviceURL(base, endpoint string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(base, "/"), endpoint)
}
