// Package notion provides the API-facing client: it attaches credentials and
// protocol headers, builds request descriptors for Notion's endpoint shapes,
// and wires the transport executor, pagination coordinator, rate limiter and
// progress reporter together, one operation at a time.
package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mateothegreat/notionkit/pkg/operation"
	"github.com/mateothegreat/notionkit/pkg/paginate"
	"github.com/mateothegreat/notionkit/pkg/ratelimit"
	"github.com/mateothegreat/notionkit/pkg/reporter"
	"github.com/mateothegreat/notionkit/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Notion API origin.
const DefaultBaseURL = "https://api.notion.com"

// DefaultVersion is the Notion-Version header attached to every request.
const DefaultVersion = "2022-06-28"

// Config holds the client configuration.
type Config struct {
	// Token is the integration bearer token (required). The client attaches
	// it as an Authorization header; it does not manage token acquisition,
	// rotation, or storage.
	Token string

	// BaseURL overrides the API origin, mainly for tests.
	BaseURL string

	// Version is the Notion-Version header value.
	Version string

	// Headers are extra headers merged over the defaults.
	Headers map[string]string

	// Timeout bounds a single request attempt.
	Timeout time.Duration

	// Retries is the retry budget per logical call.
	Retries int

	// Backoff is the base delay for exponential retry backoff.
	Backoff time.Duration

	// OperationTimeout bounds an entire operation (a whole pagination run),
	// independent of the per-attempt Timeout. Zero means unbounded.
	OperationTimeout time.Duration

	// RateLimit configures the client-side request gate.
	RateLimit ratelimit.Config

	// HTTPClient overrides the underlying HTTP client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		Token:     token,
		BaseURL:   DefaultBaseURL,
		Version:   DefaultVersion,
		Timeout:   30 * time.Second,
		Retries:   3,
		Backoff:   500 * time.Millisecond,
		RateLimit: ratelimit.DefaultConfig(),
	}
}

// Client is the main Notion API client.
type Client struct {
	config      Config
	executor    *transport.Executor
	coordinator *paginate.Coordinator
	limiter     *ratelimit.Limiter
	logger      zerolog.Logger
}

// New creates a new Notion client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0 (got %d)", cfg.Retries)
	}
	if cfg.Backoff < 0 {
		return nil, fmt.Errorf("backoff must be >= 0 (got %v)", cfg.Backoff)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	executor := transport.New(transport.Config{
		HTTPClient: cfg.HTTPClient,
		Gate:       limiter,
	})

	return &Client{
		config:      cfg,
		executor:    executor,
		coordinator: paginate.NewCoordinator(executor),
		limiter:     limiter,
		logger:      log.With().Str("component", "notion-client").Logger(),
	}, nil
}

// SearchRequest is the body of a search call.
type SearchRequest struct {
	Query    string         `json:"query,omitempty"`
	Filter   map[string]any `json:"filter,omitempty"`
	Sort     map[string]any `json:"sort,omitempty"`
	PageSize int            `json:"page_size,omitempty"`
}

// Descriptor builds a request descriptor with credentials and protocol
// headers attached. An empty method defaults to GET here, at the boundary.
func (c *Client) Descriptor(method, path string, body any) transport.Descriptor {
	if method == "" {
		method = http.MethodGet
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.Token)
	header.Set("Notion-Version", c.config.Version)
	header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		header.Set(k, v)
	}

	return transport.Descriptor{
		BaseURL: c.config.BaseURL,
		Path:    path,
		Method:  method,
		Header:  header,
		Body:    body,
		Timeout: c.config.Timeout,
		Retries: c.config.Retries,
		Backoff: c.config.Backoff,
	}
}

// Do performs a single logical call. The reporter may be nil.
func (c *Client) Do(ctx context.Context, d transport.Descriptor, rep *reporter.Reporter) (json.RawMessage, error) {
	op := operation.New(ctx, c.config.OperationTimeout)
	defer op.Cancel()

	rep.Request()
	c.logger.Debug().
		Str("operation", op.ID()).
		Str("endpoint", d.Path).
		Str("method", d.Method).
		Msg("Executing request")

	data, err := c.executor.Execute(op.Context(), d, rep).Data()
	if err == nil {
		rep.Complete()
	}
	return data, err
}

// Paginate runs cursor pagination over d, returning the pages in cursor
// order. The reporter may be nil; passing one exposes live progress.
func (c *Client) Paginate(ctx context.Context, d transport.Descriptor, limits paginate.Limits, rep *reporter.Reporter) ([]paginate.Page, error) {
	op := operation.New(ctx, c.config.OperationTimeout)
	defer op.Cancel()

	c.logger.Debug().
		Str("operation", op.ID()).
		Str("endpoint", d.Path).
		Msg("Starting pagination run")

	return c.coordinator.Run(op.Context(), d, limits, rep)
}

// GetPage fetches a single page object.
func (c *Client) GetPage(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Do(ctx, c.Descriptor(http.MethodGet, PagePath(id), nil), nil)
}

// GetDatabase fetches a single database object.
func (c *Client) GetDatabase(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Do(ctx, c.Descriptor(http.MethodGet, DatabasePath(id), nil), nil)
}

// GetBlock fetches a single block object.
func (c *Client) GetBlock(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Do(ctx, c.Descriptor(http.MethodGet, BlockPath(id), nil), nil)
}

// GetPageProperty fetches a page property. Multi-valued properties paginate;
// the cursor rides the query string.
func (c *Client) GetPageProperty(ctx context.Context, pageID, propertyID string, limits paginate.Limits, rep *reporter.Reporter) ([]paginate.Page, error) {
	d := c.Descriptor(http.MethodGet, PagePropertyPath(pageID, propertyID), nil)
	return c.Paginate(ctx, d, limits, rep)
}

// Search runs a paginated search. The cursor rides the request body.
func (c *Client) Search(ctx context.Context, req SearchRequest, limits paginate.Limits, rep *reporter.Reporter) ([]paginate.Page, error) {
	d := c.Descriptor(http.MethodPost, SearchPath, req)
	return c.Paginate(ctx, d, limits, rep)
}

// QueryDatabase runs a paginated database query.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, query map[string]any, limits paginate.Limits, rep *reporter.Reporter) ([]paginate.Page, error) {
	d := c.Descriptor(http.MethodPost, DatabaseQueryPath(databaseID), query)
	return c.Paginate(ctx, d, limits, rep)
}

// GetBlockChildren lists a block's children, paginated.
func (c *Client) GetBlockChildren(ctx context.Context, blockID string, limits paginate.Limits, rep *reporter.Reporter) ([]paginate.Page, error) {
	d := c.Descriptor(http.MethodGet, BlockChildrenPath(blockID), nil)
	return c.Paginate(ctx, d, limits, rep)
}

// ListUsers lists workspace users, paginated.
func (c *Client) ListUsers(ctx context.Context, limits paginate.Limits, rep *reporter.Reporter) ([]paginate.Page, error) {
	d := c.Descriptor(http.MethodGet, UsersPath, nil)
	return c.Paginate(ctx, d, limits, rep)
}

// RateLimitState returns a copy of the limiter's current state.
func (c *Client) RateLimitState() ratelimit.State {
	return c.limiter.GetState()
}
