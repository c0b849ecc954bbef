package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Descriptor is the immutable input for one logical call. Callers construct
// it once; the executor and pagination coordinator copy it rather than
// mutating it.
type Descriptor struct {
	// BaseURL is the scheme and host, e.g. "https://api.notion.com".
	BaseURL string

	// Path is the request path, e.g. "/v1/search".
	Path string

	// Method is the HTTP method. The executor requires it to be set; the
	// GET default is applied at the client boundary, not here.
	Method string

	// Header holds request headers. Attached verbatim; merging of defaults
	// happens at the client boundary.
	Header http.Header

	// Query holds query parameters attached to the URL.
	Query url.Values

	// Body is an optional payload, serialized to JSON before transmission.
	Body any

	// Cursor, when set, resumes a paginated endpoint. It is injected as the
	// start_cursor body field for methods that carry a body and as a
	// start_cursor query parameter otherwise.
	Cursor string

	// Timeout bounds a single attempt. Zero means no per-call timeout.
	Timeout time.Duration

	// Retries is the number of re-attempts allowed after the first failure.
	Retries int

	// Backoff is the base delay before a retry. The delay before re-attempt
	// n is Backoff × 2^n.
	Backoff time.Duration
}

// Validate checks descriptor invariants. The executor rejects invalid
// descriptors without issuing a request.
func (d Descriptor) Validate() error {
	if d.BaseURL == "" {
		return fmt.Errorf("descriptor: base URL is required")
	}
	if d.Path == "" {
		return fmt.Errorf("descriptor: path is required")
	}
	if d.Method == "" {
		return fmt.Errorf("descriptor: method is required")
	}
	if d.Retries < 0 {
		return fmt.Errorf("descriptor: retries must be >= 0 (got %d)", d.Retries)
	}
	if d.Backoff < 0 {
		return fmt.Errorf("descriptor: backoff must be >= 0 (got %v)", d.Backoff)
	}
	return nil
}

// WithCursor returns a copy of the descriptor resuming from cursor.
func (d Descriptor) WithCursor(cursor string) Descriptor {
	next := d
	next.Cursor = cursor
	return next
}

// hasBody reports whether the method conventionally carries a request body.
func (d Descriptor) hasBody() bool {
	switch d.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// request builds the HTTP request for one attempt.
func (d Descriptor) request(ctx context.Context) (*http.Request, error) {
	u := strings.TrimRight(d.BaseURL, "/") + d.Path

	query := url.Values{}
	for k, vs := range d.Query {
		query[k] = vs
	}

	payload := d.Body
	if d.Cursor != "" {
		if d.hasBody() {
			merged, err := injectCursor(payload, d.Cursor)
			if err != nil {
				return nil, err
			}
			payload = merged
		} else {
			query.Set("start_cursor", d.Cursor)
		}
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, d.Method, u, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, d.Method, u, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return req, nil
}

// injectCursor merges start_cursor into a JSON-object payload.
func injectCursor(payload any, cursor string) (map[string]any, error) {
	merged := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, fmt.Errorf("cursor requires a JSON object body: %w", err)
		}
	}
	merged["start_cursor"] = cursor
	return merged, nil
}
