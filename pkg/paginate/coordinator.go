// Package paginate drives the transport executor across a cursor-paginated
// endpoint. Pages are fetched strictly sequentially: a next cursor is only
// known once its preceding page has resolved, so request N+1 is never issued
// before request N's outcome is known.
package paginate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mateothegreat/notionkit/pkg/reporter"
	"github.com/mateothegreat/notionkit/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination runs.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_pages_total",
		Help: "Total pages fetched by endpoint",
	}, []string{"endpoint"})

	pageResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_page_results_total",
		Help: "Total results emitted by endpoint",
	}, []string{"endpoint"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notion_pagination_run_duration_seconds",
		Help:    "Duration of complete pagination runs by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"endpoint"})
)

// Fetcher executes one logical call. Implemented by transport.Executor.
type Fetcher interface {
	Execute(ctx context.Context, d transport.Descriptor, rep *reporter.Reporter) *transport.Result
}

// Limits are caller-supplied inclusive ceilings for a run. Zero means
// unbounded.
type Limits struct {
	// Pages caps the number of requests issued.
	Pages int

	// Results caps the number of results emitted across all pages. The final
	// page is trimmed so the cumulative total equals the cap exactly.
	Results int
}

// Validate checks limit invariants.
func (l Limits) Validate() error {
	if l.Pages < 0 {
		return fmt.Errorf("limits: pages must be >= 0 (got %d)", l.Pages)
	}
	if l.Results < 0 {
		return fmt.Errorf("limits: results must be >= 0 (got %d)", l.Results)
	}
	return nil
}

// Page is one emitted page of results plus its pagination metadata.
type Page struct {
	Results    []json.RawMessage
	HasMore    bool
	NextCursor string
}

// envelope is the pagination contract every paginated Notion response obeys.
type envelope struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

// state tracks one run. Counters are monotonically non-decreasing for the
// life of the run.
type state struct {
	requests    int
	accumulated int
	emitted     int
}

// Coordinator runs cursor pagination over a Fetcher.
type Coordinator struct {
	fetcher Fetcher
	logger  zerolog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(fetcher Fetcher) *Coordinator {
	return &Coordinator{
		fetcher: fetcher,
		logger:  log.With().Str("component", "paginate").Logger(),
	}
}

// Run fetches every page and returns them in cursor order.
func (c *Coordinator) Run(ctx context.Context, d transport.Descriptor, limits Limits, rep *reporter.Reporter) ([]Page, error) {
	var pages []Page
	err := c.Each(ctx, d, limits, rep, func(p Page) error {
		pages = append(pages, p)
		return nil
	})
	return pages, err
}

// Stream fetches pages in a goroutine and emits them on the returned channel,
// which is closed when the run terminates. The error channel receives the
// run's terminal error (nil on completion or cancellation).
func (c *Coordinator) Stream(ctx context.Context, d transport.Descriptor, limits Limits, rep *reporter.Reporter) (<-chan Page, <-chan error) {
	pages := make(chan Page)
	errc := make(chan error, 1)

	go func() {
		defer close(pages)
		errc <- c.Each(ctx, d, limits, rep, func(p Page) error {
			select {
			case pages <- p:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return pages, errc
}

// Each is the pagination loop: fetch a page, update state and reporter,
// evaluate stop conditions in fixed order, then either terminate or continue
// from the returned cursor. Implemented iteratively; long runs must not grow
// the stack.
func (c *Coordinator) Each(ctx context.Context, d transport.Descriptor, limits Limits, rep *reporter.Reporter, fn func(Page) error) error {
	if err := limits.Validate(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(d.Path).Observe(time.Since(start).Seconds())
	}()

	var st state
	next := d

	for {
		// The signal is observed before every request; nothing is issued
		// after it has fired.
		if ctx.Err() != nil {
			return c.interrupted(ctx, rep)
		}

		data, err := c.fetcher.Execute(ctx, next, rep).Data()
		if err != nil {
			if errors.Is(err, transport.ErrCancelled) || errors.Is(err, context.Canceled) {
				// Reporter stage already records the cancellation.
				return nil
			}
			// Terminal transport failure; reporter stage already set.
			return err
		}

		// A payload that is valid JSON but not a list envelope is still a
		// parse failure within the closed taxonomy.
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			apiErr := &transport.APIError{
				Kind:    transport.KindUnclassified,
				Body:    string(data),
				Message: "decode page envelope",
				Err:     err,
			}
			rep.Fail(apiErr.Error())
			return apiErr
		}

		st.requests++
		st.accumulated += len(env.Results)

		page := Page{
			Results:    env.Results,
			HasMore:    env.HasMore,
			NextCursor: env.NextCursor,
		}

		// Trim the final page so the cumulative emitted count equals the
		// results cap exactly. Earlier pages are never revisited.
		if limits.Results > 0 {
			if remaining := limits.Results - st.emitted; len(page.Results) > remaining {
				page.Results = page.Results[:remaining]
			}
		}
		st.emitted += len(page.Results)

		rep.Page(len(page.Results), env.NextCursor)
		pagesTotal.WithLabelValues(d.Path).Inc()
		pageResultsTotal.WithLabelValues(d.Path).Add(float64(len(page.Results)))

		c.logger.Debug().
			Str("endpoint", d.Path).
			Int("requests", st.requests).
			Int("results", st.emitted).
			Bool("has_more", env.HasMore).
			Msg("Page received")

		if err := fn(page); err != nil {
			if errors.Is(err, context.Canceled) {
				rep.Cancelled()
				return nil
			}
			return err
		}

		if c.done(limits, st, env) {
			rep.Complete()
			c.logger.Info().
				Str("endpoint", d.Path).
				Int("requests", st.requests).
				Int("results", st.emitted).
				Dur("duration", time.Since(start)).
				Msg("Pagination complete")
			return nil
		}

		next = next.WithCursor(env.NextCursor)
	}
}

// done evaluates the stop conditions in their fixed order: request ceiling,
// result ceiling, then exhaustion of the cursor chain.
func (c *Coordinator) done(limits Limits, st state, env envelope) bool {
	if limits.Pages > 0 && st.requests >= limits.Pages {
		return true
	}
	if limits.Results > 0 && st.accumulated >= limits.Results {
		return true
	}
	if !env.HasMore || env.NextCursor == "" {
		return true
	}
	return false
}

// interrupted maps a fired signal to the run's terminal state. Explicit
// cancellation is not an error; the global deadline is surfaced as one.
func (c *Coordinator) interrupted(ctx context.Context, rep *reporter.Reporter) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rep.Timeout("operation deadline exceeded")
		return fmt.Errorf("pagination run: %w", ctx.Err())
	}
	rep.Cancelled()
	return nil
}
