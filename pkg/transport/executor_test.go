package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mateothegreat/notionkit/internal/testutil"
	"github.com/mateothegreat/notionkit/pkg/reporter"
)

func testDescriptor(baseURL, path string) Descriptor {
	return Descriptor{
		BaseURL: baseURL,
		Path:    path,
		Method:  http.MethodGet,
		Retries: 3,
		Backoff: 10 * time.Millisecond,
	}
}

func TestExecute_Success(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetJSON("/v1/pages/abc", 200, `{"object":"page","id":"abc"}`)

	rep := reporter.New()
	e := New(Config{})

	out := e.Execute(context.Background(), testDescriptor(mock.URL(), "/v1/pages/abc"), rep).Outcome()

	if out.Err != nil {
		t.Fatalf("Expected success, got %v", out.Err)
	}
	if string(out.Data) != `{"object":"page","id":"abc"}` {
		t.Errorf("Data = %s", out.Data)
	}
	if out.Response == nil || out.Response.StatusCode != 200 {
		t.Errorf("Response meta = %+v, want status 200", out.Response)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("Request count = %d, want 1", mock.RequestCount())
	}
	// Success leaves the reporter open for the owner of the run to complete.
	if snap := rep.Snapshot(); snap.Errors != 0 || snap.Stage.Terminal() {
		t.Errorf("Snapshot = %+v, want no errors and a non-terminal stage", snap)
	}
}

func TestExecute_SharedSingleExecution(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetJSON("/v1/pages/abc", 200, `{"object":"page"}`)

	e := New(Config{})
	res := e.Execute(context.Background(), testDescriptor(mock.URL(), "/v1/pages/abc"), nil)

	// Many consumers, some after parsed data, some after raw metadata.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(raw bool) {
			defer wg.Done()
			if raw {
				meta, err := res.Response()
				if err != nil || meta.StatusCode != 200 {
					t.Errorf("Response() = %+v, %v", meta, err)
				}
			} else {
				data, err := res.Data()
				if err != nil || len(data) == 0 {
					t.Errorf("Data() = %s, %v", data, err)
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if mock.RequestCount() != 1 {
		t.Errorf("Request count = %d, want exactly 1 shared execution", mock.RequestCount())
	}
}

func TestExecute_LazyUntilResolved(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetJSON("/v1/pages/abc", 200, `{}`)

	e := New(Config{})
	res := e.Execute(context.Background(), testDescriptor(mock.URL(), "/v1/pages/abc"), nil)

	time.Sleep(50 * time.Millisecond)
	if mock.RequestCount() != 0 {
		t.Fatalf("Request fired before any consumer resolved the handle")
	}

	if _, err := res.Data(); err != nil {
		t.Fatalf("Data() error: %v", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("Request count = %d, want 1", mock.RequestCount())
	}
}

func TestExecute_RetryOn503ThenSuccess(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetStatusSequence("/v1/search", []int{503, 503, 200}, `{"object":"list","results":[]}`)

	d := testDescriptor(mock.URL(), "/v1/search")
	d.Retries = 2
	d.Backoff = 100 * time.Millisecond

	rep := reporter.New()
	e := New(Config{})

	start := time.Now()
	out := e.Execute(context.Background(), d, rep).Outcome()
	elapsed := time.Since(start)

	if out.Err != nil {
		t.Fatalf("Expected success after retries, got %v", out.Err)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("Request count = %d, want 3 attempts", mock.RequestCount())
	}
	// Exponential delays: 100ms then 200ms.
	if elapsed < 300*time.Millisecond {
		t.Errorf("Elapsed = %v, want >= 300ms of backoff", elapsed)
	}
	if snap := rep.Snapshot(); snap.Errors != 0 || snap.Stage.Terminal() {
		t.Errorf("Snapshot = %+v, want no errors and a non-terminal stage", snap)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{"first retry", 100 * time.Millisecond, 0, 100 * time.Millisecond},
		{"doubles", 100 * time.Millisecond, 2, 400 * time.Millisecond},
		{"zero base", 0, 5, 0},
		{"at the cap", 30 * time.Second, 0, maxRetryDelay},
		{"beyond the cap", 500 * time.Millisecond, 10, maxRetryDelay},
		{"overflowing shift", 500 * time.Millisecond, 45, maxRetryDelay},
		{"huge attempt", time.Second, 200, maxRetryDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backoffDelay(tt.base, tt.attempt)
			if got != tt.want {
				t.Errorf("backoffDelay(%v, %d) = %v, want %v", tt.base, tt.attempt, got, tt.want)
			}
			if got < 0 {
				t.Errorf("backoffDelay(%v, %d) went negative", tt.base, tt.attempt)
			}
		})
	}
}

func TestExecute_NoRetryOn404(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()

	d := testDescriptor(mock.URL(), "/v1/pages/missing")
	d.Retries = 3
	d.Backoff = 200 * time.Millisecond

	rep := reporter.New()
	e := New(Config{})

	start := time.Now()
	out := e.Execute(context.Background(), d, rep).Outcome()
	elapsed := time.Since(start)

	if out.Err == nil {
		t.Fatal("Expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(out.Err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", out.Err)
	}
	if apiErr.Kind != KindHTTP || apiErr.StatusCode != 404 {
		t.Errorf("Error = %+v, want http/404", apiErr)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("Request count = %d, want exactly 1 for non-retryable", mock.RequestCount())
	}
	// Single round-trip, not the retry schedule.
	if elapsed > 150*time.Millisecond {
		t.Errorf("Elapsed = %v, should be one round-trip", elapsed)
	}
	if stage := rep.Snapshot().Stage; stage != reporter.StageError {
		t.Errorf("Stage = %s, want error", stage)
	}
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetStatusSequence("/v1/search", []int{503}, "")

	d := testDescriptor(mock.URL(), "/v1/search")
	d.Retries = 2
	d.Backoff = 10 * time.Millisecond

	rep := reporter.New()
	e := New(Config{})

	out := e.Execute(context.Background(), d, rep).Outcome()

	if out.Err == nil {
		t.Fatal("Expected error, got nil")
	}
	if mock.RequestCount() != 3 {
		t.Errorf("Request count = %d, want retries+1 = 3", mock.RequestCount())
	}

	// The last observed error is surfaced with its diagnostic context, not a
	// generic exhaustion wrapper.
	var apiErr *APIError
	if !errors.As(out.Err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", out.Err)
	}
	if apiErr.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", apiErr.StatusCode)
	}
	if snap := rep.Snapshot(); snap.Stage != reporter.StageError || snap.Errors != 1 {
		t.Errorf("Snapshot = %+v, want stage error with exactly 1 error", snap)
	}
}

func TestExecute_PerCallTimeout(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetDelay("/v1/pages/slow", 500*time.Millisecond, `{}`)

	d := testDescriptor(mock.URL(), "/v1/pages/slow")
	d.Timeout = 50 * time.Millisecond
	d.Retries = 0

	rep := reporter.New()
	e := New(Config{})

	out := e.Execute(context.Background(), d, rep).Outcome()

	var apiErr *APIError
	if !errors.As(out.Err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", out.Err)
	}
	if apiErr.Kind != KindTimeout {
		t.Errorf("Kind = %s, want timeout", apiErr.Kind)
	}
	if stage := rep.Snapshot().Stage; stage != reporter.StageTimeout {
		t.Errorf("Stage = %s, want timeout", stage)
	}
}

func TestExecute_PerCallTimeoutIsRetryable(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetDelay("/v1/pages/slow", 200*time.Millisecond, `{}`)

	d := testDescriptor(mock.URL(), "/v1/pages/slow")
	d.Timeout = 20 * time.Millisecond
	d.Retries = 2
	d.Backoff = 10 * time.Millisecond

	e := New(Config{})
	out := e.Execute(context.Background(), d, nil).Outcome()

	if out.Err == nil {
		t.Fatal("Expected timeout error")
	}
	if mock.RequestCount() != 3 {
		t.Errorf("Request count = %d, want 3 (timeouts retry)", mock.RequestCount())
	}
}

func TestExecute_ParseFailureIsUnclassified(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetJSON("/v1/pages/abc", 200, "not json at all")

	d := testDescriptor(mock.URL(), "/v1/pages/abc")
	d.Retries = 3

	e := New(Config{})
	out := e.Execute(context.Background(), d, nil).Outcome()

	var apiErr *APIError
	if !errors.As(out.Err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", out.Err)
	}
	if apiErr.Kind != KindUnclassified {
		t.Errorf("Kind = %s, want unclassified", apiErr.Kind)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("Request count = %d, parse failures must not retry", mock.RequestCount())
	}
}

func TestExecute_NetworkErrorClassification(t *testing.T) {
	mock := testutil.NewMockNotion()
	url := mock.URL()
	mock.Close() // connection refused from here on

	d := testDescriptor(url, "/v1/pages/abc")
	d.Retries = 1
	d.Backoff = 10 * time.Millisecond

	e := New(Config{})
	out := e.Execute(context.Background(), d, nil).Outcome()

	var apiErr *APIError
	if !errors.As(out.Err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", out.Err)
	}
	if apiErr.Kind != KindNetwork {
		t.Errorf("Kind = %s, want network", apiErr.Kind)
	}
}

func TestExecute_CancelDuringBackoff(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetStatusSequence("/v1/search", []int{503}, "")

	d := testDescriptor(mock.URL(), "/v1/search")
	d.Retries = 5
	d.Backoff = 300 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	rep := reporter.New()
	e := New(Config{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	out := e.Execute(ctx, d, rep).Outcome()

	if !errors.Is(out.Err, ErrCancelled) {
		t.Errorf("Err = %v, want ErrCancelled", out.Err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("Request count = %d, no attempt may follow cancellation", mock.RequestCount())
	}
	if snap := rep.Snapshot(); snap.Stage != reporter.StageCancelled {
		t.Errorf("Stage = %s, want cancelled (distinct from error)", snap.Stage)
	}
	if rep.Snapshot().Errors != 0 {
		t.Error("Cancellation must not count as an error")
	}
}

func TestExecute_GlobalDeadline(t *testing.T) {
	mock := testutil.NewMockNotion()
	defer mock.Close()
	mock.SetDelay("/v1/pages/slow", 500*time.Millisecond, `{}`)

	d := testDescriptor(mock.URL(), "/v1/pages/slow")
	d.Retries = 5
	d.Timeout = 0 // only the operation deadline applies

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rep := reporter.New()
	e := New(Config{})
	out := e.Execute(ctx, d, rep).Outcome()

	var apiErr *APIError
	if !errors.As(out.Err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", out.Err)
	}
	if apiErr.Kind != KindTimeout {
		t.Errorf("Kind = %s, want timeout", apiErr.Kind)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Error("Deadline failure should wrap context.DeadlineExceeded")
	}
	if mock.RequestCount() != 1 {
		t.Errorf("Request count = %d, the global deadline suppresses retries", mock.RequestCount())
	}
	if stage := rep.Snapshot().Stage; stage != reporter.StageTimeout {
		t.Errorf("Stage = %s, want timeout", stage)
	}
}

func TestExecute_InvalidDescriptor(t *testing.T) {
	e := New(Config{})
	out := e.Execute(context.Background(), Descriptor{}, nil).Outcome()

	if out.Err == nil {
		t.Error("Expected validation error for empty descriptor")
	}
}
