package forward

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/syncer"
)

func fastBackoff() syncer.Backoff {
	return syncer.Backoff{
		Base:       time.Millisecond,
		Cap:        time.Millisecond,
		Multiplier: 2,
		Rand:       func() float64 { return 0 },
	}
}

func testClient(t *testing.T, server *httptest.Server, opts ClientOptions) *Client {
	t.Helper()
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	opts.BaseURL = server.URL
	opts.HTTPClient = server.Client()
	if opts.Backoff.Base == 0 {
		opts.Backoff = fastBackoff()
	}
	opts.Logger = zerolog.Nop()
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(ClientOptions{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestSendInsightsRequestShape(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"proc-1","status":"accepted"}`))
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{})
	result, err := client.SendInsights(context.Background(), map[string]any{
		"title":  "Planning chat",
		"topics": []string{"go", "apis"},
	}, "conv_abc123")
	if err != nil {
		t.Fatalf("SendInsights: %v", err)
	}
	if result.ID != "proc-1" || result.Status != "accepted" {
		t.Fatalf("result = %+v", result)
	}
	if gotPath != "/insights" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	insights, _ := gotBody["insights"].(map[string]any)
	if insights["title"] != "Planning chat" {
		t.Fatalf("insights = %v", gotBody["insights"])
	}
	if gotBody["conversation_id"] != "conv_abc123" {
		t.Fatalf("conversation_id = %v", gotBody["conversation_id"])
	}
	if gotBody["source"] != payloadSource || gotBody["client_version"] != clientVersion {
		t.Fatalf("envelope = %v", gotBody)
	}
	if timestamp, _ := gotBody["timestamp"].(string); timestamp == "" {
		t.Fatalf("missing timestamp")
	}
}

func TestSendBatchRequestShape(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"batch_id":"batch-1","processed_count":2,"status":"accepted"}`))
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{})
	result, err := client.SendBatch(context.Background(), []map[string]any{
		{"conversation_id": "conv_1"},
		{"conversation_id": "conv_2"},
	})
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if result.ProcessedCount != 2 || result.BatchID != "batch-1" {
		t.Fatalf("result = %+v", result)
	}
	if gotPath != "/insights/batch" {
		t.Fatalf("path = %q", gotPath)
	}
	batch, _ := gotBody["insights_batch"].([]any)
	if len(batch) != 2 {
		t.Fatalf("insights_batch = %v", gotBody["insights_batch"])
	}
	if size, _ := gotBody["batch_size"].(float64); size != 2 {
		t.Fatalf("batch_size = %v", gotBody["batch_size"])
	}
}

func TestSendBatchEmptyIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("empty batch reached the API")
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{})
	result, err := client.SendBatch(context.Background(), nil)
	if err != nil || result.ProcessedCount != 0 {
		t.Fatalf("result = %+v, err %v", result, err)
	}
}

func TestGetProcessingStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/insights/proc-9/status" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"proc-9","status":"completed"}`))
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{})
	status, err := client.GetProcessingStatus(context.Background(), "proc-9")
	if err != nil {
		t.Fatalf("GetProcessingStatus: %v", err)
	}
	if status.Status != "completed" {
		t.Fatalf("status = %+v", status)
	}
	if _, err := client.GetProcessingStatus(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank id")
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{})
	if !client.HealthCheck(context.Background()) {
		t.Fatalf("healthy endpoint reported unhealthy")
	}
	healthy = false
	if client.HealthCheck(context.Background()) {
		t.Fatalf("degraded endpoint reported healthy")
	}
}

func TestRetryOnServerErrorThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"proc-1","status":"accepted"}`))
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{MaxAttempts: 4})
	result, err := client.SendInsights(context.Background(), map[string]any{"title": "x"}, "")
	if err != nil {
		t.Fatalf("SendInsights: %v", err)
	}
	if result.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.Attempts)
	}
	snapshot := client.Metrics()
	if snapshot.RequestsTotal != 3 || snapshot.RetriesTotal != 2 {
		t.Fatalf("metrics = %+v, want 3 requests with 2 retries", snapshot)
	}
	if snapshot.RequestsSuccess != 1 || snapshot.RequestsFailed != 0 {
		t.Fatalf("metrics = %+v", snapshot)
	}
}

func TestValidationErrorIsTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"missing title"}`))
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{MaxAttempts: 4})
	_, err := client.SendInsights(context.Background(), map[string]any{}, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, validation errors must not be retried", got)
	}
	if snapshot := client.Metrics(); snapshot.RequestsFailed != 1 {
		t.Fatalf("metrics = %+v", snapshot)
	}
}

func TestCircuitBreakerRejectsWithoutRequests(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{
		MaxAttempts:      1,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	})
	ctx := context.Background()
	payload := map[string]any{"title": "x"}
	for i := 0; i < 2; i++ {
		if _, err := client.SendInsights(ctx, payload, ""); err == nil {
			t.Fatalf("expected failure %d", i)
		}
	}
	before := atomic.LoadInt32(&calls)

	_, err := client.SendInsights(ctx, payload, "")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := atomic.LoadInt32(&calls); got != before {
		t.Fatalf("open circuit still sent a request")
	}
	snapshot := client.Metrics()
	if snapshot.CircuitBreakerState != breakerOpen || snapshot.CircuitBreakerOpens != 1 {
		t.Fatalf("metrics = %+v", snapshot)
	}
}

func TestCircuitBreakerRecoversAfterCooldown(t *testing.T) {
	var fail int32 = 1
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fail) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id":"proc-1"}`))
	}))
	defer server.Close()

	client := testClient(t, server, ClientOptions{
		MaxAttempts:      1,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Minute,
	})
	clock := time.Now()
	client.breaker.now = func() time.Time { return clock }

	ctx := context.Background()
	payload := map[string]any{"title": "x"}
	if _, err := client.SendInsights(ctx, payload, ""); err == nil {
		t.Fatalf("expected first call to fail")
	}
	if _, err := client.SendInsights(ctx, payload, ""); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want rejection while open", err)
	}

	atomic.StoreInt32(&fail, 0)
	clock = clock.Add(61 * time.Second)
	if _, err := client.SendInsights(ctx, payload, ""); err != nil {
		t.Fatalf("probe after cooldown failed: %v", err)
	}
	if snapshot := client.Metrics(); snapshot.CircuitBreakerState != breakerClosed {
		t.Fatalf("metrics = %+v, want closed circuit", snapshot)
	}
}
