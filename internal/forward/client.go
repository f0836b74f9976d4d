package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/syncer"
)

const (
	defaultBaseURL = "https://api.poke.example.com"
	defaultTimeout = 30 * time.Second

	payloadSource = "convosync"
	clientVersion = "1.0"
)

type ClientOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string

	MaxAttempts      int
	Backoff          syncer.Backoff
	RateLimit        int
	RateWindow       time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	Logger zerolog.Logger
}

// Client delivers condensed conversation insights to the Poke API. Every
// request passes the circuit breaker and the per-minute request limiter
// before it leaves; retryable failures go back through the shared retry
// executor with backoff and jitter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string

	exec    *syncer.Executor
	breaker *circuitBreaker
	limiter *requestLimiter
	metrics *clientMetrics
	logger  zerolog.Logger
}

type insightsEnvelope struct {
	Insights       map[string]any `json:"insights"`
	Timestamp      string         `json:"timestamp"`
	Source         string         `json:"source"`
	ClientVersion  string         `json:"client_version"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

type batchEnvelope struct {
	Batch         []map[string]any `json:"insights_batch"`
	Timestamp     string           `json:"timestamp"`
	Source        string           `json:"source"`
	BatchSize     int              `json:"batch_size"`
	ClientVersion string           `json:"client_version"`
}

type SendResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	// Attempts is how many requests the delivery took, including the
	// successful one. Not part of the response body.
	Attempts int `json:"-"`
}

type BatchResult struct {
	BatchID        string `json:"batch_id"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
	Status         string `json:"status"`
}

type ProcessingStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func NewClient(opts ClientOptions) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "convosync-poke-client/" + clientVersion
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	backoff := opts.Backoff
	if backoff.Jitter <= 0 {
		backoff.Jitter = 0.3
	}

	exec := syncer.NewExecutor(syncer.ExecutorOptions{
		Backoff:     backoff,
		MaxAttempts: maxAttempts,
		Retryable: func(err error) bool {
			if errors.Is(err, ErrCircuitOpen) {
				return false
			}
			return syncer.Retryable(err)
		},
		Logger: opts.Logger,
	})

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		userAgent:  userAgent,
		exec:       exec,
		breaker:    newCircuitBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		limiter:    newRequestLimiter(opts.RateLimit, opts.RateWindow),
		metrics:    &clientMetrics{},
		logger:     opts.Logger,
	}, nil
}

func (c *Client) SendInsights(ctx context.Context, insights map[string]any, conversationID string) (*SendResult, error) {
	payload := insightsEnvelope{
		Insights:       insights,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Source:         payloadSource,
		ClientVersion:  clientVersion,
		ConversationID: strings.TrimSpace(conversationID),
	}
	var result SendResult
	attempts, err := c.do(ctx, http.MethodPost, "/insights", payload, &result)
	if err != nil {
		return nil, err
	}
	result.Attempts = attempts
	c.logger.Info().Str("id", result.ID).Str("conversation_id", payload.ConversationID).Msg("insights forwarded")
	return &result, nil
}

func (c *Client) SendBatch(ctx context.Context, batch []map[string]any) (*BatchResult, error) {
	if len(batch) == 0 {
		return &BatchResult{}, nil
	}
	payload := batchEnvelope{
		Batch:         batch,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Source:        payloadSource,
		BatchSize:     len(batch),
		ClientVersion: clientVersion,
	}
	var result BatchResult
	if _, err := c.do(ctx, http.MethodPost, "/insights/batch", payload, &result); err != nil {
		return nil, err
	}
	c.logger.Info().Int("batch_size", len(batch)).Int("processed", result.ProcessedCount).Msg("batch forwarded")
	return &result, nil
}

func (c *Client) GetProcessingStatus(ctx context.Context, processingID string) (*ProcessingStatus, error) {
	processingID = strings.TrimSpace(processingID)
	if processingID == "" {
		return nil, fmt.Errorf("processing id is required")
	}
	var status ProcessingStatus
	if _, err := c.do(ctx, http.MethodGet, "/insights/"+processingID+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) HealthCheck(ctx context.Context) bool {
	var health struct {
		Status string `json:"status"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		c.logger.Error().Err(err).Msg("health check failed")
		return false
	}
	return health.Status == "healthy"
}

func (c *Client) Metrics() MetricsSnapshot {
	total, success, failed, retries, opens := c.metrics.counters()
	state, failures := c.breaker.snapshot()
	return MetricsSnapshot{
		RequestsTotal:       total,
		RequestsSuccess:     success,
		RequestsFailed:      failed,
		RetriesTotal:        retries,
		CircuitBreakerOpens: opens,
		CircuitBreakerState: state,
		BreakerFailures:     failures,
		RateLimit:           c.limiter.max,
		RequestsInWindow:    c.limiter.inWindow(),
	}
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
	snapshot := c.Metrics()
	c.logger.Info().
		Uint64("requests_total", snapshot.RequestsTotal).
		Uint64("requests_success", snapshot.RequestsSuccess).
		Uint64("requests_failed", snapshot.RequestsFailed).
		Uint64("retries_total", snapshot.RetriesTotal).
		Uint64("circuit_breaker_opens", snapshot.CircuitBreakerOpens).
		Msg("poke client closed")
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	attempts := 0
	err := c.exec.Do(ctx, func(ctx context.Context) error {
		attempts++
		if err := c.breaker.allow(); err != nil {
			c.metrics.addCircuitRejected()
			return err
		}
		if err := c.limiter.wait(ctx); err != nil {
			return err
		}
		c.metrics.addRequest()
		err := c.roundTrip(ctx, method, path, body, out)
		if err == nil {
			c.metrics.addSuccess()
			c.breaker.record(true)
			return nil
		}
		if !errors.Is(err, context.Canceled) {
			c.breaker.record(false)
		}
		return err
	})
	if attempts > 1 {
		c.metrics.addRetries(attempts - 1)
	}
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		c.metrics.addFailure()
	}
	return attempts, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(data))
	var wire struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &wire) == nil {
		if wire.Message != "" {
			message = wire.Message
		} else if wire.Error != "" {
			message = wire.Error
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
