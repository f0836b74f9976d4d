package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type TokenProvider func(ctx context.Context) (string, error)

func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

type ClientOptions struct {
	BaseURL       string
	DatabaseID    string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	APIVersion    string
	UserAgent     string
}

// Client issues single-shot calls against the store; retry, pacing and
// concurrency control belong to the caller.
type Client struct {
	baseURL       string
	databaseID    string
	tokenProvider TokenProvider
	httpClient    *http.Client
	apiVersion    string
	userAgent     string
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "convosync/1.0"
	}
	return &Client{
		baseURL:       baseURL,
		databaseID:    strings.TrimSpace(opts.DatabaseID),
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		apiVersion:    apiVersion,
		userAgent:     userAgent,
	}
}

type queryRequest struct {
	Filter   queryFilter `json:"filter"`
	PageSize int         `json:"page_size,omitempty"`
}

type queryFilter struct {
	Property string      `json:"property"`
	Title    titleEquals `json:"title"`
}

type titleEquals struct {
	Equals string `json:"equals"`
}

type queryResponse struct {
	Results []pageResponse `json:"results"`
}

type pageResponse struct {
	ID string `json:"id"`
}

type createRequest struct {
	Parent     pageParent `json:"parent"`
	Properties Properties `json:"properties"`
}

type pageParent struct {
	DatabaseID string `json:"database_id"`
}

type updateRequest struct {
	Properties Properties `json:"properties"`
}

func (c *Client) FindPage(ctx context.Context, key string) (string, bool, error) {
	var resp queryResponse
	req := queryRequest{
		Filter: queryFilter{
			Property: PropConversationID,
			Title:    titleEquals{Equals: key},
		},
		PageSize: 1,
	}
	path := fmt.Sprintf("/v1/databases/%s/query", c.databaseID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", false, err
	}
	if len(resp.Results) == 0 {
		return "", false, nil
	}
	return resp.Results[0].ID, true, nil
}

func (c *Client) CreatePage(ctx context.Context, key string, props Properties) (string, error) {
	payload := make(Properties, len(props)+1)
	for name, value := range props {
		payload[name] = value
	}
	payload[PropConversationID] = TitleProperty(key)

	var resp pageResponse
	req := createRequest{
		Parent:     pageParent{DatabaseID: c.databaseID},
		Properties: payload,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) UpdatePage(ctx context.Context, pageID string, props Properties) (string, error) {
	var resp pageResponse
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, updateRequest{Properties: props}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c == nil {
		return fmt.Errorf("notion client is nil")
	}
	if c.databaseID == "" {
		return fmt.Errorf("notion database id is required")
	}
	if c.tokenProvider == nil {
		return fmt.Errorf("notion token provider is required")
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("notion token is empty")
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", c.apiVersion)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode notion response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(respBody)),
		RetryAfter: parseRetryAfterSeconds(resp.Header.Get("Retry-After")),
	}
	var parsed map[string]any
	if json.Unmarshal(respBody, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			apiErr.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			apiErr.Message = message
		}
	}
	return apiErr
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
