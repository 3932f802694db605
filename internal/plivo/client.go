package plivo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrNoRecipient is returned when a message has no destination number
var ErrNoRecipient = errors.New("recipient number is required")

// APIError is a non-2xx answer from the Plivo REST API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when sent again
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable classifies an error returned by the client
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Client talks to the Plivo Message and Call APIs
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains Plivo client configuration
type Config struct {
	BaseURL          string
	AuthID           string
	AuthToken        string
	Sender           string
	TemplateName     string
	TemplateLanguage string
	Timeout          time.Duration
	MaxConcurrent    int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type template struct {
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Components []templateComponent `json:"components"`
}

type messageRequest struct {
	Src      string    `json:"src"`
	Dst      string    `json:"dst"`
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Template *template `json:"template,omitempty"`
}

type messageResponse struct {
	APIID       string   `json:"api_id"`
	Message     string   `json:"message"`
	MessageUUID []string `json:"message_uuid"`
}

// NewClient creates a new Plivo REST client
func NewClient(config Config) (*Client, error) {
	if config.AuthID == "" || config.AuthToken == "" {
		return nil, fmt.Errorf("auth id and auth token cannot be empty")
	}

	if config.BaseURL == "" {
		config.BaseURL = "https://api.plivo.com"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.TemplateLanguage == "" {
		config.TemplateLanguage = "en"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// SendTemplate sends the configured WhatsApp template to dst with params as
// its body parameters and returns the message id
func (c *Client) SendTemplate(ctx context.Context, dst string, params []string) (string, error) {
	if dst == "" {
		return "", ErrNoRecipient
	}

	parameters := make([]templateParameter, 0, len(params))
	for _, p := range params {
		parameters = append(parameters, templateParameter{Type: "text", Text: p})
	}

	return c.sendMessage(ctx, messageRequest{
		Src:  c.config.Sender,
		Dst:  dst,
		Type: "whatsapp",
		Template: &template{
			Name:     c.config.TemplateName,
			Language: c.config.TemplateLanguage,
			Components: []templateComponent{
				{Type: "body", Parameters: parameters},
			},
		},
	})
}

// SendText sends a plain WhatsApp text message to dst
func (c *Client) SendText(ctx context.Context, dst, text string) (string, error) {
	if dst == "" {
		return "", ErrNoRecipient
	}

	return c.sendMessage(ctx, messageRequest{
		Src:  c.config.Sender,
		Dst:  dst,
		Type: "whatsapp",
		Text: text,
	})
}

func (c *Client) sendMessage(ctx context.Context, msg messageRequest) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.accountURL("Message/"), body)
	if err != nil {
		return "", err
	}

	var resp messageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if len(resp.MessageUUID) == 0 {
		return "", fmt.Errorf("message accepted without a message uuid: %s", resp.Message)
	}

	return resp.MessageUUID[0], nil
}

// Hangup ends a live call
func (c *Client) Hangup(ctx context.Context, callID string) error {
	if callID == "" {
		return fmt.Errorf("call id is required")
	}

	_, err := c.do(ctx, http.MethodDelete, c.accountURL("Call/"+callID+"/"), nil)
	return err
}

func (c *Client) accountURL(resource string) string {
	return fmt.Sprintf("%s/v1/Account/%s/%s", c.config.BaseURL, c.config.AuthID, resource)
}

// do performs a single authenticated request
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	respBody, err := c.doRequest(ctx, method, url, body)
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return respBody, nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.SetBasicAuth(c.config.AuthID, c.config.AuthToken)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Inspection-Voice-Bot/1.0")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return respBody, nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to complete
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
