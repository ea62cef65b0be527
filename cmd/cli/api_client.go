// This file implements the HTTP client used by commands that talk to a
// running 'portprobe serve' instead of the local engine.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/errors"
)

const (
	apiClientTimeout = 30 * time.Second
	apiKeyKey        = "api_key"
	apiKeyFileKey    = "api_key_file"
)

// APIClient provides authenticated HTTP client functionality for CLI commands.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// apiErrorBody mirrors the API's error response.
type apiErrorBody struct {
	Error     string           `json:"error"`
	Code      errors.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	RequestID string           `json:"request_id"`
}

// APIError represents an API error response.
type APIError struct {
	StatusCode int
	Code       errors.ErrorCode
	Message    string
	RequestID  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient creates a client for the API rooted at baseURL, e.g.
// "http://127.0.0.1:8080". apiKey may be empty when the server has no keys.
func NewAPIClient(baseURL, apiKey string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: apiClientTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent: "portprobe-cli/" + version,
	}
}

// apiClient builds a client from --server and the API key sources.
func (a *app) apiClient(cmd *cobra.Command) (*APIClient, error) {
	cfg, err := a.loadConfig(cmd, map[string]string{apiKeyKey: "api-key"})
	if err != nil {
		return nil, err
	}

	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = "http://" + cfg.GetAPIAddress()
	}
	return NewAPIClient(server, a.apiKeyFromSources()), nil
}

// apiKeyFromSources returns --api-key, PORTPROBE_API_KEY or the contents of
// the file named by PORTPROBE_API_KEY_FILE, in that order.
func (a *app) apiKeyFromSources() string {
	if key := a.v.GetString(apiKeyKey); key != "" {
		return key
	}
	if keyFile := a.v.GetString(apiKeyFileKey); keyFile != "" {
		// #nosec G304 - the path is chosen by the operator
		if data, err := os.ReadFile(keyFile); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// Get performs a GET request and decodes the response into out.
func (c *APIClient) Get(ctx context.Context, endpoint string, out interface{}) error {
	return c.request(ctx, http.MethodGet, endpoint, nil, out)
}

// Post performs a POST request with an optional JSON payload.
func (c *APIClient) Post(ctx context.Context, endpoint string, payload, out interface{}) error {
	return c.request(ctx, http.MethodPost, endpoint, payload, out)
}

// Delete performs a DELETE request.
func (c *APIClient) Delete(ctx context.Context, endpoint string) error {
	return c.request(ctx, http.MethodDelete, endpoint, nil, nil)
}

// request performs the actual HTTP request with authentication.
func (c *APIClient) request(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var requestBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		requestBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, requestBody)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp.StatusCode, bodyBytes)
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.RequestID = parsed.RequestID
		apiErr.Message = parsed.Message
		if apiErr.Message == "" {
			apiErr.Message = parsed.Error
		}
	} else {
		// If JSON parsing fails, treat as plain text error
		apiErr.Message = strings.TrimSpace(string(body))
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// describeAPIError turns an API error into a hint for the operation.
func describeAPIError(err error, operation string) error {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed for %s; set PORTPROBE_API_KEY: %w", operation, err)
	case http.StatusNotFound:
		return fmt.Errorf("%s: not found: %w", operation, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded for %s; try again later: %w", operation, err)
	default:
		return fmt.Errorf("%s failed: %w", operation, err)
	}
}
