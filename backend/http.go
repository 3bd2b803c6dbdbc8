package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hredostate/yebo-sub011/models"
)

const (
	defaultTimeout = 10 * time.Second
	maxRedirects   = 10
)

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

type Config struct {
	HostPort     string // host:port of the data backend
	ClientDomain string // optional domain to prefer over the host in HostPort
	ApiKey       string
	SkipVerify   bool
	Timeout      time.Duration
	Logger       *slog.Logger
}

type ErrorResponse struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// Client is the HTTP implementation of Remote.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

var _ Remote = &Client{}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.HostPort == "" {
		return nil, fmt.Errorf("hostPort cannot be empty")
	}
	if cfg.ApiKey == "" {
		return nil, fmt.Errorf("apiKey cannot be empty")
	}
	clientLogger := cfg.Logger.WithGroup("backend_client")

	connectHost, connectPort, err := net.SplitHostPort(cfg.HostPort)
	if err != nil {
		clientLogger.Error("Failed to parse port from HostPort", "hostPort", cfg.HostPort, "error", err)
		return nil, fmt.Errorf("failed to parse port from HostPort '%s': %w", cfg.HostPort, err)
	}
	if cfg.ClientDomain != "" {
		connectHost = cfg.ClientDomain
	}

	// We ENFORCE HTTPS - NEVER PERMIT HTTP
	baseURLStr := fmt.Sprintf("https://%s", net.JoinHostPort(connectHost, connectPort))
	baseURL, err := url.Parse(baseURLStr)
	if err != nil {
		clientLogger.Error("Failed to parse base URL", "url", baseURLStr, "error", err)
		return nil, fmt.Errorf("failed to parse base URL '%s': %w", baseURLStr, err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.SkipVerify,
			},
		},
		Timeout: cfg.Timeout,
		// Redirects are followed manually in doRequest so the method,
		// body, and Authorization header survive every hop.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	clientLogger.Info("Backend client initialized", "base_url", baseURL.String(), "tls_skip_verify", cfg.SkipVerify)

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		apiKey:     cfg.ApiKey,
		logger:     clientLogger,
	}, nil
}

// BaseURL exposes the resolved backend address for the websocket watcher.
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

// SkipVerify reports whether TLS verification is disabled on the transport.
func (c *Client) SkipVerify() bool {
	return c.httpClient.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify
}

func (c *Client) doRequest(ctx context.Context, method, path string, queryParams map[string]string, body any, contentType string, raw []byte) (json.RawMessage, error) {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(queryParams) > 0 {
		q := reqURL.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var bodyBytes []byte
	if raw != nil {
		bodyBytes = raw
	} else if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.logger.Error("Failed to marshal request body", "path", path, "method", method, "error", err)
			return nil, fmt.Errorf("failed to marshal request body for %s %s: %w", method, path, err)
		}
		bodyBytes = data
		contentType = "application/json"
	}

	// Redirects are followed by hand so every hop re-sends the original
	// method, body, and Authorization header.
	var resp *http.Response
	for redirects := 0; ; redirects++ {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
		if err != nil {
			c.logger.Error("Failed to create new HTTP request", "method", method, "url", reqURL.String(), "error", err)
			return nil, fmt.Errorf("failed to create request %s %s: %w", method, reqURL.String(), err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Authorization", c.apiKey)

		c.logger.Debug("Sending request", "method", method, "url", reqURL.String(), "attempt", redirects+1)

		resp, err = c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("HTTP request failed", "method", method, "url", reqURL.String(), "error", err)
			return nil, &UnavailableError{Err: err}
		}

		if !isRedirect(resp.StatusCode) {
			break
		}

		loc := resp.Header.Get("Location")
		resp.Body.Close()
		if loc == "" {
			c.logger.Error("Redirect response missing Location header", "status_code", resp.StatusCode, "url", reqURL.String())
			return nil, fmt.Errorf("redirect (status %d) missing Location header from %s", resp.StatusCode, reqURL.String())
		}
		redirectURL, err := reqURL.Parse(loc)
		if err != nil {
			c.logger.Error("Failed to parse redirect Location header", "location", loc, "error", err)
			return nil, fmt.Errorf("failed to parse redirect Location '%s': %w", loc, err)
		}
		if redirects >= maxRedirects {
			return nil, fmt.Errorf("stopped after %d redirects for %s %s", maxRedirects, method, path)
		}
		c.logger.Info("Request redirected", "from_url", reqURL.String(), "to_url", redirectURL.String(), "status_code", resp.StatusCode)
		reqURL = redirectURL
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		c.logger.Warn("Backend returned server error", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode)
		return nil, &UnavailableError{Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Warn("Received non-2xx status code", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode)

		var errorResp ErrorResponse
		if jsonErr := json.Unmarshal(respBody, &errorResp); jsonErr == nil && errorResp.Message != "" {
			return nil, fmt.Errorf("server error (status %d): %s - %s", resp.StatusCode, errorResp.ErrorType, errorResp.Message)
		}
		return nil, fmt.Errorf("server returned status %d for %s %s", resp.StatusCode, method, reqURL.String())
	}

	c.logger.Debug("Request successful", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode)
	return respBody, nil
}

func (c *Client) Select(ctx context.Context, table string, match models.Row) (json.RawMessage, error) {
	if table == "" {
		return nil, fmt.Errorf("table cannot be empty")
	}
	payload := map[string]any{"match": match}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("api/v1/tables/%s/select", table), nil, payload, "", nil)
}

func (c *Client) Insert(ctx context.Context, table string, payload models.Row) (json.RawMessage, error) {
	if table == "" {
		return nil, fmt.Errorf("table cannot be empty")
	}
	body := map[string]any{"payload": payload}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("api/v1/tables/%s/insert", table), nil, body, "", nil)
}

func (c *Client) Update(ctx context.Context, table string, payload, match models.Row) (json.RawMessage, error) {
	if table == "" {
		return nil, fmt.Errorf("table cannot be empty")
	}
	body := map[string]any{"payload": payload, "match": match}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("api/v1/tables/%s/update", table), nil, body, "", nil)
}

func (c *Client) Delete(ctx context.Context, table string, match models.Row) (json.RawMessage, error) {
	if table == "" {
		return nil, fmt.Errorf("table cannot be empty")
	}
	body := map[string]any{"match": match}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("api/v1/tables/%s/delete", table), nil, body, "", nil)
}

func (c *Client) RPC(ctx context.Context, name string, args models.Row) (json.RawMessage, error) {
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	body := map[string]any{"args": args}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("api/v1/rpc/%s", name), nil, body, "", nil)
}

func (c *Client) InvokeFunction(ctx context.Context, name string, body models.Row) (json.RawMessage, error) {
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	payload := map[string]any{"body": body}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("api/v1/functions/%s/invoke", name), nil, payload, "", nil)
}

func (c *Client) UploadFile(ctx context.Context, bucket, path string, data []byte, opts models.UploadOptions) (json.RawMessage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var params map[string]string
	if opts.Upsert {
		params = map[string]string{"upsert": "true"}
	}
	return c.doRequest(ctx, http.MethodPut, fmt.Sprintf("api/v1/storage/%s/%s", bucket, path), params, nil, contentType, data)
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "api/v1/ping", nil, nil, "", nil)
	return err
}
