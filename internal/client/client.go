// Package client talks to a running release registry over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/release-registry/internal/service/releases"
)

const userAgent = "releases-cli/1.0"

// APIError is a non-2xx answer from the registry.
type APIError struct {
	StatusCode int
	Code       string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("registry returned %d", e.StatusCode)
	}
	if e.RequestID == "" {
		return fmt.Sprintf("registry returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("registry returned %d: %s (request %s)", e.StatusCode, e.Code, e.RequestID)
}

func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type Client struct {
	http       *http.Client
	baseURL    string
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// New builds a client. With a token URL configured, every request carries
// a client-credentials access token.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if strings.TrimSpace(cfg.TokenURL) != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(ctx)
		httpClient.Timeout = cfg.Timeout
	}
	return NewWithHTTPClient(httpClient, cfg.BaseURL, cfg.MaxRetries), nil
}

func NewWithHTTPClient(httpClient *http.Client, baseURL string, maxRetries int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: maxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * 500 * time.Millisecond
		},
	}
}

// Push sends a release event for program.
func (c *Client) Push(ctx context.Context, program string, event io.Reader) (releases.ReleaseView, error) {
	body, err := io.ReadAll(event)
	if err != nil {
		return releases.ReleaseView{}, fmt.Errorf("read event: %w", err)
	}
	var out releases.ReleaseView
	err = c.do(ctx, http.MethodPost, "/programs/"+url.PathEscape(program)+"/releases", body, http.StatusCreated, &out)
	return out, err
}

func (c *Client) Check(ctx context.Context, program, version string) (releases.VersionCheck, error) {
	var out releases.VersionCheck
	err := c.do(ctx, http.MethodGet, "/programs/"+url.PathEscape(program)+"/versions/"+url.PathEscape(version), nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Changelog(ctx context.Context, program string) ([]releases.ChangelogEntry, error) {
	out := []releases.ChangelogEntry{}
	err := c.do(ctx, http.MethodGet, "/programs/"+url.PathEscape(program)+"/changelog", nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Promote(ctx context.Context, program, version string) (releases.ReleaseView, error) {
	var out releases.ReleaseView
	err := c.do(ctx, http.MethodPost, "/programs/"+url.PathEscape(program)+"/releases/"+url.PathEscape(version)+"/promote", nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, wantStatus int, out any) error {
	resp, err := c.doWithRetry(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doWithRetry retries GETs on transport errors, 429 and 5xx answers. Other
// methods are not idempotent: the server may have applied the request before
// the answer got lost, so they are only retried when the server refused them
// (429) or the connection was never made. The request is rebuilt for every
// attempt so the body can be replayed.
func (c *Client) doWithRetry(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil || !retryableError(method, err) {
				return nil, err
			}
			lastErr = err
		} else {
			if !retryableStatus(method, resp.StatusCode) {
				return resp, nil
			}
			lastErr = decodeAPIError(resp)
			resp.Body.Close()
		}

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func retryableStatus(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return method == http.MethodGet && status >= 500
}

func retryableError(method string, err error) bool {
	if method == http.MethodGet {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
	var envelope struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &envelope); err == nil {
		apiErr.Code = envelope.Error
		if envelope.RequestID != "" {
			apiErr.RequestID = envelope.RequestID
		}
	}
	return apiErr
}
