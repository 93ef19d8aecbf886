package comfyapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/xjson"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Endpoint locates the backend.
type Endpoint struct {
	Host string
	Port int
	TLS  bool
}

// Options tunes the HTTP side of the client.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests. Zero or less disables pacing.
	RequestsPerSecond float64
	// HTTPClient replaces the pooled client, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to one backend.
type Client struct {
	endpoint Endpoint
	base     *url.URL
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient builds a client with a pooled transport.
func NewClient(ep Endpoint, opts Options) (*Client, error) {
	if ep.Host == "" {
		return nil, fmt.Errorf("backend host is required")
	}
	if ep.Port <= 0 || ep.Port > 65535 {
		return nil, fmt.Errorf("backend port %d out of range", ep.Port)
	}
	scheme := "http"
	if ep.TLS {
		scheme = "https"
	}
	base := &url.URL{Scheme: scheme, Host: net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{endpoint: ep, base: base, http: hc, limiter: limiter}, nil
}

// NewClientForURL builds a client from a base URL such as the one returned
// by httptest.Server.
func NewClientForURL(raw string, opts Options) (*Client, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, fmt.Errorf("base url %q: %w", raw, err)
	}
	return NewClient(Endpoint{Host: u.Hostname(), Port: port, TLS: u.Scheme == "https"}, opts)
}

// Endpoint returns the backend location.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Close drops idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.base
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, contentType string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, nil), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Calling backend.", "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response body: %w", method, path, err)
	}
	if err := xjson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

// QueuePrompt posts a graph for execution.
func (c *Client) QueuePrompt(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	body, err := xjson.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt: %w", err)
	}
	var resp PromptResponse
	if err := c.do(ctx, http.MethodPost, "/prompt", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if resp.PromptID == "" {
		return nil, ErrEmptyPromptID
	}
	return &resp, nil
}

// History fetches the history of one prompt. The result is empty while the
// prompt has not finished.
func (c *Client) History(ctx context.Context, promptID string) (History, error) {
	h := History{}
	if err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), "", nil, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// SystemStats fetches backend and device information.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.do(ctx, http.MethodGet, "/system_stats", "", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// UploadImage sends an image to the backend's input folder, overwriting a
// file of the same name.
func (c *Client) UploadImage(ctx context.Context, name string, r io.Reader) (*UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", name, err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var resp UploadResponse
	if err := c.do(ctx, http.MethodPost, "/upload/image", mw.FormDataContentType(), &buf, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ViewURL is where an output image can be fetched.
func (c *Client) ViewURL(filename string) string {
	return c.url("/view", url.Values{"filename": {filename}, "type": {"output"}})
}

// WebSocketURL is the event feed address for a correlation id.
func (c *Client) WebSocketURL(clientID string) string {
	return WebSocketURL(c.endpoint, clientID)
}

// WebSocketURL is the event feed address of ep for a correlation id.
func WebSocketURL(ep Endpoint, clientID string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)),
		Path:     "/ws",
		RawQuery: url.Values{"clientId": {clientID}}.Encode(),
	}
	if ep.TLS {
		u.Scheme = "wss"
	}
	return u.String()
}
