// Package fmg is a client for the FortiManager JSON-RPC API.
package fmg

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fmgshell/diag"
	"fmgshell/logging"
)

// Client is a FortiManager JSON-RPC client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	tracker    *diag.Tracker
	clientID   string

	mu       sync.Mutex
	session  string
	nextID   int64
	debug    bool
	debugOut io.Writer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.Or(l) }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithInsecure disables TLS certificate verification, which appliances
// with self-signed certificates need.
func WithInsecure(insecure bool) Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		}
	}
}

// WithDebugWriter sets where request/response dumps go when debug is on.
func WithDebugWriter(w io.Writer) Option {
	return func(c *Client) { c.debugOut = w }
}

// WithTracker records every request in t.
func WithTracker(t *diag.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// NewClient creates a client posting to baseURL, e.g. from BaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger:   zap.NewNop(),
		clientID: uuid.NewString(),
		debugOut: io.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("client_id", c.clientID))
	return c
}

// BaseURL returns the JSON-RPC endpoint for an appliance.
func BaseURL(proto, host string, port int) string {
	if proto == "" {
		proto = "https"
	}
	return fmt.Sprintf("%s://%s/jsonrpc", proto, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Session returns the current session token, or "" when logged out.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LoggedIn reports whether the client holds a session.
func (c *Client) LoggedIn() bool {
	return c.Session() != ""
}

// SetDebug switches request/response dumps on or off. "show" is accepted
// and changes nothing.
func (c *Client) SetDebug(flag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch flag {
	case "on":
		c.debug = true
	case "off":
		c.debug = false
	case "show":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDebugFlag, flag)
	}
	return nil
}

// Debug returns "on" or "off".
func (c *Client) Debug() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debug {
		return "on"
	}
	return "off"
}

// Login opens a session with user and password.
func (c *Client) Login(ctx context.Context, user, password string) error {
	resp, err := c.call(ctx, "exec", "/sys/login/user", Attributes{
		"data": map[string]any{
			"user":   user,
			"passwd": password,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}
	if _, err := resp.first(); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}
	if resp.Session == "" {
		return ErrNoSession
	}

	c.mu.Lock()
	c.session = resp.Session
	c.mu.Unlock()
	c.logger.Info("logged in", zap.String("user", user), zap.String("url", c.baseURL))
	return nil
}

// Logout closes the session. The local session is dropped even when the
// appliance reports an error.
func (c *Client) Logout(ctx context.Context) error {
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}
	resp, err := c.call(ctx, "exec", "/sys/logout", nil)

	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	if _, err := resp.first(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	c.logger.Info("logged out", zap.String("url", c.baseURL))
	return nil
}

// Get runs the get method on url and returns the first result's data.
func (c *Client) Get(ctx context.Context, url string, attrs Attributes) (json.RawMessage, error) {
	return c.do(ctx, "get", url, attrs)
}

// Checksum returns the current checksum token of the table at url.
func (c *Client) Checksum(ctx context.Context, url string) (string, error) {
	data, err := c.Get(ctx, url, Attributes{"option": "chksum"})
	if err != nil {
		return "", err
	}
	sum, err := ParseChecksum(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", url, err)
	}
	return sum, nil
}

// Records fetches the table at url.
func (c *Client) Records(ctx context.Context, url string, attrs Attributes) ([]Record, error) {
	data, err := c.Get(ctx, url, attrs)
	if err != nil {
		return nil, err
	}
	recs, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return recs, nil
}

func (c *Client) do(ctx context.Context, method, url string, attrs Attributes) (json.RawMessage, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	resp, err := c.call(ctx, method, url, attrs)
	if err != nil {
		return nil, err
	}
	res, err := resp.first()
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// call posts one request with the current session and the next id.
func (c *Client) call(ctx context.Context, method, url string, attrs Attributes) (resp *Response, err error) {
	h := diag.Track(c.tracker, "rpc", method, url)
	defer func() { h.End(err) }()

	params := map[string]any{"url": url}
	for k, v := range attrs {
		params[k] = v
	}

	c.mu.Lock()
	c.nextID++
	req := Request{
		Method: method,
		Params: []map[string]any{params},
		ID:     c.nextID,
	}
	if c.session != "" {
		s := c.session
		req.Session = &s
	}
	debug := c.debug
	c.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", c.clientID+"-"+strconv.FormatInt(req.ID, 10))

	start := time.Now()
	h.SetPhase("HTTP POST")
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", httpResp.StatusCode, string(respBody))
	}

	h.SetPhase("decode")
	resp = &Response{}
	if err := json.Unmarshal(respBody, resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("jsonrpc",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int64("id", req.ID),
		zap.Duration("elapsed", time.Since(start)))
	if debug {
		c.dump(req, respBody)
	}
	return resp, nil
}

// dump writes an indented copy of a request and its response to the debug
// writer. Passwords are masked.
func (c *Client) dump(req Request, respBody []byte) {
	masked := req
	masked.Params = make([]map[string]any, len(req.Params))
	for i, p := range req.Params {
		cp := make(map[string]any, len(p))
		for k, v := range p {
			cp[k] = v
		}
		if data, ok := cp["data"].(map[string]any); ok {
			if _, ok := data["passwd"]; ok {
				d := make(map[string]any, len(data))
				for k, v := range data {
					d[k] = v
				}
				d["passwd"] = "********"
				cp["data"] = d
			}
		}
		masked.Params[i] = cp
	}

	reqJSON, _ := json.MarshalIndent(masked, "", "    ")
	var respJSON bytes.Buffer
	if err := json.Indent(&respJSON, respBody, "", "    "); err != nil {
		respJSON.Reset()
		respJSON.Write(respBody)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.debugOut, "REQUEST:\n\n%s\n\nRESPONSE:\n\n%s\n\n", reqJSON, respJSON.Bytes())
}
