// Package unifi is a small client for the UniFi Access developer API:
// listing doors, resolving a door by name and issuing remote unlocks.
package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the Access developer API port.
const DefaultPort = 12445

// DefaultTimeout bounds each API call when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

const maxResponseBytes = 1 << 20

// Options configures a Client.
type Options struct {
	Host  string
	Port  int
	Token string
	// Timeout bounds each call, connection through body read.
	Timeout time.Duration
	// InsecureTLS disables certificate chain and hostname verification.
	InsecureTLS bool
	Logger      *slog.Logger
}

// Door is an access point as reported by the controller.
type Door struct {
	ID       string
	Name     string
	FullName string
}

// UnlockOptions carries the optional audit fields of an unlock. ActorID
// and ActorName are all-or-nothing. Extra is passed through verbatim.
type UnlockOptions struct {
	ActorID   string
	ActorName string
	Extra     map[string]any
}

// Client talks to one Access controller over HTTPS.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// NewClient creates a client for https://host:port.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	logger = logger.With("subsystem", "unifi")

	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		logger.Warn("TLS certificate verification is DISABLED for the Access controller",
			"host", opts.Host,
			"port", port,
		)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		baseURL:    "https://" + net.JoinHostPort(opts.Host, strconv.Itoa(port)),
		token:      opts.Token,
		logger:     logger,
	}
}

// ListDoorsRaw returns the decoded door listing exactly as the controller
// sent it.
func (c *Client) ListDoorsRaw(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/developer/doors", nil)
}

// ListDoors returns the doors known to the controller, in controller
// order. Entries that are not JSON objects are skipped.
func (c *Client) ListDoors(ctx context.Context) ([]Door, error) {
	resp, err := c.ListDoorsRaw(ctx)
	if err != nil {
		return nil, err
	}
	return doorsFromResponse(resp)
}

// FindDoorID lists the doors and resolves name against them.
func (c *Client) FindDoorID(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrDoorNameRequired
	}
	doors, err := c.ListDoors(ctx)
	if err != nil {
		return "", err
	}
	return ResolveDoorID(name, doors)
}

// Unlock asks the controller to remotely unlock doorID. An empty 2xx body
// yields an empty map.
func (c *Client) Unlock(ctx context.Context, doorID string, opts UnlockOptions) (map[string]any, error) {
	if strings.TrimSpace(doorID) == "" {
		return nil, ErrDoorIDRequired
	}
	if (opts.ActorID == "") != (opts.ActorName == "") {
		return nil, ErrActorPair
	}

	payload := map[string]any{}
	if opts.ActorID != "" {
		payload["actor_id"] = opts.ActorID
		payload["actor_name"] = opts.ActorName
	}
	if opts.Extra != nil {
		payload["extra"] = opts.Extra
	}

	resp, err := c.do(ctx, http.MethodPut, "/api/v1/developer/doors/"+url.PathEscape(doorID)+"/unlock", payload)
	if err != nil {
		return nil, err
	}

	c.logger.Info("door unlock accepted", "door_id", doorID, "actor_id", opts.ActorID)
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("unifi: marshalling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("unifi: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}

	c.logger.Debug("access api call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, string(raw), http.StatusText(resp.StatusCode))
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, invalidJSONError(err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// transportError classifies a failed round trip. Timeouts, whether from the
// client deadline or the caller's context, are reported as such.
func transportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(err)
	}

	reason := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		reason = urlErr.Err.Error()
	}
	return networkError(reason, err)
}

func doorsFromResponse(resp map[string]any) ([]Door, error) {
	items, ok := resp["data"].([]any)
	if !ok {
		return nil, responseError("Access API response missing doors data list")
	}

	doors := make([]Door, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := obj["id"].(string)
		doors = append(doors, Door{
			ID:       id,
			Name:     textField(obj["name"]),
			FullName: textField(obj["full_name"]),
		})
	}
	return doors, nil
}

func textField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}
