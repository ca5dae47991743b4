// Package syncclient calls the gateway's auth and sync endpoints with a bounded timeout and
// folds transport failures into classified errors. It never retries.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 15 * time.Second

const (
	msgTimedOut    = "request timed out"
	msgUnreachable = "cannot reach server"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient sends requests through a copy of c. The caller's client is never modified.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout bounds every request, overriding the timeout of any supplied client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// New builds a client for baseURL. An empty base URL is reported on first use.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.http
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.http = &hc
	return c
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "sync.register", http.MethodPost, "/api/auth/register", "", body)
	return err
}

// Login returns the session token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	data, err := c.do(ctx, "sync.login", http.MethodPost, "/api/auth/login", "", body)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Token == "" {
		return "", apperr.Data("sync.login", "login response carries no token", err)
	}
	return out.Token, nil
}

// Push overwrites the server copy with blob.
func (c *Client) Push(ctx context.Context, token string, blob json.RawMessage) error {
	if !json.Valid(blob) {
		return apperr.Data("sync.push", "payload is not valid JSON", nil)
	}
	_, err := c.do(ctx, "sync.push", http.MethodPost, "/api/sync/push", token, blob)
	return err
}

// Pull returns the server copy verbatim, or nil when nothing was pushed yet.
func (c *Client) Pull(ctx context.Context, token string) (json.RawMessage, error) {
	data, err := c.do(ctx, "sync.pull", http.MethodGet, "/api/sync/pull", token, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func (c *Client) PushAppData(ctx context.Context, token string, data *models.AppData) error {
	if data == nil {
		return apperr.Data("sync.push", "no data to push", nil)
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return apperr.Data("sync.push", "encode app data", err)
	}
	return c.Push(ctx, token, blob)
}

// PullAppData decodes the server copy. It returns nil when nothing was pushed yet.
func (c *Client) PullAppData(ctx context.Context, token string) (*models.AppData, error) {
	blob, err := c.Pull(ctx, token)
	if err != nil || blob == nil {
		return nil, err
	}
	return DecodeAppData("sync.pull", blob)
}

// DecodeAppData validates the blob shape: an object whose subscriptions field is an array.
func DecodeAppData(op string, blob []byte) (*models.AppData, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(blob, &probe); err != nil {
		return nil, apperr.Data(op, "backup is not a JSON object", err)
	}
	subs, ok := probe["subscriptions"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(subs), []byte("[")) {
		return nil, apperr.Data(op, "backup has no subscriptions list", nil)
	}
	var data models.AppData
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, apperr.Data(op, "backup has unexpected field types", err)
	}
	return &data, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body []byte) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, apperr.Configuration(op, "sync base url is not configured")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperr.Configuration(op, fmt.Sprintf("invalid sync base url: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &apperr.Error{
			Kind:    apperr.KindTransport,
			Op:      op,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("unexpected response (http %d)", resp.StatusCode),
			Err:     err,
		}
	}
	if resp.StatusCode >= 300 || !env.Success {
		return nil, classifyStatus(op, resp.StatusCode, env.Error)
	}
	return env.Data, nil
}

func classifyTransport(op string, err error) error {
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		return apperr.Transport(op, msgTimedOut, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Transport(op, "request cancelled", err)
	}
	return apperr.Transport(op, msgUnreachable, err)
}

func classifyStatus(op string, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict, http.StatusForbidden:
		return apperr.Auth(op, status, msg, nil)
	case http.StatusBadRequest:
		return &apperr.Error{Kind: apperr.KindData, Op: op, Code: status, Message: msg}
	default:
		return &apperr.Error{Kind: apperr.KindTransport, Op: op, Code: status, Message: msg}
	}
}
