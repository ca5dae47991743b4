// Package backup uploads and restores the app data to a Pantry basket, an alternative to the
// account-based sync backend that needs nothing but a pantry id.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

const (
	DefaultBaseURL = "https://getpantry.cloud/apiv1/pantry"
	BasketName     = "subscript_backup"
	defaultTimeout = 15 * time.Second
)

// Backup is the basket document. LastUpdated is an ISO-8601 timestamp.
type Backup struct {
	Subscriptions []models.Subscription `json:"subscriptions"`
	Budget        json.RawMessage       `json:"budget,omitempty"`
	RestDays      []string              `json:"restDays,omitempty"`
	AIConfig      json.RawMessage       `json:"aiConfig,omitempty"`
	LastUpdated   string                `json:"lastUpdated"`
}

// AppData converts the backup into the sync payload shape.
func (b *Backup) AppData() *models.AppData {
	data := &models.AppData{
		Subscriptions: b.Subscriptions,
		Budget:        b.Budget,
		RestDays:      b.RestDays,
		AIConfig:      b.AIConfig,
	}
	if ts, err := time.Parse(time.RFC3339Nano, b.LastUpdated); err == nil {
		data.LastUpdated = ts.UnixMilli()
	}
	return data
}

type PantryClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

type Option func(*PantryClient)

func WithBaseURL(u string) Option {
	return func(c *PantryClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *PantryClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *PantryClient) { c.now = now }
}

func NewPantryClient(opts ...Option) *PantryClient {
	c := &PantryClient{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload replaces the basket with data, stamped with the current time.
func (c *PantryClient) Upload(ctx context.Context, pantryID string, data *models.AppData) error {
	const op = "backup.upload"
	if data == nil {
		return apperr.Data(op, "no data to back up", nil)
	}
	payload := Backup{
		Subscriptions: data.Subscriptions,
		Budget:        data.Budget,
		RestDays:      data.RestDays,
		AIConfig:      data.AIConfig,
		LastUpdated:   c.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if payload.Subscriptions == nil {
		payload.Subscriptions = []models.Subscription{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Data(op, "encode backup", err)
	}

	endpoint, err := c.basketURL(op, pantryID)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, op, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return checkStatus(op, resp)
}

// Download fetches the basket, bypassing intermediate caches.
func (c *PantryClient) Download(ctx context.Context, pantryID string) (*Backup, error) {
	const op = "backup.download"
	endpoint, err := c.basketURL(op, pantryID)
	if err != nil {
		return nil, err
	}
	endpoint += "?t=" + strconv.FormatInt(c.now().UnixMilli(), 10)

	resp, err := c.send(ctx, op, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport(op, "read backup", err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, apperr.Data(op, "backup is not a JSON object", err)
	}
	if !present(probe["subscriptions"]) && !present(probe["budget"]) {
		return nil, apperr.Data(op, "backup has neither subscriptions nor budget", nil)
	}
	var out Backup
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Data(op, "backup has unexpected field types", err)
	}
	return &out, nil
}

func (c *PantryClient) basketURL(op, pantryID string) (string, error) {
	pantryID = strings.TrimSpace(pantryID)
	if pantryID == "" {
		return "", apperr.Configuration(op, "pantry id is required")
	}
	return c.baseURL + "/" + url.PathEscape(pantryID) + "/basket/" + BasketName, nil
}

func (c *PantryClient) send(ctx context.Context, op, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, apperr.Configuration(op, fmt.Sprintf("invalid pantry url: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if ctx.Err() != nil || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			return nil, apperr.Transport(op, "request timed out", err)
		}
		return nil, apperr.Transport(op, "cannot reach pantry", err)
	}
	return resp, nil
}

func checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &apperr.Error{Kind: apperr.KindData, Op: op, Code: resp.StatusCode, Message: "pantry id invalid or backup missing"}
	default:
		return &apperr.Error{Kind: apperr.KindTransport, Op: op, Code: resp.StatusCode, Message: "pantry responded " + resp.Status}
	}
}

func present(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) > 0 && !bytes.Equal(s, []byte("null"))
}
