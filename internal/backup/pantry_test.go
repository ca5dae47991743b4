package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestClient(fn roundTripperFunc) *PantryClient {
	return NewPantryClient(
		WithHTTPClient(&http.Client{Transport: fn, Timeout: time.Second}),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestUploadAndDownload(t *testing.T) {
	var stored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pantry-123/basket/"+BasketName {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodPost:
			stored, _ = io.ReadAll(r.Body)
			_, _ = io.WriteString(w, "Your Pantry was updated with basket: subscript_backup!")
		case http.MethodGet:
			if stored == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(stored)
		}
	}))
	defer srv.Close()

	c := NewPantryClient(WithBaseURL(srv.URL+"/"), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	_, err := c.Download(ctx, "pantry-123")
	assert.True(t, apperr.IsKind(err, apperr.KindData))
	assert.Equal(t, "pantry id invalid or backup missing", apperr.Message(err))

	in := &models.AppData{
		Subscriptions: []models.Subscription{{ID: "s1", Name: "Spotify", Price: 15, Currency: "CNY", Cycle: "monthly"}},
		Budget:        json.RawMessage(`{"monthly":3000}`),
		RestDays:      []string{"2025-03-01"},
	}
	require.NoError(t, c.Upload(ctx, "pantry-123", in))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(stored, &doc))
	assert.Equal(t, "2025-03-04T05:06:07.000Z", doc["lastUpdated"])

	out, err := c.Download(ctx, "pantry-123")
	require.NoError(t, err)
	assert.Equal(t, in.Subscriptions, out.Subscriptions)
	assert.JSONEq(t, `{"monthly":3000}`, string(out.Budget))

	data := out.AppData()
	assert.Equal(t, fixedNow.UnixMilli(), data.LastUpdated)
	assert.Equal(t, in.RestDays, data.RestDays)
}

func TestDownloadCacheBuster(t *testing.T) {
	var gotQuery string
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotQuery = r.URL.RawQuery
		return response(http.StatusOK, `{"subscriptions":[]}`), nil
	})
	_, err := c.Download(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "t=1741064767000", gotQuery)
}

func TestEmptyPantryID(t *testing.T) {
	c := newTestClient(func(*http.Request) (*http.Response, error) {
		t.Fatal("request must not be sent")
		return nil, nil
	})
	err := c.Upload(context.Background(), " ", &models.AppData{})
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	_, err = c.Download(context.Background(), "")
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestDownloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    apperr.Kind
		wantErr bool
	}{
		{name: "budget only", status: http.StatusOK, body: `{"budget":{"monthly":100}}`},
		{name: "neither", status: http.StatusOK, body: `{"restDays":[]}`, kind: apperr.KindData, wantErr: true},
		{name: "null fields", status: http.StatusOK, body: `{"subscriptions":null,"budget":null}`, kind: apperr.KindData, wantErr: true},
		{name: "not json", status: http.StatusOK, body: `oops`, kind: apperr.KindData, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: ``, kind: apperr.KindTransport, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(func(*http.Request) (*http.Response, error) {
				return response(tt.status, tt.body), nil
			})
			_, err := c.Download(context.Background(), "p")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestUploadUnreachable(t *testing.T) {
	c := newTestClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("no route to host")
	})
	err := c.Upload(context.Background(), "p", &models.AppData{})
	assert.True(t, apperr.IsKind(err, apperr.KindTransport))
	assert.Equal(t, "cannot reach pantry", apperr.Message(err))
}
