// Package spark talks to the iFlytek MaaS inference vendor: request signing, streaming
// chat and vision sessions over websocket, and one-shot image synthesis.
package spark

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

const signAlgorithm = "hmac-sha256"

// SignedRequest is a single-use request target carrying its signature in the query.
type SignedRequest struct {
	Method string
	URL    *url.URL
	// Header carries the signed Date and Host values for transports that can send headers.
	Header http.Header
}

// Signer binds Sign to a clock.
type Signer struct {
	Now func() time.Time
}

// NewSigner returns a Signer reading the wall clock.
func NewSigner() *Signer {
	return &Signer{Now: time.Now}
}

// Sign signs endpoint for method at the current time.
func (s *Signer) Sign(cred models.ModelCredential, endpoint, method string) (*SignedRequest, error) {
	now := time.Now
	if s != nil && s.Now != nil {
		now = s.Now
	}
	return Sign(cred, endpoint, method, now())
}

// Sign builds the vendor's HMAC-SHA256 signature over host, date and request line and
// appends authorization, date and host as query parameters. It is a pure function of its
// inputs.
func Sign(cred models.ModelCredential, endpoint, method string, now time.Time) (*SignedRequest, error) {
	if cred.APIKey == "" || cred.APISecret == "" {
		return nil, apperr.Configuration("spark.sign", "api key and api secret are required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, apperr.Configuration("spark.sign", fmt.Sprintf("invalid endpoint %q", endpoint))
	}
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	date := now.UTC().Format(http.TimeFormat)
	canonical := fmt.Sprintf("host: %s\ndate: %s\n%s %s HTTP/1.1", u.Host, date, method, path)

	mac := hmac.New(sha256.New, []byte(cred.APISecret))
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	origin := fmt.Sprintf(`api_key="%s", algorithm="%s", headers="host date request-line", signature="%s"`,
		cred.APIKey, signAlgorithm, signature)
	authorization := base64.StdEncoding.EncodeToString([]byte(origin))

	q := u.Query()
	q.Set("authorization", authorization)
	q.Set("date", date)
	q.Set("host", u.Host)

	signed := *u
	// The vendor rejects "+" for spaces.
	signed.RawQuery = strings.ReplaceAll(q.Encode(), "+", "%20")

	header := make(http.Header)
	header.Set("Date", date)
	header.Set("Host", u.Host)
	return &SignedRequest{Method: method, URL: &signed, Header: header}, nil
}
