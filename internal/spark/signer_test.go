package spark

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

var (
	vectorCred = models.ModelCredential{AppID: "app", APIKey: "testkey", APISecret: "testsecret"}
	vectorTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
)

const vectorAuthorization = "YXBpX2tleT0idGVzdGtleSIsIGFsZ29yaXRobT0iaG1hYy1zaGEyNTYiLCBoZWFkZXJzPSJob3N0IGRhdGUgcmVxdWVzdC1saW5lIiwgc2lnbmF0dXJlPSJIRkRna0VkRk11M096bE1kS2VDTWtEczZPaGZKZjY0WDRDQURBZ0JicFNBPSI="

func TestSignFixedVector(t *testing.T) {
	signed, err := Sign(vectorCred, DefaultChatURL, "get", vectorTime)
	require.NoError(t, err)

	assert.Equal(t, "GET", signed.Method)
	assert.Equal(t, "wss", signed.URL.Scheme)
	assert.Equal(t, "/v1.1/chat", signed.URL.Path)

	q := signed.URL.Query()
	assert.Equal(t, vectorAuthorization, q.Get("authorization"))
	assert.Equal(t, "Thu, 02 Jan 2025 03:04:05 GMT", q.Get("date"))
	assert.Equal(t, "maas-api.cn-huabei-1.xf-yun.com", q.Get("host"))

	assert.Contains(t, signed.URL.RawQuery, "date=Thu%2C%2002%20Jan%202025%2003%3A04%3A05%20GMT")
	assert.NotContains(t, signed.URL.RawQuery, "+")
	assert.Equal(t, "Thu, 02 Jan 2025 03:04:05 GMT", signed.Header.Get("Date"))
}

func TestSignDeterministicAndFresh(t *testing.T) {
	a, err := Sign(vectorCred, DefaultChatURL, "GET", vectorTime)
	require.NoError(t, err)
	b, err := Sign(vectorCred, DefaultChatURL, "GET", vectorTime)
	require.NoError(t, err)
	assert.Equal(t, a.URL.String(), b.URL.String())

	c, err := Sign(vectorCred, DefaultChatURL, "GET", vectorTime.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, a.URL.Query().Get("authorization"), c.URL.Query().Get("authorization"))
}

func TestSignMethodAndPathAreSigned(t *testing.T) {
	get, err := Sign(vectorCred, DefaultImageURL, "GET", vectorTime)
	require.NoError(t, err)
	post, err := Sign(vectorCred, DefaultImageURL, "POST", vectorTime)
	require.NoError(t, err)
	assert.NotEqual(t, get.URL.Query().Get("authorization"), post.URL.Query().Get("authorization"))
}

func TestSignKeepsExistingQuery(t *testing.T) {
	signed, err := Sign(vectorCred, "https://example.com/v1/x?trace=a%20b", "POST", vectorTime)
	require.NoError(t, err)
	assert.Equal(t, "a b", signed.URL.Query().Get("trace"))
	assert.True(t, strings.Contains(signed.URL.RawQuery, "trace=a%20b"))
}

func TestSignConfigurationErrors(t *testing.T) {
	_, err := Sign(models.ModelCredential{APIKey: "k"}, DefaultChatURL, "GET", vectorTime)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	assert.False(t, apperr.Retryable(err))

	_, err = Sign(vectorCred, "::not a url", "GET", vectorTime)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))

	_, err = Sign(vectorCred, "/relative/only", "GET", vectorTime)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestSignerUsesClock(t *testing.T) {
	s := &Signer{Now: func() time.Time { return vectorTime }}
	signed, err := s.Sign(vectorCred, DefaultChatURL, "GET")
	require.NoError(t, err)
	assert.Equal(t, vectorAuthorization, signed.URL.Query().Get("authorization"))

	parsed, err := url.Parse(signed.URL.String())
	require.NoError(t, err)
	assert.Equal(t, signed.URL.RawQuery, parsed.RawQuery)
}
