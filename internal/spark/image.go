package spark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

const (
	DefaultImageURL    = "https://maas-api.cn-huabei-1.xf-yun.com/v2.4/tti"
	DefaultImageDomain = "xopzimageturbo"

	imageSize     = 1024
	imageSteps    = 20
	imageGuidance = 5.0
	maxErrorBody  = 4 << 10
)

// ImageClient generates images through the relay. The vendor refuses direct
// browser-origin calls, so the signed vendor URL is re-targeted at the relay.
type ImageClient struct {
	http     *http.Client
	signer   *Signer
	logger   *zap.Logger
	endpoint string
}

// NewImageClient builds an ImageClient. A nil httpClient gets a 60s timeout client.
func NewImageClient(httpClient *http.Client, endpoint string, logger *zap.Logger) *ImageClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if endpoint == "" {
		endpoint = DefaultImageURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageClient{http: httpClient, signer: NewSigner(), logger: logger, endpoint: endpoint}
}

// Generate returns the generated image as a data:image/png;base64 URI.
func (c *ImageClient) Generate(ctx context.Context, prompt string, cred models.ModelCredential, relayBaseURL string) (string, error) {
	const op = "spark.image"
	if strings.TrimSpace(relayBaseURL) == "" {
		return "", apperr.Configuration(op, "relay url is required for image generation")
	}
	relay, err := url.Parse(relayBaseURL)
	if err != nil || relay.Host == "" {
		return "", apperr.Configuration(op, fmt.Sprintf("invalid relay url %q", relayBaseURL))
	}
	if err := checkCredential(op, cred); err != nil {
		return "", err
	}

	signed, err := c.signer.Sign(cred, c.endpoint, http.MethodPost)
	if err != nil {
		return "", err
	}
	target := *signed.URL
	target.Scheme = relay.Scheme
	target.Host = relay.Host

	domain := cred.Domain
	if domain == "" {
		domain = DefaultImageDomain
	}
	frame := newRequestFrame(cred.AppID, chatParameter{
		Domain:   domain,
		Width:    imageSize,
		Height:   imageSize,
		Seed:     rand.Int64N(1 << 31),
		Steps:    imageSteps,
		Guidance: imageGuidance,
	}, []Message{{Role: RoleUser, Content: prompt}})
	frame.Header.PatchID = []string{"0"}
	body, err := encodeFrame(frame)
	if err != nil {
		return "", fmt.Errorf("%s: encode body: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return "", apperr.Configuration(op, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Transport(op, "image request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Transport(op, "read image response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := raw
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", &apperr.Error{
			Kind:    apperr.KindTransport,
			Op:      op,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	frameResp, err := decodeFrame(raw)
	if err != nil {
		return "", apperr.Parse(op, "invalid image response", err)
	}
	if frameResp.Header.Code != 0 {
		c.logger.Warn("image vendor error", zap.Int("code", frameResp.Header.Code), zap.String("sid", frameResp.Header.SID))
		return "", apperr.Vendor(op, frameResp.Header.Code, frameResp.Header.Message)
	}
	texts := frameResp.Payload.Choices.Text
	if len(texts) == 0 || texts[0].Content == "" {
		return "", apperr.Data(op, "empty image data", nil)
	}
	return "data:image/png;base64," + texts[0].Content, nil
}
