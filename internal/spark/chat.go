package spark

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

const (
	DefaultChatURL   = "wss://maas-api.cn-huabei-1.xf-yun.com/v1.1/chat"
	DefaultVisionURL = DefaultChatURL

	DefaultDomain      = "xdeepseekv3"
	DefaultTemperature = 0.5
	DefaultMaxTokens   = 4096

	defaultOCRInstruction = "Transcribe every piece of text visible in this image exactly as written, line by line. Output only the text."
)

// StreamRequest describes one streaming generation.
type StreamRequest struct {
	Credential models.ModelCredential
	// Endpoint overrides the client's chat endpoint.
	Endpoint    string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// OnDelta receives each text delta in arrival order. Returning an error ends the session.
	OnDelta func(delta string) error
}

// Client opens vendor sessions. It holds no per-call state and is safe for concurrent use.
type Client struct {
	dialer    *websocket.Dialer
	signer    *Signer
	logger    *zap.Logger
	chatURL   string
	visionURL string
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithSigner(s *Signer) Option {
	return func(c *Client) {
		if s != nil {
			c.signer = s
		}
	}
}

// WithEndpoints overrides the chat and vision websocket URLs. Empty values keep the defaults.
func WithEndpoints(chatURL, visionURL string) Option {
	return func(c *Client) {
		if chatURL != "" {
			c.chatURL = chatURL
		}
		if visionURL != "" {
			c.visionURL = visionURL
		}
	}
}

// NewClient builds a Client with the vendor defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		signer:    NewSigner(),
		logger:    zap.NewNop(),
		chatURL:   DefaultChatURL,
		visionURL: DefaultVisionURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func checkCredential(op string, cred models.ModelCredential) error {
	if !cred.Complete() {
		return apperr.Configuration(op, "app id, api key and api secret are required")
	}
	return nil
}

// Start signs the endpoint and launches the session. Dialing happens in the background,
// so Start never blocks on the network. Cancelling ctx cancels the session.
func (c *Client) Start(ctx context.Context, req StreamRequest) (*Session, error) {
	const op = "spark.stream"
	if err := checkCredential(op, req.Credential); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%s: at least one message is required", op)
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = c.chatURL
	}
	signed, err := c.signer.Sign(req.Credential, endpoint, http.MethodGet)
	if err != nil {
		return nil, err
	}

	domain := req.Credential.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	frame := newRequestFrame(req.Credential.AppID, chatParameter{
		Domain:      domain,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, req.Messages)
	payload, err := encodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("%s: encode frame: %w", op, err)
	}

	sess := newSession(op, c.logger.With(zap.String("uid", frame.Header.UID)), req.OnDelta)
	go sess.run(ctx, c.dialer, signed.URL.String(), payload)
	return sess, nil
}

// StartChat streams the reply to a single user prompt.
func (c *Client) StartChat(ctx context.Context, cred models.ModelCredential, prompt string, onDelta func(string) error) (*Session, error) {
	return c.Start(ctx, StreamRequest{
		Credential: cred,
		Messages:   []Message{{Role: RoleUser, Content: prompt}},
		OnDelta:    onDelta,
	})
}

// Recognize sends image to the vision endpoint and returns the joined transcription.
func (c *Client) Recognize(ctx context.Context, cred models.ModelCredential, image []byte, mimeType, instruction string) (string, error) {
	if err := checkCredential("spark.recognize", cred); err != nil {
		return "", err
	}
	if len(image) == 0 {
		return "", apperr.Data("spark.recognize", "image is empty", nil)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultOCRInstruction
	}
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	sess, err := c.Start(ctx, StreamRequest{
		Credential: cred,
		Endpoint:   c.visionURL,
		Messages: []Message{
			{Role: RoleUser, Content: dataURI, ContentType: ContentImage},
			{Role: RoleUser, Content: instruction, ContentType: ContentText},
		},
	})
	if err != nil {
		return "", err
	}
	return sess.Wait()
}
