package spark

import (
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Roles and content types accepted in a request frame.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	ContentText  = "text"
	ContentImage = "image"
)

// statusFinal marks the last frame of a generation.
const statusFinal = 2

// Message is one entry of payload.message.text.
type Message struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

type requestFrame struct {
	Header    frameHeader    `json:"header"`
	Parameter frameParameter `json:"parameter"`
	Payload   framePayload   `json:"payload"`
}

type frameHeader struct {
	AppID   string   `json:"app_id"`
	UID     string   `json:"uid"`
	PatchID []string `json:"patch_id,omitempty"`
}

type frameParameter struct {
	Chat chatParameter `json:"chat"`
}

type chatParameter struct {
	Domain      string  `json:"domain"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
	Steps       int     `json:"num_inference_steps,omitempty"`
	Guidance    float64 `json:"guidance_scale,omitempty"`
}

type framePayload struct {
	Message frameMessage `json:"message"`
}

type frameMessage struct {
	Text []Message `json:"text"`
}

type responseFrame struct {
	Header struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  int    `json:"status"`
		SID     string `json:"sid"`
	} `json:"header"`
	Payload struct {
		Choices struct {
			Status int `json:"status"`
			Text   []struct {
				Content string `json:"content"`
				Role    string `json:"role"`
			} `json:"text"`
		} `json:"choices"`
	} `json:"payload"`
}

func newRequestFrame(appID string, chat chatParameter, messages []Message) requestFrame {
	return requestFrame{
		Header:    frameHeader{AppID: appID, UID: uuid.NewString()},
		Parameter: frameParameter{Chat: chat},
		Payload:   framePayload{Message: frameMessage{Text: messages}},
	}
}

func encodeFrame(f requestFrame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (*responseFrame, error) {
	var f responseFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
