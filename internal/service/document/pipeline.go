// Package document turns receipt images and free-form notes into structured transactions:
// vision OCR first, then a chat model that emits a five-field JSON object.
package document

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
	"github.com/Jeffrey-done/SubScript/internal/models"
)

// DefaultMinTextLength is the minimum number of non-space runes OCR must return.
const DefaultMinTextLength = 5

// ErrNoLegibleText aborts Analyze before extraction.
var ErrNoLegibleText = errors.New("no legible text found")

// Recognizer transcribes an image. *spark.Client satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, cred models.ModelCredential, image []byte, mimeType, instruction string) (string, error)
}

// Result is the outcome of Analyze. When extraction fails the transaction is zero,
// ExtractErr is set and RawText is kept so the caller can ask the user to correct it.
type Result struct {
	RawText            string
	Transaction        models.ParsedTransaction
	NeedsClarification bool
	ExtractErr         error
}

type Pipeline struct {
	recognizer Recognizer
	visionCred models.ModelCredential
	chatModel  model.BaseChatModel
	logger     *zap.Logger

	MinTextLength int
	Now           func() time.Time
}

func NewPipeline(recognizer Recognizer, visionCred models.ModelCredential, chatModel model.BaseChatModel, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		recognizer:    recognizer,
		visionCred:    visionCred,
		chatModel:     chatModel,
		logger:        logger,
		MinTextLength: DefaultMinTextLength,
		Now:           time.Now,
	}
}

// Analyze runs OCR on image and extracts a transaction from the text. Only OCR failures
// and illegible images are returned as errors.
func (p *Pipeline) Analyze(ctx context.Context, image []byte, mimeType string) (*Result, error) {
	text, err := p.recognizer.Recognize(ctx, p.visionCred, image, mimeType, ocrInstruction)
	if err != nil {
		return nil, err
	}
	if legibleRunes(text) < p.MinTextLength {
		return nil, apperr.Data("document.analyze", ErrNoLegibleText.Error(), ErrNoLegibleText)
	}

	res := &Result{RawText: text}
	tx, err := p.Extract(ctx, text)
	if err != nil {
		p.logger.Warn("extraction failed, returning raw text", zap.Error(err))
		res.ExtractErr = err
		res.NeedsClarification = true
		return res, nil
	}
	res.Transaction = *tx
	res.NeedsClarification = tx.NeedsClarification()
	return res, nil
}

// Extract asks the chat model for the five-field JSON object and normalises it.
// A zero amount is not an error; check NeedsClarification.
func (p *Pipeline) Extract(ctx context.Context, text string) (*models.ParsedTransaction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Data("document.extract", "text is empty", nil)
	}
	now := p.now()
	reply, err := p.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(extractionPrompt(now)),
		schema.UserMessage(text),
	}, model.WithTemperature(0.1))
	if err != nil {
		return nil, err
	}

	var raw rawTransaction
	if err := decodeLenient(reply.Content, &raw); err != nil {
		p.logger.Debug("unparsable extraction reply", zap.String("reply", reply.Content))
		return nil, err
	}
	tx := normalize(raw, text, now)
	return &tx, nil
}

// Clarify re-runs extraction on earlier OCR text plus the user's note.
func (p *Pipeline) Clarify(ctx context.Context, rawText, note string) (*models.ParsedTransaction, error) {
	return p.Extract(ctx, clarificationInput(rawText, note))
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func legibleRunes(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
