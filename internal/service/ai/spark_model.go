package ai

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Jeffrey-done/SubScript/internal/models"
	"github.com/Jeffrey-done/SubScript/internal/spark"
)

var errReaderClosed = errors.New("stream reader closed")

// SparkChatModel exposes a vendor streaming session as an eino chat model.
type SparkChatModel struct {
	client *spark.Client
	cred   models.ModelCredential
}

var _ model.BaseChatModel = (*SparkChatModel)(nil)

func NewSparkChatModel(client *spark.Client, cred models.ModelCredential) *SparkChatModel {
	return &SparkChatModel{client: client, cred: cred}
}

// Generate waits for the whole reply.
func (m *SparkChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	sess, err := m.client.Start(ctx, m.request(input, opts...))
	if err != nil {
		return nil, err
	}
	text, err := sess.Wait()
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream yields one message per vendor delta. The session ends with ctx; a closed reader
// only stops it at the next delta, so callers that stop reading early must cancel ctx.
func (m *SparkChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](16)
	req := m.request(input, opts...)
	req.OnDelta = func(delta string) error {
		if closed := sw.Send(schema.AssistantMessage(delta, nil), nil); closed {
			return errReaderClosed
		}
		return nil
	}
	sess, err := m.client.Start(ctx, req)
	if err != nil {
		sw.Close()
		return nil, err
	}
	go func() {
		defer sw.Close()
		if _, err := sess.Wait(); err != nil && !errors.Is(err, errReaderClosed) {
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

func (m *SparkChatModel) request(input []*schema.Message, opts ...model.Option) spark.StreamRequest {
	o := model.GetCommonOptions(&model.Options{}, opts...)
	req := spark.StreamRequest{Credential: m.cred, Messages: convertMessages(input)}
	if o.Temperature != nil {
		req.Temperature = float64(*o.Temperature)
	}
	if o.MaxTokens != nil {
		req.MaxTokens = *o.MaxTokens
	}
	return req
}

func convertMessages(input []*schema.Message) []spark.Message {
	out := make([]spark.Message, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		var role string
		switch msg.Role {
		case schema.System:
			role = spark.RoleSystem
		case schema.Assistant:
			role = spark.RoleAssistant
		default:
			role = spark.RoleUser
		}
		out = append(out, spark.Message{Role: role, Content: msg.Content})
	}
	return out
}
