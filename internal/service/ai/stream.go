package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// StreamChat streams the model's reply, handing each delta to callback, and returns the
// full text. The stream is cancelled when StreamChat returns.
func StreamChat(ctx context.Context, chatModel model.BaseChatModel, messages []*schema.Message, callback func(string) error) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("messages cannot be empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader, err := chatModel.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate Ai stream failed: %w", err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if callback != nil {
			if err := callback(chunk.Content); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}
