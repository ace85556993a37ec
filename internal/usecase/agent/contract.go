package agent

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

// ChatModel completes one chat turn.
type ChatModel interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Tools lists and invokes registered tools.
type Tools interface {
	List() []tool.Descriptor
	Invoke(ctx context.Context, name, query string) tool.Result
}
