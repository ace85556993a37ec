// Package agent runs a tool-calling chat loop over the tool registry.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragtools/internal/logger"
	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

// DefaultSystemPrompt steers the model toward the search tools.
const DefaultSystemPrompt = "You are a helpful assistant with access to search tools. " +
	"Use the document search for technical questions, the image search for visual content, " +
	"and the web search for recent events. Answer only from tool results and say so when they are not enough."

const queryParameters = `{"type":"object","properties":{"query":{"type":"string",` +
	`"description":"Natural-language search query"}},"required":["query"]}`

var (
	// ErrEmptyMessage is returned for blank user messages.
	ErrEmptyMessage = errors.New("message is required")
	errNoChoices    = errors.New("model returned no choices")
)

// Config tunes the chat loop.
type Config struct {
	SystemPrompt string
	// MaxSteps caps model turns that may request tools.
	MaxSteps int
	// Parallelism caps concurrent tool calls within one turn.
	Parallelism int
	Temperature float32
	MaxTokens   int
	References  ReferenceFields
}

// ToolCall records one executed tool call.
type ToolCall struct {
	ID     string      `json:"id"`
	Tool   string      `json:"tool"`
	Query  string      `json:"query"`
	Result tool.Result `json:"result"`
}

// Reply is the final answer of a chat turn.
type Reply struct {
	Answer     string      `json:"answer"`
	Calls      []ToolCall  `json:"calls,omitempty"`
	References []Reference `json:"references,omitempty"`
	// Markdown is Answer followed by the rendered references block.
	Markdown string `json:"markdown"`
	// Assets are local image files referenced by the answer.
	Assets []string `json:"assets,omitempty"`
}

// Agent answers user messages, calling tools as the model requests.
type Agent struct {
	chat   ChatModel
	tools  Tools
	cfg    Config
	logger *zap.Logger
}

// New creates an agent.
func New(chat ChatModel, tools Tools, cfg Config, l *zap.Logger) *Agent {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 4
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	cfg.References = cfg.References.withDefaults()
	if l == nil {
		l = zap.NewNop()
	}
	return &Agent{chat: chat, tools: tools, cfg: cfg, logger: l}
}

// Chat runs the loop for one user message.
func (a *Agent) Chat(ctx context.Context, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	log := logger.FromContextOr(ctx, a.logger)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: a.cfg.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}
	defs := a.toolDefinitions()

	var calls []ToolCall
	for step := 0; ; step++ {
		req := openai.ChatCompletionRequest{
			Messages:    messages,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
		}
		// The last turn withholds tools so the model must answer.
		if step < a.cfg.MaxSteps && len(defs) > 0 {
			req.Tools = defs
		}

		resp, err := a.chat.Complete(ctx, req)
		if err != nil {
			return Reply{}, fmt.Errorf("chat step %d: %w", step, err)
		}
		if len(resp.Choices) == 0 {
			return Reply{}, fmt.Errorf("chat step %d: %w", step, errNoChoices)
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 || req.Tools == nil {
			return a.reply(msg.Content, calls), nil
		}

		messages = append(messages, msg)
		executed := a.runTools(ctx, msg.ToolCalls)
		for _, c := range executed {
			log.Debug("Tool call finished",
				zap.Int("step", step),
				zap.String("tool", c.Tool),
				zap.Bool("failed", c.Result.Failed),
			)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    c.Result.Text,
				Name:       c.Tool,
				ToolCallID: c.ID,
			})
		}
		calls = append(calls, executed...)
	}
}

func (a *Agent) reply(answer string, calls []ToolCall) Reply {
	refs := BuildReferences(calls, a.cfg.References)
	var assets []string
	for _, c := range calls {
		assets = append(assets, c.Result.Assets...)
	}
	return Reply{
		Answer:     answer,
		Calls:      calls,
		References: refs,
		Markdown:   answer + RenderReferences(refs),
		Assets:     assets,
	}
}

// runTools executes the calls of one turn concurrently, preserving call order in the output.
func (a *Agent) runTools(ctx context.Context, toolCalls []openai.ToolCall) []ToolCall {
	out := make([]ToolCall, len(toolCalls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Parallelism)
	for i, tc := range toolCalls {
		g.Go(func() error {
			query := parseQuery(tc.Function.Arguments)
			out[i] = ToolCall{
				ID:     tc.ID,
				Tool:   tc.Function.Name,
				Query:  query,
				Result: a.tools.Invoke(gctx, tc.Function.Name, query),
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *Agent) toolDefinitions() []openai.Tool {
	list := a.tools.List()
	defs := make([]openai.Tool, 0, len(list))
	for _, d := range list {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  json.RawMessage(queryParameters),
			},
		})
	}
	return defs
}

// parseQuery extracts the query argument. Malformed arguments yield an empty
// query, which the registry reports back to the model as a failed call.
func parseQuery(arguments string) string {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ""
	}
	return args.Query
}
