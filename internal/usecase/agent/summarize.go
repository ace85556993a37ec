package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/ragtools/internal/usecase/format"
	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

const summaryPrompt = `Below are search results. Using them, answer the user's question with a concise, friendly summary.
Leave out results that are unrelated to the question, and list the titles of the excluded results at the end.

[Search results]
%s
[Question]
%s`

// Summary is an LLM summary grounded on one document search.
type Summary struct {
	Text    string            `json:"text"`
	Sources []format.Document `json:"sources"`
}

// Summarizer searches documents and asks the chat model to summarize them.
type Summarizer struct {
	chat     ChatModel
	tools    Tools
	toolName string
	fields   ReferenceFields
}

// NewSummarizer binds a summarizer to a documents tool.
func NewSummarizer(chat ChatModel, tools Tools, toolName string, fields ReferenceFields) *Summarizer {
	return &Summarizer{chat: chat, tools: tools, toolName: toolName, fields: fields.withDefaults()}
}

// Summarize runs the search and, when it returns documents, one chat completion.
func (s *Summarizer) Summarize(ctx context.Context, query string) (Summary, error) {
	res := s.tools.Invoke(ctx, s.toolName, query)
	if res.Failed {
		if res.Err != nil {
			return Summary{}, fmt.Errorf("search: %w", res.Err)
		}
		return Summary{}, errors.New(res.Text)
	}
	if len(res.Documents) == 0 {
		return Summary{Text: format.NoResults}, nil
	}

	var ctxText strings.Builder
	for i := range res.Documents {
		d := &res.Documents[i]
		fmt.Fprintf(&ctxText, "Title: %s\nContent: %s\n\n", d.Field(s.fields.Title), d.Field(s.fields.Content))
	}

	resp, err := s.chat.Complete(ctx, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf(summaryPrompt, ctxText.String(), query),
		}},
		MaxTokens: 2048,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Summary{}, fmt.Errorf("summarize: %w", errNoChoices)
	}

	return Summary{Text: resp.Choices[0].Message.Content, Sources: res.Documents}, nil
}

var _ Tools = (*tool.Registry)(nil)
