package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/domain"
	"github.com/kailas-cloud/ragtools/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterMetrics()
	os.Exit(m.Run())
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// embeddingResponse mirrors the OpenAI-compatible API embedding response.
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func newEmbeddingServer(t *testing.T, vecs ...[]float32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 1 {
			t.Errorf("expected a single input, got %d", len(req.Input))
		}

		resp := embeddingResponse{Object: "list", Model: "test-model"}
		for i, v := range vecs {
			resp.Data = append(resp.Data, embeddingData{Object: "embedding", Embedding: v, Index: i})
		}
		resp.Usage.PromptTokens = 7
		resp.Usage.TotalTokens = 7

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestEmbedder(baseURL string) *Embedder {
	return NewEmbedder(&Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "text-embedding-3-small",
		Dimensions: 4,
		UnitLength: true,
		Provider:   "test",
		Logger:     zap.NewNop(),
	})
}

func TestEmbedder_Embed(t *testing.T) {
	expected := []float32{0.1, 0.2, 0.3, 0.4}
	server := newEmbeddingServer(t, expected)
	emb := newTestEmbedder(server.URL)

	result, err := emb.Embed(context.Background(), domain.NewTextQuery("hello world"))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result.Embedding) != len(expected) {
		t.Fatalf("expected %d dimensions, got %d", len(expected), len(result.Embedding))
	}
	for i, v := range result.Embedding {
		if v != expected[i] {
			t.Errorf("vec[%d] = %f, expected %f", i, v, expected[i])
		}
	}
	if result.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, expected 7", result.TotalTokens)
	}
}

func TestEmbedder_Capabilities(t *testing.T) {
	emb := newTestEmbedder("http://unused")
	if !emb.Supports(domain.ModalityText) || emb.Supports(domain.ModalityImage) {
		t.Error("expected text-only support")
	}
	if emb.Dimensions() != 4 || !emb.UnitLength() {
		t.Errorf("dims=%d unit=%v", emb.Dimensions(), emb.UnitLength())
	}
}

func TestEmbedder_RejectsImage(t *testing.T) {
	emb := newTestEmbedder("http://unused")
	_, err := emb.Embed(context.Background(), domain.NewImageQuery([]byte{0x89, 'P', 'N', 'G'}))
	if !errors.Is(err, domain.ErrUnsupportedModality) {
		t.Fatalf("expected ErrUnsupportedModality, got %v", err)
	}
}

func TestEmbedder_EmptyResponse(t *testing.T) {
	server := newEmbeddingServer(t)
	emb := newTestEmbedder(server.URL)

	_, err := emb.Embed(context.Background(), domain.NewTextQuery("hello"))
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "rate limit exceeded",
				"type":    "rate_limit_error",
			},
		})
	}))
	defer server.Close()

	emb := newTestEmbedder(server.URL)

	_, err := emb.Embed(context.Background(), domain.NewTextQuery("hello"))
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestExtractDetail(t *testing.T) {
	if got := extractDetail([]byte(`{"detail":"model not found"}`)); got != "model not found" {
		t.Errorf("extractDetail = %q", got)
	}
	if got := extractDetail([]byte(`not json`)); got != "" {
		t.Errorf("extractDetail = %q, want empty", got)
	}
}

func TestChat_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-test" {
			t.Errorf("model = %q, want config default", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "hi"},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	defer server.Close()

	chat := NewChat(&ChatConfig{APIKey: "k", BaseURL: server.URL, Model: "gpt-test"})
	resp, err := chat.Complete(context.Background(), openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Choices[0].Message.Content != "hi" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
}

func TestChat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	chat := NewChat(&ChatConfig{APIKey: "k", BaseURL: server.URL, Model: "m"})
	if _, err := chat.Complete(context.Background(), openai.ChatCompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
}
