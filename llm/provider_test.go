package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/schema"
)

func TestNewProvider_Validation(t *testing.T) {
	if _, err := NewProvider(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	_, err := NewProvider(&config.LLMConfig{Provider: "gemini"}, nil)
	if err == nil || !strings.Contains(err.Error(), "gemini") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}

	for _, name := range []string{"", ProviderTypeOpenAI} {
		p, err := NewProvider(&config.LLMConfig{Provider: name, Model: "gpt-4o-mini"}, nil)
		if err != nil {
			t.Fatalf("provider %q: %v", name, err)
		}
		if p.GetProviderType() != ProviderTypeOpenAI {
			t.Fatalf("provider %q: unexpected type %s", name, p.GetProviderType())
		}
	}
}

func TestGenerateCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "gpt-4o-mini" {
			http.Error(w, "unexpected model "+req.Model, http.StatusBadRequest)
			return
		}
		if req.MaxTokens != 64 {
			http.Error(w, "max_tokens not forwarded", http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "what is 2+2?" {
			http.Error(w, "prompt not forwarded", http.StatusBadRequest)
			return
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "four"}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewProvider(&config.LLMConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Model:     "gpt-4o-mini",
		MaxTokens: 64,
	}, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	out, err := p.GenerateCompletion(context.Background(), "what is 2+2?")
	if err != nil {
		t.Fatalf("completion failed: %v", err)
	}
	if out != "four" {
		t.Fatalf("unexpected completion %q", out)
	}
}

func TestGenerateCompletion_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p, err := NewProvider(&config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.GenerateCompletion(context.Background(), "hello")
	if !errors.Is(err, schema.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestGenerateCompletion_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p, err := NewProvider(&config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.GenerateCompletion(context.Background(), "hello")
	if !errors.Is(err, schema.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
