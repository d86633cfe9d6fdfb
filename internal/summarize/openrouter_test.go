package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
)

func TestOpenRouterSummarizer_Summarize_Success(t *testing.T) {
	var gotAuth string
	var gotBody chatRequestBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		resp := chatResponseBody{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}{{}}
		resp.Choices[0].Message.Content = "summary text"
		resp.Choices[0].FinishReason = "stop"
		resp.Usage.PromptTokens = 10
		resp.Usage.CompletionTokens = 5
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := NewOpenRouterSummarizer(server.URL, "anthropic/claude-sonnet-4-5")
	messages := []fetch.Message{
		{AuthorName: "Alice", Content: "hello", Timestamp: time.Now()},
		{AuthorName: "System", Content: "joined", IsSystem: true, Timestamp: time.Now()},
	}

	result, err := s.Summarize(context.Background(), messages, "sk-test", "daily", "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if result.Content != "summary text" {
		t.Errorf("content = %q, want %q", result.Content, "summary text")
	}
	if result.TokensInput != 10 || result.TokensOutput != 5 {
		t.Errorf("unexpected token counts: %+v", result)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer sk-test")
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("expected 2 wire messages, got %d", len(gotBody.Messages))
	}
	if strings.Contains(gotBody.Messages[1].Content, "joined") {
		t.Errorf("system message should be excluded from transcript: %q", gotBody.Messages[1].Content)
	}
}

func TestOpenRouterSummarizer_Summarize_NoAPIKey(t *testing.T) {
	s := NewOpenRouterSummarizer("", "some-model")
	_, err := s.Summarize(context.Background(), nil, "", "daily", "")
	if err == nil {
		t.Fatal("expected an error when no api key is provided")
	}
}

func TestOpenRouterSummarizer_Summarize_RetriesOnServerError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := chatResponseBody{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}{{}}
		resp.Choices[0].Message.Content = "ok after retry"
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := NewOpenRouterSummarizer(server.URL, "model")
	result, err := s.Summarize(context.Background(), nil, "sk-test", "weekly", "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if result.Content != "ok after retry" {
		t.Errorf("content = %q, want %q", result.Content, "ok after retry")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls (1 failure + 1 success), got %d", calls)
	}
}

func TestOpenRouterSummarizer_Summarize_NonRetryableError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid key"))
	}))
	defer server.Close()

	s := NewOpenRouterSummarizer(server.URL, "model")
	_, err := s.Summarize(context.Background(), nil, "sk-bad", "daily", "")
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected error to mention status 401, got: %v", err)
	}
}
