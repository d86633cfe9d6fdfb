package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
)

// OpenRouterSummarizer calls an OpenAI-compatible chat completions endpoint
// (OpenRouter by default) to turn a batch of messages into a summary.
// Grounded on the teacher's internal/providers.OpenAIProvider — same
// apiBase/chatPath shape and non-streaming request/response wire format,
// trimmed to the single Chat call a summary needs (no tool calls, no
// streaming, no provider-name branching).
type OpenRouterSummarizer struct {
	apiBase string
	model   string
	client  *http.Client
}

// NewOpenRouterSummarizer returns a Summarizer. model is the OpenRouter
// model ID (e.g. "anthropic/claude-sonnet-4-5"); apiBase defaults to
// OpenRouter's API root when empty.
func NewOpenRouterSummarizer(apiBase, model string) *OpenRouterSummarizer {
	if apiBase == "" {
		apiBase = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterSummarizer{
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequestBody struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Summarize renders messages into a transcript and asks the model for a
// summary matching summaryType/perspective, per spec §4.3's summary-type
// and perspective options.
func (s *OpenRouterSummarizer) Summarize(ctx context.Context, messages []fetch.Message, apiKey, summaryType, perspective string) (Result, error) {
	if apiKey == "" {
		return Result{}, fmt.Errorf("summarize: no api key provided")
	}

	body := chatRequestBody{
		Model: s.model,
		Messages: []wireMessage{
			{Role: "system", Content: systemPrompt(summaryType, perspective)},
			{Role: "user", Content: renderTranscript(messages)},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat request: %w", err)
	}

	var resp chatResponseBody
	if err := s.doWithRetry(ctx, apiKey, payload, &resp); err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("summarize: empty response from model")
	}

	return Result{
		Content:      resp.Choices[0].Message.Content,
		TokensInput:  resp.Usage.PromptTokens,
		TokensOutput: resp.Usage.CompletionTokens,
		Options: map[string]interface{}{
			"summary_type": summaryType,
			"perspective":  perspective,
			"model":        s.model,
		},
	}, nil
}

// doWithRetry posts payload, making up to three attempts in all (two
// retries) on transient 429/5xx failures with exponential backoff,
// mirroring the teacher's Chat/
// ChatStream retry wrapping without pulling in its tool-call/streaming
// machinery this package doesn't need.
func (s *OpenRouterSummarizer) doWithRetry(ctx context.Context, apiKey string, payload []byte, out *chatResponseBody) error {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		status, body, err := s.do(ctx, apiKey, payload)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("summarize: transient http status %d", status)
			continue
		}
		if status != http.StatusOK {
			return fmt.Errorf("summarize: http status %d: %s", status, string(body))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode chat response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("summarize: giving up after retries: %w", lastErr)
}

func (s *OpenRouterSummarizer) do(ctx context.Context, apiKey string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read chat response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func systemPrompt(summaryType, perspective string) string {
	base := "You summarize chat history into a concise, well-structured Markdown digest."
	switch summaryType {
	case "brief":
		base += " Keep it brief: a short list of the main topics and outcomes."
	case "detailed":
		base += " Give a detailed account of each significant thread, grouping related messages together."
	case "comprehensive":
		base += " Be comprehensive: cover every thread in depth, calling out decisions, open questions and notable events."
	}
	if perspective != "" {
		base += fmt.Sprintf(" Write from the perspective of: %s.", perspective)
	}
	return base
}

func renderTranscript(messages []fetch.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.IsSystem {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.AuthorName, m.Content)
	}
	return b.String()
}
