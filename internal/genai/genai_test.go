package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp       openai.ChatCompletion
	err        error
	lastParams openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.lastParams = params
	return m.resp, m.err
}

func newTestClient(chat chatService) *Client {
	return &Client{chat: chat, model: "test-model", temperature: 0.7, maxTokens: 200}
}

func TestGeneratePromptWithContext_Success(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := newTestClient(mock)

	out, err := client.GeneratePromptWithContext(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.lastParams.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.lastParams.Messages))
	}
}

func TestGeneratePromptWithContext_EmptySystemPrompt(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}
	mock := &mockChatService{resp: mockResp}
	client := newTestClient(mock)

	if _, err := client.GeneratePromptWithContext(context.Background(), "", "user prompt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.lastParams.Messages) != 1 {
		t.Errorf("expected only the user message, got %d", len(mock.lastParams.Messages))
	}
}

func TestGenerateWithMessages_MaxTokensOverride(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}
	mock := &mockChatService{resp: mockResp}
	client := newTestClient(mock)

	_, err := client.GenerateWithMessages(context.Background(),
		[]openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")}, MaxTokens(1500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mock.lastParams.MaxTokens.Value; got != 1500 {
		t.Errorf("expected max tokens 1500, got %d", got)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := newTestClient(&mockChatService{resp: mockResp})
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o-mini"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o-mini" {
		t.Errorf("expected model override, got %s", cli.model)
	}
	if cli.maxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens %d, got %d", DefaultMaxTokens, cli.maxTokens)
	}
}

func TestNewClient_DefaultOverrides(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithBaseURL("http://localhost:11434/v1"), WithTemperature(0.2), WithMaxTokens(64))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cli.temperature != 0.2 || cli.maxTokens != 64 {
		t.Errorf("expected temperature 0.2 and 64 tokens, got %v and %d", cli.temperature, cli.maxTokens)
	}
}
