package assistant

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"chatsync/pkg/errors"
)

// Responder produces the assistant's answer to one user message.
type Responder interface {
	Reply(ctx context.Context, text, languageCode string) (string, error)
}

const systemPrompt = "You are the in-app assistant of a property rental marketplace. " +
	"Answer briefly and reply in the language with code %q."

// OpenAIResponder answers with a chat completion.
type OpenAIResponder struct {
	client openai.Client
	model  string
}

// NewOpenAIResponder builds a responder. An empty baseURL uses the SDK default.
func NewOpenAIResponder(apiKey, baseURL, model string) *OpenAIResponder {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIResponder{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (r *OpenAIResponder) Reply(ctx context.Context, text, languageCode string) (string, error) {
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(systemPrompt, languageCode)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", errors.New(errors.CodeInternal, "assistant request failed", http.StatusBadGateway, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New(errors.CodeInternal, "assistant returned no answer", http.StatusBadGateway, nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CannedResponder answers from a fixed table. It backs the dev server when no
// API key is configured.
type CannedResponder struct{}

var cannedGreetings = map[string]string{
	"en": "Hi! I'm the assistant. I received: %q",
	"es": "¡Hola! Soy el asistente. Recibí: %q",
	"fr": "Bonjour ! Je suis l'assistant. J'ai reçu : %q",
	"de": "Hallo! Ich bin der Assistent. Erhalten: %q",
}

func (CannedResponder) Reply(_ context.Context, text, languageCode string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.BadRequest("empty question", nil)
	}
	format, ok := cannedGreetings[strings.ToLower(languageCode)]
	if !ok {
		format = cannedGreetings["en"]
	}
	return fmt.Sprintf(format, text), nil
}
