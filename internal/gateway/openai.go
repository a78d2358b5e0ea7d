package gateway

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const openAIProvider = "openai"

// OpenAIGateway streams chat completions from any OpenAI-compatible endpoint
// (Qiniu, DeepSeek, OpenAI).
type OpenAIGateway struct {
	client *openai.Client
	model  string
	logger *zap.SugaredLogger
}

func NewOpenAIGateway(apiKey, baseURL, model string, logger *zap.SugaredLogger) *OpenAIGateway {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	cfg.HTTPClient = newStreamingHTTPClient()

	model = strings.TrimSpace(model)
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &OpenAIGateway{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

func (g *OpenAIGateway) StartStream(ctx context.Context, req Request) (FragmentStream, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: openAIMessages(req),
		Stream:   true,
	})
	if err != nil {
		return nil, describeProviderError(openAIProvider, err)
	}

	g.logger.Debugw("openai stream opened", "model", g.model, "history", len(req.History))
	return &openAIStream{stream: stream}, nil
}

func openAIMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instruction})
	}
	for _, entry := range req.History {
		role := openai.ChatMessageRoleUser
		if entry.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: entry.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	return messages
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Next() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", describeProviderError(openAIProvider, err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
