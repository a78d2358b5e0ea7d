package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	geminiProvider     = "gemini"
	defaultGeminiModel = "gemini-1.5-flash"
	geminiRoleModel    = "model"
)

// GeminiGateway streams replies from Google's Gemini models.
type GeminiGateway struct {
	client *genai.Client
	model  string
	logger *zap.SugaredLogger
}

func NewGeminiGateway(ctx context.Context, apiKey, model string, logger *zap.SugaredLogger) (*GeminiGateway, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(apiKey)))
	if err != nil {
		return nil, fmt.Errorf("gateway: create gemini client: %w", err)
	}

	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &GeminiGateway{client: client, model: model, logger: logger}, nil
}

func (g *GeminiGateway) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiGateway) StartStream(ctx context.Context, req Request) (FragmentStream, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	model := g.client.GenerativeModel(g.model)
	if instruction := strings.TrimSpace(req.SystemInstruction); instruction != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(instruction))
	}

	session := model.StartChat()
	session.History = geminiHistory(req.History)

	g.logger.Debugw("gemini stream opened", "model", g.model, "history", len(req.History))
	return &geminiStream{iter: session.SendMessageStream(ctx, genai.Text(req.Prompt))}, nil
}

// geminiHistory converts entries to chat contents. Gemini rejects empty text
// parts and expects user and model turns to alternate, so an empty reply
// drops the whole turn.
func geminiHistory(entries []Entry) []*genai.Content {
	history := make([]*genai.Content, 0, len(entries))
	for _, entry := range entries {
		role := RoleUser
		if entry.Role == RoleAssistant {
			role = geminiRoleModel
		}
		if entry.Text == "" {
			if role == geminiRoleModel && len(history) > 0 && history[len(history)-1].Role == RoleUser {
				history = history[:len(history)-1]
			}
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(entry.Text)}})
	}
	return history
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

// Next skips chunks that carry no text, such as safety-rating-only chunks.
func (s *geminiStream) Next() (string, error) {
	for {
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", describeProviderError(geminiProvider, err)
		}

		if text := geminiText(resp); text != "" {
			return text, nil
		}
	}
}

// Close is a no-op; the iterator is released by cancelling the stream context.
func (s *geminiStream) Close() error {
	return nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var builder strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	return builder.String()
}
