package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/mindful.ai/internal/utils"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrAPIKeyRequired = errors.New("gateway: api key is required")
	ErrEmptyPrompt    = errors.New("gateway: prompt cannot be empty")
)

// Entry is one role-tagged message of the history submitted with a prompt.
type Entry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request carries everything a provider needs to produce a reply.
type Request struct {
	SystemInstruction string
	History           []Entry
	Prompt            string
}

// FragmentStream is a lazy, finite, non-restartable sequence of reply
// fragments. Next returns io.EOF once the provider has finished; any other
// error ends the stream and fragments already returned remain valid output.
type FragmentStream interface {
	Next() (string, error)
	Close() error
}

// Gateway opens fragment streams against a hosted model. Implementations do
// not retry.
type Gateway interface {
	StartStream(ctx context.Context, req Request) (FragmentStream, error)
}

// New builds the gateway selected by cfg.Provider.
func New(ctx context.Context, cfg utils.GatewayConfig, logger *zap.SugaredLogger) (Gateway, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrAPIKeyRequired, cfg.Provider)
	}

	switch cfg.Provider {
	case utils.GatewayProviderGemini:
		gw, err := NewGeminiGateway(ctx, apiKey, cfg.GeminiModel, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case utils.GatewayProviderOpenAI:
		return NewOpenAIGateway(apiKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, logger), nil
	default:
		return nil, fmt.Errorf("gateway: unsupported provider %q", cfg.Provider)
	}
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}
