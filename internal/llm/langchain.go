package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/TobiSchelling/AIResearch/internal/config"
)

// LangChainProvider adapts any langchaingo model to Provider.
type LangChainProvider struct {
	model llms.Model
	name  string
}

// NewLangChainProvider wraps an existing langchaingo model.
func NewLangChainProvider(model llms.Model, name string) *LangChainProvider {
	return &LangChainProvider{model: model, name: name}
}

// NewAzureProvider builds a langchaingo OpenAI client pointed at an Azure
// OpenAI deployment. Endpoint and key come from the environment.
func NewAzureProvider(cfg config.Azure) (*LangChainProvider, error) {
	endpoint := strings.TrimRight(os.Getenv(cfg.EndpointEnv), "/")
	key := os.Getenv(cfg.APIKeyEnv)
	if endpoint == "" || key == "" {
		return nil, fmt.Errorf("azure provider requires %s and %s", cfg.EndpointEnv, cfg.APIKeyEnv)
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure provider requires llm.azure.deployment")
	}

	model, err := openai.New(
		openai.WithAPIType(openai.APITypeAzure),
		openai.WithBaseURL(endpoint),
		openai.WithToken(key),
		openai.WithModel(cfg.Deployment),
		openai.WithAPIVersion(cfg.APIVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("creating azure client: %w", err)
	}
	return NewLangChainProvider(model, "azure/"+cfg.Deployment), nil
}

func (p *LangChainProvider) Name() string { return p.name }

func (p *LangChainProvider) IsConfigured() bool { return p.model != nil }

// Generate sends a single user prompt through the wrapped model.
func (p *LangChainProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(0.3),
	)
	if err != nil {
		return "", Classify(p.name, err)
	}
	return out, nil
}
