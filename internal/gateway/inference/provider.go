package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quorum/internal/budget"
)

// ModelProvider is the surface an agent uses to run one governed
// inference call.
type ModelProvider interface {
	Name() string
	Model() string
	MaxOutputTokens() int
	Pricing() budget.Pricing
	Call(ctx context.Context, systemPrompt, userPrompt string) (string, budget.Usage, error)
}

// Preset describes one configured model endpoint.
type Preset struct {
	Name            string
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	TimeoutSeconds  int
	MaxRetries      int
	InputPerMTok    float64
	OutputPerMTok   float64
	ExtraHeaders    map[string]string
}

type chatProvider struct {
	name      string
	client    *ChatClient
	maxOutput int
	pricing   budget.Pricing
}

// NewProvider builds a ModelProvider from a preset.
func NewProvider(p Preset) (ModelProvider, error) {
	if strings.TrimSpace(p.Model) == "" {
		return nil, fmt.Errorf("model preset %q: model id required", p.Name)
	}
	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	maxOutput := p.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = 800
	}
	name := p.Name
	if name == "" {
		name = p.Model
	}
	return &chatProvider{
		name: name,
		client: &ChatClient{
			BaseURL:      p.BaseURL,
			APIKey:       p.APIKey,
			Model:        p.Model,
			Timeout:      timeout,
			Temperature:  p.Temperature,
			MaxTokens:    maxOutput,
			MaxRetries:   p.MaxRetries,
			ExtraHeaders: p.ExtraHeaders,
		},
		maxOutput: maxOutput,
		pricing: budget.Pricing{
			InputPerMTokens:  p.InputPerMTok,
			OutputPerMTokens: p.OutputPerMTok,
		},
	}, nil
}

func (p *chatProvider) Name() string            { return p.name }
func (p *chatProvider) Model() string           { return p.client.Model }
func (p *chatProvider) MaxOutputTokens() int    { return p.maxOutput }
func (p *chatProvider) Pricing() budget.Pricing { return p.pricing }

func (p *chatProvider) Call(ctx context.Context, systemPrompt, userPrompt string) (string, budget.Usage, error) {
	content, usage, err := p.client.ChatCompletion(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", budget.Usage{}, err
	}
	billed := budget.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
	// Some proxies omit usage; fall back to a character estimate so the
	// governor never records a free call.
	if billed.PromptTokens == 0 && billed.CompletionTokens == 0 {
		billed.PromptTokens = (len(systemPrompt) + len(userPrompt)) / 4
		billed.CompletionTokens = len(content) / 4
	}
	return content, billed, nil
}
