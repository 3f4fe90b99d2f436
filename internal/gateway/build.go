package gateway

import (
	"fmt"

	"github.com/ericksa/lexiclarus/internal/config"
)

// BackendFor builds the backend for one configured endpoint. A disabled endpoint yields nil.
func BackendFor(ep config.EndpointConfig) (Backend, error) {
	switch ep.Provider {
	case "":
		return nil, nil
	case "openai":
		return NewChatBackend(ChatConfig{
			Endpoint:    ep.Endpoint,
			Model:       ep.Model,
			APIKey:      ep.APIKey,
			MaxTokens:   ep.MaxTokens,
			Temperature: ep.Temperature,
		}), nil
	case "huggingface":
		return NewInferenceBackend(InferenceConfig{
			Endpoint:    ep.Endpoint,
			Model:       ep.Model,
			APIToken:    ep.APIKey,
			MaxTokens:   ep.MaxTokens,
			Temperature: ep.Temperature,
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", ep.Provider)
	}
}

// NewFromConfig wires one backend per capability from cfg.Models.
func NewFromConfig(cfg *config.Config, options ...Option) (*Gateway, error) {
	endpoints := map[Capability]config.EndpointConfig{
		CapabilitySegment: cfg.Models.Segment,
		CapabilityRewrite: cfg.Models.Rewrite,
		CapabilityRisk:    cfg.Models.Risk,
		CapabilityAnswer:  cfg.Models.Answer,
	}
	backends := make(map[Capability]Backend, len(endpoints))
	for c, ep := range endpoints {
		b, err := BackendFor(ep)
		if err != nil {
			return nil, fmt.Errorf("models.%s: %w", c, err)
		}
		if b != nil {
			backends[c] = b
		}
	}
	return New(backends, Options{
		Timeout:      cfg.Gateway.Timeout,
		MaxRetries:   cfg.Gateway.MaxRetries,
		RetryBackoff: cfg.Gateway.RetryBackoff,
		MaxBackoff:   cfg.Gateway.MaxBackoff,
		Concurrency:  cfg.Gateway.Concurrency,
	}, options...), nil
}
