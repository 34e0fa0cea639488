package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/flowchat/pkg/ports"
)

// Model is a named model entry of the catalog.
type Model struct {
	Name        string
	Provider    string
	Temperature *float64
	MaxTokens   int
}

// Catalog implements ports.ModelCatalog from static configuration.
// References are either a catalog model name or "provider/model".
type Catalog struct {
	providers    map[string]ports.ProviderConfig
	models       map[string]Model
	defaultModel string
}

var _ ports.ModelCatalog = (*Catalog)(nil)

// NewCatalog builds a catalog. models is keyed by reference name.
func NewCatalog(providers []ports.ProviderConfig, models map[string]Model, defaultModel string) (*Catalog, error) {
	c := &Catalog{
		providers:    make(map[string]ports.ProviderConfig, len(providers)),
		models:       make(map[string]Model, len(models)),
		defaultModel: defaultModel,
	}
	for _, p := range providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider without name")
		}
		c.providers[p.Name] = p
	}
	for ref, m := range models {
		if _, ok := c.providers[m.Provider]; !ok {
			return nil, fmt.Errorf("model %q: %w %q", ref, ErrUnknownProvider, m.Provider)
		}
		if m.Name == "" {
			m.Name = ref
		}
		c.models[ref] = m
	}
	return c, nil
}

// Resolve maps a node's model reference to provider and model configuration.
// An empty reference selects the default model.
func (c *Catalog) Resolve(_ context.Context, ref string) (ports.ProviderConfig, ports.ModelConfig, error) {
	if ref == "" {
		ref = c.defaultModel
	}
	if ref == "" {
		return ports.ProviderConfig{}, ports.ModelConfig{}, fmt.Errorf("%w: no model given and no default model configured", ErrUnknownModel)
	}

	if m, ok := c.models[ref]; ok {
		return c.providers[m.Provider], ports.ModelConfig{Name: m.Name, Temperature: m.Temperature, MaxTokens: m.MaxTokens}, nil
	}
	if providerName, modelName, ok := strings.Cut(ref, "/"); ok && modelName != "" {
		p, found := c.providers[providerName]
		if !found {
			return ports.ProviderConfig{}, ports.ModelConfig{}, fmt.Errorf("%w %q in model %q", ErrUnknownProvider, providerName, ref)
		}
		return p, ports.ModelConfig{Name: modelName}, nil
	}
	return ports.ProviderConfig{}, ports.ModelConfig{}, fmt.Errorf("%w %q", ErrUnknownModel, ref)
}

// Models returns the catalog model names, sorted.
func (c *Catalog) Models() []string {
	names := make([]string, 0, len(c.models))
	for ref := range c.models {
		names = append(names, ref)
	}
	sort.Strings(names)
	return names
}
