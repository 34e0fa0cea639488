package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ClassifyRequest is the input of a Classifier.
type ClassifyRequest struct {
	Text       string
	Categories []domain.Category
	Variables  map[string]any
	Model      string
}

// Classifier picks one of the request's category labels.
// An empty label means no category matched.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
}

// RuleClassifier matches categories without calling a model.
//
// Categories are tried in order. A category matches when its `when` expression
// evaluates to true, or when the text contains one of its keywords or its label
// (case-insensitive). Expressions see the flow variables plus `input`, the text.
// Compiled programs are cached and safe for concurrent use.
type RuleClassifier struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewRuleClassifier creates a RuleClassifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{cache: make(map[string]*vm.Program)}
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(_ context.Context, req ClassifyRequest) (string, error) {
	env := make(map[string]any, len(req.Variables)+1)
	for k, v := range req.Variables {
		env[k] = v
	}
	env["input"] = req.Text

	for _, cat := range req.Categories {
		if cat.When == "" {
			continue
		}
		ok, err := c.eval(cat.When, env)
		if err != nil {
			return "", fmt.Errorf("category %q: %w", cat.Label, err)
		}
		if ok {
			return cat.Label, nil
		}
	}

	text := strings.ToLower(req.Text)
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	for _, cat := range req.Categories {
		for _, kw := range cat.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return cat.Label, nil
			}
		}
	}
	for _, cat := range req.Categories {
		if cat.Label != "" && strings.Contains(text, strings.ToLower(cat.Label)) {
			return cat.Label, nil
		}
	}
	return "", nil
}

func (c *RuleClassifier) eval(expression string, env map[string]any) (bool, error) {
	prg, err := c.program(expression)
	if err != nil {
		return false, err
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	b, _ := out.(bool)
	return b, nil
}

// program returns a cached compiled program or compiles and caches a new one.
// Variables are resolved at run time so one program serves every conversation.
func (c *RuleClassifier) program(expression string) (*vm.Program, error) {
	c.mu.RLock()
	prg, ok := c.cache[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.cache[expression]; ok {
		return prg, nil
	}
	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	c.cache[expression] = prg
	return prg, nil
}

// LLMClassifier asks a model to pick a label.
type LLMClassifier struct {
	catalog ports.ModelCatalog
	models  ports.ModelProvider
}

// NewLLMClassifier creates a classifier backed by a model provider.
func NewLLMClassifier(catalog ports.ModelCatalog, models ports.ModelProvider) *LLMClassifier {
	return &LLMClassifier{catalog: catalog, models: models}
}

const classifySystemPrompt = "You are a classifier. Answer with exactly one of the category labels and nothing else."

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, req ClassifyRequest) (string, error) {
	providerCfg, modelCfg, err := c.catalog.Resolve(ctx, req.Model)
	if err != nil {
		return "", &domain.ConfigurationError{Reason: err.Error()}
	}
	zero := 0.0
	modelCfg.Temperature = &zero

	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, cat := range req.Categories {
		b.WriteString("- ")
		b.WriteString(cat.Label)
		if cat.Description != "" {
			b.WriteString(": ")
			b.WriteString(cat.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nText:\n")
	b.WriteString(req.Text)

	answer, err := c.models.Complete(ctx, providerCfg, modelCfg, ports.Prompt{
		System: classifySystemPrompt,
		User:   b.String(),
	})
	if err != nil {
		return "", &domain.ProviderError{Provider: providerCfg.Name, Cause: err}
	}
	return MatchLabel(answer, req.Categories), nil
}

// MatchLabel maps a free-form model answer to a declared label.
// An exact (case-insensitive) match wins over containment.
func MatchLabel(answer string, categories []domain.Category) string {
	answer = strings.ToLower(strings.Trim(strings.TrimSpace(answer), `."'`))
	for _, cat := range categories {
		if strings.ToLower(cat.Label) == answer {
			return cat.Label
		}
	}
	for _, cat := range categories {
		if cat.Label != "" && strings.Contains(answer, strings.ToLower(cat.Label)) {
			return cat.Label
		}
	}
	return ""
}
