package runtime

import (
	"context"
	"maps"

	"github.com/aretw0/flowchat/internal/template"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
)

// Variables added to the generate prompt scope.
const (
	promptVarContext    = "context"
	promptVarQuestion   = "question"
	promptVarComponents = "components"
	promptVarInput      = "input"
)

func (e *Engine) executeGenerate(ctx context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error) {
	start := e.now()
	form, err := formOf[domain.GenerateForm](node)
	if err != nil {
		return nil, err
	}
	if e.deps.Catalog == nil || e.deps.Models == nil {
		return nil, &domain.ConfigurationError{NodeID: node.ID, Reason: "no model provider configured"}
	}

	providerCfg, modelCfg, err := e.deps.Catalog.Resolve(ctx, form.Model)
	if err != nil {
		return nil, &domain.ConfigurationError{NodeID: node.ID, Reason: err.Error()}
	}
	if form.Temperature != nil {
		modelCfg.Temperature = form.Temperature
	}
	if form.MaxTokens > 0 {
		modelCfg.MaxTokens = form.MaxTokens
	}

	scope := promptScope(ec)
	prompt := ports.Prompt{
		System: template.Render(form.SystemPrompt, scope),
		User:   template.Render(form.Prompt, scope),
	}
	if prompt.User == "" {
		prompt.User = ec.Input.Content
	}

	var completion string
	err = e.callProvider(ctx, node, providerCfg.Name, modelCfg.Name, func(ctx context.Context) error {
		var callErr error
		completion, callErr = e.deps.Models.Complete(ctx, providerCfg, modelCfg, prompt)
		return callErr
	})
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerCfg.Name, Cause: err}
	}

	next, _ := FindNextNode(ec.Flow, node.ID, "")
	res := e.proceed(node, start, domain.RoleAssistant, completion, next)
	res.FlowState = componentDelta(node, completion)
	return res, nil
}

// promptScope is the variable set templates of generate nodes see.
// The derived entries win over flow variables of the same name; a variable
// named context or question is only visible while there is nothing to derive.
func promptScope(ec ExecContext) map[string]any {
	scope := make(map[string]any, len(ec.State.Variables)+4)
	maps.Copy(scope, ec.State.Variables)

	if out, ok := ec.State.LastOutputOf(domain.KindRetrieval); ok {
		scope[promptVarContext] = out
	}
	if q := ec.State.UserInput(); q != "" {
		scope[promptVarQuestion] = q
	}
	components := make(map[string]any, len(ec.State.Components))
	for id, c := range ec.State.Components {
		components[id] = map[string]any{"output": c.Output, "type": string(c.Type)}
	}
	scope[promptVarComponents] = components
	scope[promptVarInput] = ec.Input.Content
	return scope
}
