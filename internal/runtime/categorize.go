package runtime

import (
	"context"

	"github.com/aretw0/flowchat/internal/template"
	"github.com/aretw0/flowchat/pkg/domain"
)

func (e *Engine) executeCategorize(ctx context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error) {
	start := e.now()
	form, err := formOf[domain.CategorizeForm](node)
	if err != nil {
		return nil, err
	}

	text := ec.Input.Content
	if form.Input != "" {
		text = template.Render(form.Input, ec.State.Variables)
	}
	if text == "" {
		text = ec.State.UserInput()
	}

	req := ClassifyRequest{
		Text:       text,
		Categories: form.Categories,
		Variables:  ec.State.Variables,
		Model:      form.Model,
	}

	var label string
	if form.Model != "" && e.deps.Catalog != nil && e.deps.Models != nil {
		err = e.callProvider(ctx, node, "classifier", form.Model, func(ctx context.Context) error {
			var callErr error
			label, callErr = NewLLMClassifier(e.deps.Catalog, e.deps.Models).Classify(ctx, req)
			return callErr
		})
	} else {
		label, err = e.deps.Classifier.Classify(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if label == "" {
		label = form.Default
	}
	if label == "" {
		return nil, &domain.ConfigurationError{NodeID: node.ID, Reason: "no category matched and no default is set"}
	}

	next, ok := FindNextNode(ec.Flow, node.ID, label)
	if !ok && label != form.Default && form.Default != "" {
		next, _ = FindNextNode(ec.Flow, node.ID, form.Default)
	}

	e.logger.DebugContext(ctx, "categorized", "label", label, "next", next)

	res := e.proceed(node, start, domain.RoleSystem, label, next)
	res.FlowState = componentDelta(node, label)
	res.FlowState.SetVariable(domain.VarCategory, label)
	return res, nil
}
