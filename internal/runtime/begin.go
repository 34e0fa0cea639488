package runtime

import (
	"context"
	"fmt"
	"maps"

	"github.com/aretw0/flowchat/internal/template"
	"github.com/aretw0/flowchat/pkg/domain"
)

// formOf returns the typed form of node. A nil form yields the zero value.
func formOf[F domain.Form](node *domain.Node) (F, error) {
	var zero F
	if node.Form == nil {
		return zero, nil
	}
	f, ok := node.Form.(F)
	if !ok {
		return zero, &domain.ConfigurationError{
			NodeID: node.ID,
			Reason: fmt.Sprintf("form %T does not match kind %q", node.Form, node.Kind),
		}
	}
	return f, nil
}

func (e *Engine) executeBegin(_ context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error) {
	start := e.now()
	form, err := formOf[domain.BeginForm](node)
	if err != nil {
		return nil, err
	}

	delta := &domain.StateDelta{}
	vars := maps.Clone(ec.State.Variables)
	if vars == nil {
		vars = make(map[string]any)
	}
	for _, decl := range form.Variables {
		if decl.Key == "" {
			continue
		}
		if _, exists := vars[decl.Key]; exists {
			continue
		}
		vars[decl.Key] = decl.Value
		delta.SetVariable(decl.Key, decl.Value)
	}

	greeting := template.Render(form.Greeting, vars)
	delta.SetComponent(node.ID, domain.ComponentOutput{Output: greeting, Type: node.Kind})

	next, _ := FindNextNode(ec.Flow, node.ID, "")
	res := e.proceed(node, start, domain.RoleSystem, greeting, next)
	res.FlowState = delta
	return res, nil
}
