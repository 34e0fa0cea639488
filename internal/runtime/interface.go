package runtime

import (
	"context"

	"github.com/aretw0/flowchat/internal/template"
	"github.com/aretw0/flowchat/pkg/domain"
)

// executeInterface either consumes a user message or pauses the turn.
//
// A paused interface points at itself so the next turn resumes here.
func (e *Engine) executeInterface(_ context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error) {
	start := e.now()
	form, err := formOf[domain.InterfaceForm](node)
	if err != nil {
		return nil, err
	}

	role := ec.Input.Role
	if role == "" {
		role = domain.RoleAssistant
	}

	if ec.Input.Role == domain.RoleUser {
		delta := componentDelta(node, ec.Input.Content)
		delta.SetVariable(domain.VarUserInput, ec.Input.Content)

		next, ok := FindNextNode(ec.Flow, node.ID, "")
		if !ok {
			res := e.newResult(node, start, domain.StatusCompleted, role, ec.Input.Content)
			res.FlowState = delta
			return res, nil
		}
		res := e.proceed(node, start, role, ec.Input.Content, next)
		res.FlowState = delta
		return res, nil
	}

	output := ec.Input.Content
	if output == "" {
		output = template.Render(form.Template, ec.State.Variables)
	}
	res := e.newResult(node, start, domain.StatusCompleted, role, output)
	res.NextNodeID = node.ID
	res.FlowState = componentDelta(node, output)
	return res, nil
}
