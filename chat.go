package flowchat

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/openai"
	"github.com/aretw0/flowchat/pkg/ports"
)

// turn is a validated chat request bound to its flow and conversation.
type turn struct {
	flow   *domain.Flow
	convID string
	input  domain.MessagePart
	vars   map[string]any
	fresh  bool
}

// Chat runs one turn and returns its final result as a chat completion.
//
// Request problems (missing flow id, unknown flow, oversized input) are
// returned as errors. Failures while walking the flow are returned as a
// completion with error status so the caller can still show the conversation id.
func (s *Service) Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatCompletion, error) {
	t, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	ctx = s.turnContext(ctx, t)

	var completion *openai.ChatCompletion
	err = s.sessions.WithLock(ctx, t.convID, func(ctx context.Context) error {
		before, err := s.resume(ctx, t)
		if err != nil {
			return err
		}

		outcome, runErr := s.engine.Continue(ctx, t.flow, before, t.input)
		if err := s.finish(ctx, t, before, outcome.State, outcome.Result, runErr); err != nil {
			return err
		}

		switch {
		case isCanceled(runErr):
			return runErr
		case runErr != nil:
			completion = s.transformer.ErrorCompletion(t.convID, t.flow.ID, runErr)
		default:
			completion = s.transformer.Completion(t.convID, t.flow.ID, outcome.Result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// Stream runs one turn and calls emit with one chunk per visited node.
//
// Errors that prevent the turn from starting are returned before emit is called.
// When emit fails the turn stops and the state of the nodes already delivered is kept.
func (s *Service) Stream(ctx context.Context, req openai.ChatRequest, emit func(*openai.ChatCompletionChunk) error) error {
	t, err := s.prepare(req)
	if err != nil {
		return err
	}
	ctx = s.turnContext(ctx, t)

	return s.sessions.WithLock(ctx, t.convID, func(ctx context.Context) error {
		before, err := s.resume(ctx, t)
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		after, last := before, (*domain.ExecutionResult)(nil)
		var runErr, emitErr error
		for ev := range s.engine.Stream(runCtx, t.flow, before, t.input) {
			if ev.Err != nil {
				runErr = ev.Err
				continue
			}
			after, last = ev.State, ev.Result
			if emitErr != nil {
				continue
			}
			if err := emit(s.transformer.Chunk(t.convID, t.flow.ID, ev.Result)); err != nil {
				emitErr = fmt.Errorf("deliver chunk: %w", err)
				cancel()
			}
		}

		switch {
		case emitErr != nil:
			runErr = emitErr
		case runErr != nil && !isCanceled(runErr) && !last.Failed():
			if err := emit(s.transformer.ErrorChunk(t.convID, t.flow.ID, runErr)); err != nil {
				emitErr = fmt.Errorf("deliver chunk: %w", err)
			}
		}

		if err := s.finish(ctx, t, before, after, last, runErr); err != nil {
			return err
		}
		if emitErr != nil {
			return emitErr
		}
		if isCanceled(runErr) {
			return runErr
		}
		return nil
	})
}

func (s *Service) prepare(req openai.ChatRequest) (*turn, error) {
	if strings.TrimSpace(req.FlowID) == "" {
		return nil, &domain.ValidationError{Field: "flowId", Reason: "is required"}
	}
	for i, m := range req.Messages {
		switch m.Role {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem, domain.RoleDeveloper:
		default:
			return nil, &domain.ValidationError{
				Field:  fmt.Sprintf("messages[%d].role", i),
				Reason: fmt.Sprintf("unsupported role %q", m.Role),
			}
		}
	}

	flow, err := s.loader.GetFlow(req.FlowID)
	if err != nil {
		return nil, err
	}

	t := &turn{flow: flow, convID: req.ID, vars: req.Variables}
	if t.convID == "" {
		t.convID = s.newID()
		t.fresh = true
	}
	if content, ok := req.LastUserMessage(); ok {
		clean, err := s.sanitizer.Input(content)
		if err != nil {
			return nil, &domain.ValidationError{Field: "messages", Reason: err.Error()}
		}
		t.input = domain.MessagePart{Role: domain.RoleUser, Content: clean}
	}
	return t, nil
}

func (s *Service) turnContext(ctx context.Context, t *turn) context.Context {
	ctx = logging.WithConversationID(ctx, t.convID)
	return logging.WithFlowID(ctx, t.flow.ID)
}

// resume loads the state of the conversation, or a fresh one positioned before
// begin, and merges the request variables over it.
func (s *Service) resume(ctx context.Context, t *turn) (*domain.FlowState, error) {
	state := domain.NewFlowState("")
	if !t.fresh {
		conv, err := s.sessions.Store().Load(ctx, t.convID)
		switch {
		case err == nil:
			if conv.FlowID != "" && conv.FlowID != t.flow.ID {
				return nil, &domain.ValidationError{
					Field:  "flowId",
					Reason: fmt.Sprintf("conversation %s belongs to flow %q", t.convID, conv.FlowID),
				}
			}
			if conv.State != nil {
				state = conv.State
			}
		case errors.Is(err, domain.ErrConversationNotFound):
			s.logger.DebugContext(ctx, "starting conversation with caller-provided id")
		default:
			return nil, fmt.Errorf("load conversation %s: %w", t.convID, err)
		}
	}

	if len(t.vars) > 0 {
		state = state.Clone()
		if state.Variables == nil {
			state.Variables = make(map[string]any, len(t.vars))
		}
		maps.Copy(state.Variables, t.vars)
	}
	return state, nil
}

// finish persists the state produced by the turn and notifies observers.
// Turns aborted by a configuration error leave the conversation untouched.
func (s *Service) finish(ctx context.Context, t *turn, before, after *domain.FlowState, last *domain.ExecutionResult, runErr error) error {
	status := domain.StatusError
	if last != nil && (runErr == nil || isCanceled(runErr)) {
		status = last.Status
	}
	if s.metrics != nil {
		s.metrics.ObserveTurn(t.flow.ID, status)
	}

	var cfgErr *domain.ConfigurationError
	if errors.As(runErr, &cfgErr) {
		s.logger.WarnContext(ctx, "turn aborted by flow configuration", "err", runErr)
		return nil
	}
	if runErr != nil {
		s.logger.DebugContext(ctx, "turn ended early", "err", runErr)
	}
	if last == nil {
		return nil
	}

	msgs := make([]domain.Message, 0, 2)
	now := s.now()
	if t.input.Content != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: t.input.Content, CreatedAt: now})
	}
	if !last.Failed() && last.Execution.Output != "" {
		msgs = append(msgs, domain.Message{Role: last.NodeInfo.Role, Content: last.Execution.Output, CreatedAt: now})
	}

	// Persist even when the caller went away mid-turn.
	saveCtx := context.WithoutCancel(ctx)
	if _, err := s.sessions.Store().Save(saveCtx, ports.SaveRequest{
		FlowID:         t.flow.ID,
		ConversationID: t.convID,
		State:          after,
		Messages:       msgs,
	}); err != nil {
		return fmt.Errorf("save conversation %s: %w", t.convID, err)
	}

	if diff := domain.Diff(before, after); diff != nil {
		for _, observe := range s.observers {
			observe(saveCtx, t.convID, diff)
		}
	}
	s.logger.DebugContext(ctx, "turn persisted", "status", status, "messages", len(msgs))
	return nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
