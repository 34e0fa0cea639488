// Package cli implements the interactive terminal chat of the flowchat command.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/openai"
)

// Chatter runs one turn of a conversation.
type Chatter interface {
	Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatCompletion, error)
}

// ChatOptions configures Chat.
type ChatOptions struct {
	FlowID string
	// ConversationID resumes a stored conversation; empty starts a new one.
	ConversationID string
	// Variables are sent with the first turn.
	Variables map[string]any

	In  io.Reader
	Out io.Writer
	// Render formats assistant output for display. Nil prints it unchanged.
	Render func(string) (string, error)
	// Prompt is printed before each read; leave empty for piped input.
	Prompt string
	Logger *slog.Logger
}

// Chat commands typed at the prompt.
const (
	cmdQuit = "/quit"
	cmdExit = "/exit"
	cmdID   = "/id"
	cmdNew  = "/new"
)

// Chat runs an interactive conversation on opts.In and opts.Out until the
// input ends, the user types /quit or ctx is canceled. It returns the id of
// the conversation in use at exit.
func Chat(ctx context.Context, svc Chatter, opts ChatOptions) (string, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	s := &chatSession{svc: svc, opts: opts, id: opts.ConversationID, vars: opts.Variables}

	if s.id == "" {
		if err := s.turn(ctx, ""); err != nil {
			return s.id, err
		}
	} else {
		s.system("Resuming conversation %s.", s.id)
	}

	lines := readLines(ctx, opts.In)
	for {
		if opts.Prompt != "" {
			fmt.Fprint(opts.Out, opts.Prompt)
		}
		var line string
		select {
		case <-ctx.Done():
			return s.id, nil
		case l, ok := <-lines:
			if !ok {
				return s.id, nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case cmdQuit, cmdExit:
			return s.id, nil
		case cmdID:
			s.system("Conversation %s.", s.id)
			continue
		case cmdNew:
			s.id = ""
			s.vars = opts.Variables
			line = ""
		}
		if err := s.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return s.id, nil
			}
			return s.id, err
		}
	}
}

type chatSession struct {
	svc  Chatter
	opts ChatOptions
	id   string
	vars map[string]any
}

// turn sends text (possibly empty) and prints the answer. Failed turns are
// reported in the transcript; only request and store errors are returned.
func (s *chatSession) turn(ctx context.Context, text string) error {
	req := openai.ChatRequest{FlowID: s.opts.FlowID, ID: s.id, Variables: s.vars}
	if text != "" {
		req.Messages = []openai.ChatMessage{{Role: domain.RoleUser, Content: text}}
	}
	res, err := s.svc.Chat(ctx, req)
	if err != nil {
		return err
	}
	s.id = res.ID
	s.vars = nil

	if res.Status == domain.StatusError {
		msg := "turn failed"
		if res.Error != nil {
			msg = res.Error.Message
		}
		s.opts.Logger.DebugContext(ctx, "Turn failed", "conversation_id", s.id, "err", msg)
		s.system("Error: %s", msg)
		return nil
	}

	var content string
	if len(res.Choices) > 0 {
		content = res.Choices[0].Message.Content
	}
	if content != "" {
		s.print(content)
	}
	return nil
}

func (s *chatSession) print(content string) {
	if s.opts.Render != nil {
		rendered, err := s.opts.Render(content)
		if err == nil {
			fmt.Fprint(s.opts.Out, rendered)
			return
		}
		s.opts.Logger.Debug("Render failed", "err", err)
	}
	fmt.Fprintln(s.opts.Out, content)
}

func (s *chatSession) system(format string, args ...any) {
	fmt.Fprintf(s.opts.Out, ">>> %s\n", fmt.Sprintf(format, args...))
}

// readLines scans r in the background. The channel closes at end of input.
// A read blocked on a terminal outlives ctx; the process exit reclaims it.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
