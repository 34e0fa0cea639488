package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/flowchat"
	"github.com/aretw0/flowchat/internal/cli"
	"github.com/aretw0/flowchat/internal/presentation/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat <flow>",
	Short: "Chat with a flow in the terminal",
	Long: `Starts a conversation with the given flow and reads user messages from
standard input. Type /id to show the conversation id, /new to start over and
/quit to leave. Pass --id to resume a conversation kept by a persistent store.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("id", "", "Conversation id to resume")
	chatCmd.Flags().StringToStringP("var", "v", nil, "Initial flow variable (key=value), repeatable")
	chatCmd.Flags().Bool("plain", false, "Print output without markdown rendering")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := quietLogger(cfg)

	svc, stack, err := newService(cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	id, _ := cmd.Flags().GetString("id")
	rawVars, _ := cmd.Flags().GetStringToString("var")
	plain, _ := cmd.Flags().GetBool("plain")

	vars := make(map[string]any, len(rawVars))
	for k, v := range rawVars {
		vars[k] = v
	}

	out := cmd.OutOrStdout()
	opts := cli.ChatOptions{
		FlowID:         args[0],
		ConversationID: id,
		Variables:      vars,
		In:             cmd.InOrStdin(),
		Out:            out,
		Logger:         logger,
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		tui.PrintBanner(out, flowchat.Version)
		opts.Prompt = "> "
		if !plain {
			width := 0
			if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				width = w - 4
			}
			if render, err := tui.NewRenderer(width); err == nil {
				opts.Render = render
			} else {
				logger.Debug("Markdown renderer unavailable", "err", err)
			}
		}
	}

	sigCtx := cli.NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	last, err := cli.Chat(sigCtx, svc, opts)
	if sigCtx.Signal() == os.Interrupt {
		fmt.Fprintln(out, "[CTRL+C]")
	}
	if interactive && last != "" {
		fmt.Fprintf(out, ">>> Conversation %s (resume with --id %s)\n", last, last)
	}
	return err
}
