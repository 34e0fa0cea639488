package main

import (
	"fmt"

	"github.com/aretw0/flowchat/internal/presentation/graph"
	"github.com/aretw0/flowchat/pkg/adapters/file"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <flow>",
	Short: "Export the flow graph as a Mermaid diagram",
	Long: `Prints a Mermaid flowchart of the flow. With --conversation the nodes that
conversation visited are highlighted, read from the configured store.`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("conversation", "", "Highlight the path of this conversation")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flow, err := file.NewLoader(cfg.Flows.Dir, file.WithoutValidation()).GetFlow(args[0])
	if err != nil {
		return err
	}

	var overlay *graph.Overlay
	if id, _ := cmd.Flags().GetString("conversation"); id != "" {
		svc, stack, err := newService(cfg, quietLogger(cfg))
		if err != nil {
			return err
		}
		defer stack.Close()
		conv, err := svc.Conversation(cmd.Context(), id)
		if err != nil {
			return err
		}
		overlay = graph.OverlayFromState(conv.State)
	}

	fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(flow, overlay))
	return nil
}
