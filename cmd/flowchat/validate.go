package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/flowchat/pkg/adapters/file"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flow...]",
	Short: "Check flow files for schema and graph errors",
	Long: `Loads every flow of the flows directory, or only the named ones, checking
each document against the flow schema and its graph for missing begin nodes,
dangling edges and unreachable nodes.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	loader := file.NewLoader(cfg.Flows.Dir)

	ids := args
	if len(ids) == 0 {
		if ids, err = loader.ListFlows(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("no flows found in %s", cfg.Flows.Dir)
		}
	}

	out := cmd.OutOrStdout()
	var errs []error
	for _, id := range ids {
		if _, err := loader.GetFlow(id); err != nil {
			fmt.Fprintf(out, "✗ %s\n", id)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s\n", id)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("validation failed:\n%w", err)
	}
	return nil
}
