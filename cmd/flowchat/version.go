package main

import (
	"fmt"

	"github.com/aretw0/flowchat"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of flowchat",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "flowchat version %s\n", flowchat.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
