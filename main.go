package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:          "planner-api",
		Short:        "Weekly planner API with GraphQL subscriptions",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve)
	root.AddCommand(newInitStorageCmd())
	return root
}
