package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "brainstormd",
		Short: "Multi-agent brainstorm session engine",
		Long: `brainstormd runs turn-based brainstorm sessions between multiple AI
backends and a human participant, streaming responses live and persisting
every transcript durably.`,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
