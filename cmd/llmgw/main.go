// Llmgw is a resilient gateway in front of multiple language-model
// providers.
//
// Usage:
//
//	# Start the HTTP API
//	llmgw serve
//
//	# Select sources for a document and rewrite it once
//	llmgw enhance --text "Inflation rose..." --registry sources.yaml
//
//	# Send one prompt to several providers at once
//	llmgw dispatch --providers claude,openai --prompt "Summarize..."
//
// Configuration is read from ~/.config/llmgw/config.yaml and LLMGW_
// environment variables. See internal/config for details.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "llmgw",
		Short: "Resilient multi-provider LLM gateway",
		Long: `llmgw routes requests to language-model providers with retries, rate
limiting, stateful sessions, parallel fan-out and a two-phase source
selection and enhancement pipeline.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/llmgw/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newEnhanceCmd())
	root.AddCommand(newDispatchCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "llmgw by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
