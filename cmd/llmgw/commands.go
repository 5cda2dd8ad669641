package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/llmgw/internal/gateway"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
)

func newEnhanceCmd() *cobra.Command {
	var (
		text         string
		file         string
		registryPath string
		providerName string
		model        string
		instructions string
	)
	cmd := &cobra.Command{
		Use:   "enhance",
		Short: "Select sources for a document and rewrite it",
		Long: `Run the selection and enhancement pipeline once and print the result
as JSON.

Examples:
  # Enhance inline text against a source registry
  llmgw enhance --text "Inflation rose in March." --registry sources.yaml

  # Read the document from stdin
  cat draft.md | llmgw enhance --file - --provider claude`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readText(text, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if registryPath != "" {
				cfg.Pipeline.RegistryPath = registryPath
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			if a.sources == nil {
				return fmt.Errorf("a source registry is required (--registry or pipeline.registry_path)")
			}

			res, runErr := a.gateway.Enhance(ctx, gateway.EnhanceRequest{
				Provider:     providerName,
				Model:        model,
				Text:         doc,
				Instructions: instructions,
			})
			if res != nil {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "document text")
	cmd.Flags().StringVar(&file, "file", "", "read the document from a file (- for stdin)")
	cmd.Flags().StringVar(&registryPath, "registry", "", "source registry YAML file")
	cmd.Flags().StringVar(&providerName, "provider", "", "provider name (defaults to default_provider)")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra guidance for the enhancement phase")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	return cmd
}

// dispatchOutput is the JSON printed by the dispatch command.
type dispatchOutput struct {
	Provider  string             `json:"provider"`
	Response  *provider.Response `json:"response,omitempty"`
	Error     string             `json:"error,omitempty"`
	Kind      string             `json:"kind,omitempty"`
	LatencyMS int64              `json:"latency_ms"`
}

func newDispatchCmd() *cobra.Command {
	var (
		providers []string
		prompt    string
		system    string
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send one prompt to several providers concurrently",
		Long: `Send the same prompt to every named provider at once and print one JSON
result per provider. One provider failing does not affect the others.

Examples:
  llmgw dispatch --providers claude,openai --prompt "Name three primes."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			if len(providers) == 0 {
				providers = a.registry.Names()
			}
			var msgs []provider.Message
			if system != "" {
				msgs = append(msgs, provider.NewMessage(provider.RoleSystem, system))
			}
			msgs = append(msgs, provider.NewMessage(provider.RoleUser, prompt))

			results, dispatchErr := a.gateway.ParallelDispatch(ctx, providers, msgs)
			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)
			out := make([]dispatchOutput, 0, len(names))
			for _, name := range names {
				out = append(out, newDispatchOutput(results[name]))
			}
			if len(out) > 0 {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			}
			return dispatchErr
		},
	}
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "comma-separated provider names (default all)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "user prompt")
	cmd.Flags().StringVar(&system, "system", "", "optional system prompt")
	return cmd
}

func newDispatchOutput(r gateway.DispatchResult) dispatchOutput {
	out := dispatchOutput{Provider: r.Provider, Response: r.Response, LatencyMS: r.Latency.Milliseconds()}
	if r.Err != nil {
		out.Error = r.Err.Error()
		out.Kind = string(r.Err.Kind)
	}
	return out
}

func readText(text, file string, stdin io.Reader) (string, error) {
	switch {
	case text != "":
		return text, nil
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(b), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", file, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("--text or --file is required")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
