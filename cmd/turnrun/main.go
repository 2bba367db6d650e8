// Command turnrun is a minimal CLI entrypoint driving one turn of the
// engine: it wires a provider, a tool registry, a session store, and an
// approval gate from on-disk config, then streams the result of a
// single prompt to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jarvis-run/turnengine/internal/approval"
	tconfig "github.com/jarvis-run/turnengine/internal/config"
	"github.com/jarvis-run/turnengine/internal/message"
	"github.com/jarvis-run/turnengine/internal/sandbox"
	sandboxcontainer "github.com/jarvis-run/turnengine/internal/sandbox/container"
	sandboxvm "github.com/jarvis-run/turnengine/internal/sandbox/vm"
	"github.com/jarvis-run/turnengine/internal/session"
	"github.com/jarvis-run/turnengine/internal/stream"
	"github.com/jarvis-run/turnengine/internal/stream/provider"
	"github.com/jarvis-run/turnengine/internal/tool"
	"github.com/jarvis-run/turnengine/internal/tool/builtin"
	"github.com/jarvis-run/turnengine/internal/tool/mcpbridge"
	"github.com/jarvis-run/turnengine/internal/turn"
	"github.com/jarvis-run/turnengine/internal/update"
)

var (
	providerFlag string
	modelFlag    string
	maxTurnsFlag int
)

var rootCmd = &cobra.Command{
	Use:   "turnrun [prompt]",
	Short: "Drive one agent turn to completion from the command line",
	Args:  cobra.ArbitraryArgs,
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&providerFlag, "provider", "", "Override the configured default provider")
	rootCmd.Flags().StringVar(&modelFlag, "model", "", "Override the provider's configured model")
	rootCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", 0, "Override the configured max turn count")
}

func Execute() error {
	return rootCmd.Execute()
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("please provide a prompt, e.g.: turnrun \"list the files in this repo\"")
	}
	userInput := strings.Join(args, " ")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := tconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if providerFlag != "" {
		cfg.DefaultProvider = providerFlag
	}
	if maxTurnsFlag > 0 {
		cfg.MaxTurns = maxTurnsFlag
	}

	llmProvider, err := buildProvider(cfg, modelFlag)
	if err != nil {
		return fmt.Errorf("failed to build provider: %w", err)
	}

	builtinRegistry, err := builtin.NewRegistry(builtin.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	mcpManager, err := buildMCPManager(ctx)
	if err != nil {
		return fmt.Errorf("failed to start mcp servers: %w", err)
	}
	defer mcpManager.StopAll()
	registry := mcpbridge.NewRegistry(builtinRegistry, mcpManager)

	store, err := session.NewStore(cfg.Sessions)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	sess := &session.Session{Summary: truncateTitle(userInput)}
	if err := store.Create(ctx, sess); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	sandboxRuntime, err := buildSandbox(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("failed to build sandbox: %w", err)
	}

	gate := approval.NewGate(approval.NewMatrix(cfg.Approval.ParseRules()))
	gate.Prompt = promptForApproval

	toolCtx := &tool.Context{
		SessionID: sess.ID,
		RootDir:   ".",
		CWD:       ".",
		Approve: func(toolName, pattern string) (tool.Outcome, error) {
			return gate.Check(cfg.Approval.Mode, toolName, pattern, pattern)
		},
	}
	if sandboxRuntime != nil {
		toolCtx.Sandbox = sandbox.NewAdapter(sandboxRuntime)
	}

	engine := turn.NewEngine(llmProvider, registry)

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 20
	}

	req := turn.Request{
		Messages:    []message.Message{message.UserText(userInput)},
		MaxTurns:    maxTurns,
		ToolContext: toolCtx,
	}
	if modelFlag != "" {
		req.Model = modelFlag
	}

	st := engine.Run(ctx, req)
	defer st.Close()

	return printEvents(st)
}

func printEvents(st turn.Stream) error {
	for {
		ev, err := st.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch ev.Kind {
		case update.KindAgentMessageChunk:
			fmt.Print(ev.Content)
		case update.KindToolCall:
			fmt.Fprintf(os.Stderr, "\n[tool] %s\n", ev.Title)
		case update.KindCompleted:
			fmt.Println()
			return nil
		case update.KindError:
			return ev.Err
		case update.KindAborted:
			fmt.Fprintln(os.Stderr, "\n[aborted]")
			return nil
		}
	}
}

func buildProvider(cfg *tconfig.Config, modelOverride string) (stream.Provider, error) {
	name := cfg.DefaultProvider
	providerCfg := cfg.GetActiveProviderConfig()
	if providerCfg == nil {
		providerCfg = &tconfig.ProviderConfig{}
	}
	model := providerCfg.Model
	if modelOverride != "" {
		model = modelOverride
	}

	switch tconfig.InferProviderType(name, providerCfg.Type) {
	case tconfig.ProviderTypeOpenAI:
		return provider.NewOpenAIProvider(providerCfg.ResolvedAPIKey, model), nil
	case tconfig.ProviderTypeGemini:
		return provider.NewGeminiProvider(providerCfg.ResolvedAPIKey, model), nil
	case tconfig.ProviderTypeBedrock:
		return provider.NewBedrockProvider(provider.BedrockConfig{
			Region:          providerCfg.Region,
			AccessKeyID:     providerCfg.AccessKeyID,
			SecretAccessKey: providerCfg.SecretAccessKey,
			DefaultModel:    model,
		})
	default:
		return provider.NewAnthropicProvider(providerCfg.ResolvedAPIKey, model, provider.AnthropicCredAuto)
	}
}

// buildMCPManager loads mcp.json (if present) and connects every
// configured server. A server that fails to start is logged and
// skipped rather than failing the whole run.
func buildMCPManager(ctx context.Context) (*mcpbridge.Manager, error) {
	mcpCfg, err := mcpbridge.LoadConfig()
	if err != nil {
		return nil, err
	}
	manager := mcpbridge.NewManager(mcpCfg)
	for _, err := range manager.StartAll(ctx) {
		fmt.Fprintf(os.Stderr, "mcp: %v\n", err)
	}
	return manager, nil
}

func buildSandbox(cfg tconfig.SandboxConfig) (sandbox.Runtime, error) {
	switch cfg.Mode {
	case "container":
		return sandboxcontainer.New(cfg.ProjectPath, cfg.Image), nil
	case "vm":
		return sandboxvm.New(cfg.Instance, cfg.HostRoot, cfg.VMRoot), nil
	default:
		return nil, nil
	}
}

func promptForApproval(toolName, pattern, summary string) (tool.Outcome, error) {
	fmt.Fprintf(os.Stderr, "\nAllow %s %q? [y/N] ", toolName, summary)
	var response string
	fmt.Fscanln(os.Stdin, &response)
	response = strings.ToLower(strings.TrimSpace(response))
	if response == "y" || response == "yes" {
		return tool.Allow, nil
	}
	return tool.Deny, nil
}

func truncateTitle(s string) string {
	const maxLen = 60
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
