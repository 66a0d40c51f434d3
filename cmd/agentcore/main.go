// Package main is the CLI entry point for the agent runtime. It wires the
// Agent Executor (internal/agent.Runtime) and the Dynamic Scheduler
// (internal/scheduler.Scheduler) together behind a minimal cobra command,
// demonstrating the construction path internal/scheduler/types.go's
// AgentExecutor doc comment describes: the runtime, once a provider is
// supplied, satisfies the scheduler's executor contract directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/internal/agent"
	"github.com/agentcore/runtime/internal/agent/providers"
	"github.com/agentcore/runtime/internal/approval"
	"github.com/agentcore/runtime/internal/guard"
	"github.com/agentcore/runtime/internal/hooks"
	"github.com/agentcore/runtime/internal/idempotency"
	"github.com/agentcore/runtime/internal/memorystore"
	"github.com/agentcore/runtime/internal/rag"
	"github.com/agentcore/runtime/internal/reliability"
	"github.com/agentcore/runtime/internal/scheduler"
	"github.com/agentcore/runtime/internal/toolpolicy"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agentcore",
		Short:   "Run the agent executor and its job scheduler",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	cmd.AddCommand(buildServeCmd())
	return cmd
}

func buildServeCmd() *cobra.Command {
	var (
		provider   string
		apiKey     string
		model      string
		logLevel   string
		maxConcurr int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler loop against the configured LLM provider",
		Long: `Start the agent executor's scheduler loop.

The server constructs an internal/agent.Runtime wired to Guard, Hooks, the
Memory Store, RAG, the Tool Policy engine, the Approval Store, the
Idempotency Service, and the Circuit Breaker + Retry Executor, then hands
it to an internal/scheduler.Scheduler as its AgentExecutor. Graceful
shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				provider:      provider,
				apiKey:        apiKey,
				model:         model,
				logLevel:      logLevel,
				maxConcurrent: maxConcurr,
			})
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "anthropic", "LLM provider: anthropic or openai")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("AGENTCORE_API_KEY"), "API key for the selected provider")
	cmd.Flags().StringVar(&model, "model", "", "Default model override")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	cmd.Flags().IntVar(&maxConcurr, "max-concurrent", 8, "Maximum concurrent agent runs")

	return cmd
}

type serveOptions struct {
	provider      string
	apiKey        string
	model         string
	logLevel      string
	maxConcurrent int
}

func runServe(ctx context.Context, opts serveOptions) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(opts.logLevel)}))

	llmProvider, err := buildProvider(opts)
	if err != nil {
		return fmt.Errorf("building LLM provider: %w", err)
	}

	rt := agent.NewRuntime(llmProvider, agent.NewToolRegistry(), agent.DefaultRuntimeOptions())
	rt.SetLogger(logger)
	if opts.model != "" {
		rt.SetDefaultModel(opts.model)
	}

	rt.SetGuard(guard.New(
		guard.NewRateLimitStage(guard.DefaultRateLimitConfig()),
		guard.NewInputValidationStage(guard.DefaultInputValidationConfig()),
		guard.NewInjectionDetectionStage(guard.DefaultInjectionDetectionConfig()),
	))
	rt.SetHooks(hooks.NewRegistry(logger))
	rt.SetMemoryStore(memorystore.New(memorystore.DefaultConfig()))
	rt.SetApprovalStore(approval.New())
	rt.SetToolPolicy(toolpolicy.New(nil, nil, "", nil))
	rt.SetIdempotency(idempotency.New(idempotency.DefaultConfig()))
	rt.SetReliability(reliability.New(reliability.DefaultConfig("agent-tool-invocation")))
	rt.SetRetriever(rag.NewStore())
	rt.SetRAG(true, 5, false)
	rt.SetConcurrency(opts.maxConcurrent, 50*time.Millisecond, 2*time.Minute)

	sched := scheduler.New(
		scheduler.NewMemoryStore(),
		scheduler.NewMemoryExecutionStore(),
		scheduler.DefaultConfig(),
		scheduler.WithAgentExecutor(rt),
		scheduler.WithPersonaStore(scheduler.NewMemoryPersonaStore()),
		scheduler.WithLogger(logger),
	)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(runCtx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	logger.Info("agentcore scheduler started", "provider", llmProvider.Name())

	<-runCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sched.Stop(shutdownCtx)
}

func buildProvider(opts serveOptions) (agent.LLMProvider, error) {
	switch opts.provider {
	case "openai":
		return providers.NewOpenAIProvider(opts.apiKey), nil
	case "anthropic", "":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       opts.apiKey,
			DefaultModel: opts.model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.provider)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
