package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/memchat/internal/app"
	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/mcp"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/telemetry"
	"github.com/cadre-oss/memchat/internal/tools"
)

var mcpUser string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the memory tools over MCP on stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing
upsert_memory, manage_memory, and search_memory for one user, so other
agents can share the same long-term memory.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVarP(&mcpUser, "user", "u", "", "user id owning the memories (default from config)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	turn, err := cfg.Resolve(config.Overrides{UserID: mcpUser})
	if err != nil {
		return err
	}
	ns, err := memory.UserNamespace(turn.UserID)
	if err != nil {
		return err
	}

	// stdout carries the protocol, so the logger stays on stderr.
	logger, err := app.NewLogger(cfg, verbose)
	if err != nil {
		return err
	}
	defer logger.Close()

	metrics := telemetry.NewMetrics()
	store, release, err := app.OpenMemory(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer release()
	defer store.Close()

	exec, err := tools.NewExecutor(store, ns, logger, metrics)
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(exec, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Serving memory tools over MCP", "namespace", ns.String())
	return srv.Run(ctx)
}
