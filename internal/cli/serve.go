package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/memchat/internal/app"
	"github.com/cadre-oss/memchat/internal/server"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memchat HTTP server",
	Long: `Start an HTTP server exposing chat turns (POST /chat, GET /ws),
thread history (/threads), metrics, and a server-sent event stream
(/events).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind to (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	a, err := app.New(cfg, app.Options{Verbose: verbose})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(cfg, a.Service, a.Bus, a.Metrics, a.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return srv.Start(ctx, addr)
}
