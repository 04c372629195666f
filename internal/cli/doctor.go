package cli

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/memchat/internal/embedding"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check environment and dependencies",
	Long:  "Validate that the configuration, API key, embedder, and stores are usable.",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "memchat doctor: checking your environment")
	fmt.Fprintln(w)
	allOK := true
	fail := func(label, msg, hint string) {
		fmt.Fprintf(w, "  %-11s %s ✗\n", label+":", msg)
		if hint != "" {
			fmt.Fprintf(w, "    → %s\n", hint)
		}
		allOK = false
	}
	pass := func(label, msg string) {
		fmt.Fprintf(w, "  %-11s %s ✓\n", label+":", msg)
	}

	pass("Go version", runtime.Version())
	pass("Platform", runtime.GOOS+"/"+runtime.GOARCH)

	cfg, err := rawConfig()
	if err != nil {
		fail("Config", err.Error(), "Check memchat.yaml syntax")
		fmt.Fprintln(w, "\nSome checks failed. See above for details.")
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fail("Config", "INVALID", err.Error())
	} else {
		pass("Config", cfg.Name)
	}

	if key := cfg.Provider.APIKey; key != "" {
		pass("API key", fmt.Sprintf("set (***%s)", key[max(0, len(key)-4):]))
	} else {
		fail("API key", "NOT SET", "Set ANTHROPIC_API_KEY or provider.api_key in memchat.yaml")
	}

	emb, err := embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		fail("Embedder", err.Error(), "")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		vec, err := embedding.EmbedChecked(ctx, emb, "memchat doctor")
		cancel()
		if err != nil {
			fail("Embedder", err.Error(), "Check the embedding provider settings")
		} else {
			pass("Embedder", fmt.Sprintf("%s (%d dims)", cfg.Embedding.Provider, len(vec)))
		}
	}

	if backend, err := memory.Open(cfg.Memory.Driver, cfg.Memory.Path); err != nil {
		fail("Memory", err.Error(), "")
	} else {
		backend.Close()
		pass("Memory", describeStore(cfg.Memory.Driver, cfg.Memory.Path))
	}

	if mgr, err := state.NewManager(cfg.State.Driver, cfg.State.Path, 0, telemetry.NewNopLogger()); err != nil {
		fail("State DB", err.Error(), "")
	} else {
		mgr.Close()
		pass("State DB", describeStore(cfg.State.Driver, cfg.State.Path))
	}

	fmt.Fprintln(w)
	if allOK {
		fmt.Fprintln(w, "All checks passed!")
	} else {
		fmt.Fprintln(w, "Some checks failed. See above for details.")
	}
	return nil
}

func describeStore(driver, path string) string {
	if path == "" {
		return driver + " (in memory)"
	}
	return fmt.Sprintf("%s (%s)", driver, path)
}
