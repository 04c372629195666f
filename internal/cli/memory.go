package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cadre-oss/memchat/internal/app"
	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

var (
	memoryUser    string
	memoryID      string
	memoryContext string
	memoryLimit   int
	memoryJSON    bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit a user's memories",
	Long:  `Commands for reading and writing the long-term memories stored under ("memories", <user>).`,
}

var memoryPutCmd = &cobra.Command{
	Use:   "put <content>",
	Short: "Store a memory (replaces the memory with the same --id)",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryPut,
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <memory-id>",
	Short: "Show one memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryGet,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemorySearch,
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <memory-id>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryDelete,
}

func init() {
	memoryCmd.PersistentFlags().StringVarP(&memoryUser, "user", "u", "", "user id (default from config)")
	memoryCmd.PersistentFlags().BoolVar(&memoryJSON, "json", false, "output as JSON")

	memoryPutCmd.Flags().StringVar(&memoryID, "id", "", "memory id (default: new id)")
	memoryPutCmd.Flags().StringVarP(&memoryContext, "context", "c", "", "context the memory was learned in")
	memorySearchCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 10, "maximum results")

	memoryCmd.AddCommand(memoryPutCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
}

// memoryCommand opens only the memory store; no model client is needed.
func memoryCommand(fn func(ctx context.Context, store *memory.Store, ns memory.Namespace, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		turn, err := cfg.Resolve(config.Overrides{UserID: memoryUser})
		if err != nil {
			return err
		}
		ns, err := memory.UserNamespace(turn.UserID)
		if err != nil {
			return err
		}

		logger, err := app.NewLogger(cfg, verbose)
		if err != nil {
			return err
		}
		defer logger.Close()

		store, release, err := app.OpenMemory(cfg, logger, telemetry.NewMetrics())
		if err != nil {
			return err
		}
		defer release()
		defer store.Close()

		return fn(cmd.Context(), store, ns, cmd.OutOrStdout())
	}
}

func runMemoryPut(cmd *cobra.Command, args []string) error {
	return memoryCommand(func(ctx context.Context, store *memory.Store, ns memory.Namespace, out io.Writer) error {
		key := memoryID
		if key == "" {
			key = uuid.New().String()
		}
		rec, err := store.Put(ctx, ns, key, args[0], memoryContext)
		if err != nil {
			return err
		}
		if memoryJSON {
			return writeJSON(out, rec)
		}
		fmt.Fprintf(out, "Stored memory_id %s\n", rec.Key)
		return nil
	})(cmd, args)
}

func runMemoryGet(cmd *cobra.Command, args []string) error {
	return memoryCommand(func(ctx context.Context, store *memory.Store, ns memory.Namespace, out io.Writer) error {
		rec, err := store.Get(ctx, ns, args[0])
		if err != nil {
			return err
		}
		if memoryJSON {
			return writeJSON(out, rec)
		}
		printRecord(out, rec, nil)
		return nil
	})(cmd, args)
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	return memoryCommand(func(ctx context.Context, store *memory.Store, ns memory.Namespace, out io.Writer) error {
		hits, err := store.Search(ctx, ns, args[0], memoryLimit)
		if err != nil {
			return err
		}
		if memoryJSON {
			return writeJSON(out, hits)
		}
		if len(hits) == 0 {
			fmt.Fprintln(out, "No memories found.")
			return nil
		}
		for _, h := range hits {
			score := h.Score
			printRecord(out, h.Record, &score)
		}
		return nil
	})(cmd, args)
}

func runMemoryDelete(cmd *cobra.Command, args []string) error {
	return memoryCommand(func(ctx context.Context, store *memory.Store, ns memory.Namespace, out io.Writer) error {
		if err := store.Delete(ctx, ns, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted memory %s\n", args[0])
		return nil
	})(cmd, args)
}

func printRecord(out io.Writer, rec memory.Record, score *float64) {
	fmt.Fprintf(out, "%s", rec.Key)
	if score != nil {
		fmt.Fprintf(out, "  (similarity %.3f)", *score)
	}
	fmt.Fprintf(out, "\n  %s\n", rec.Content)
	if rec.Context != "" {
		fmt.Fprintf(out, "  context: %s\n", rec.Context)
	}
	fmt.Fprintf(out, "  updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
