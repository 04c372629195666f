package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/memchat/internal/app"
)

var (
	threadsLimit int
	threadsJSON  bool
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List and inspect checkpointed threads",
	Args:  cobra.NoArgs,
	RunE:  runThreadsList,
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print the history of a thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsShow,
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsDelete,
}

func init() {
	threadsCmd.Flags().IntVarP(&threadsLimit, "limit", "n", 20, "maximum threads to list")
	threadsShowCmd.Flags().BoolVar(&threadsJSON, "json", false, "output as JSON")

	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
}

func runThreadsList(cmd *cobra.Command, args []string) error {
	a, err := appFromFlags()
	if err != nil {
		return err
	}
	defer a.Close()

	threads, err := a.Service.Threads(cmd.Context(), threadsLimit)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No threads.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "THREAD\tUSER\tMESSAGES\tUPDATED")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ThreadID, t.UserID, t.Messages, t.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runThreadsShow(cmd *cobra.Command, args []string) error {
	a, err := appFromFlags()
	if err != nil {
		return err
	}
	defer a.Close()

	cp, err := a.Service.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if threadsJSON {
		return writeJSON(out, cp)
	}
	for _, m := range cp.Messages {
		switch {
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(out, "[%s] call %s %s(%s)\n", m.Role, tc.ID, tc.Name, string(tc.Arguments))
			}
			if m.Content != "" {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			}
		case m.ToolCallID != "":
			fmt.Fprintf(out, "[%s %s] %s\n", m.Role, m.ToolCallID, m.Content)
		default:
			fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
		}
	}
	return nil
}

func runThreadsDelete(cmd *cobra.Command, args []string) error {
	a, err := appFromFlags()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.DeleteThread(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", args[0])
	return nil
}

// appFromFlags loads the config named by --config and wires the app.
func appFromFlags() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.Options{Verbose: verbose})
}
