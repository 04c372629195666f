package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cadre-oss/memchat/internal/agent"
	"github.com/cadre-oss/memchat/internal/app"
	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/state"
)

var (
	chatUser   string
	chatThread string
	chatModel  string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the agent",
	Long: `Chat with the agent in the terminal. With a message argument a single
turn is run and the reply printed; without one an interactive session is
started. Type /exit to leave.

Examples:
  memchat chat --user alice
  memchat chat --user alice "What's my favorite color?"
  memchat chat --thread 3f2a... --model anthropic/claude-sonnet-4-20250514`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "user id owning the memories (default from config)")
	chatCmd.Flags().StringVarP(&chatThread, "thread", "t", "", "thread id to continue (default: new thread)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model as provider/name (default from config)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, app.Options{Verbose: verbose})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := &chatSession{
		service:  a.Service,
		userID:   chatUser,
		threadID: chatThread,
		model:    chatModel,
		out:      cmd.OutOrStdout(),
	}
	if s.threadID == "" {
		s.threadID = uuid.New().String()
	}

	if len(args) == 1 {
		return s.send(ctx, args[0])
	}
	fmt.Fprintf(s.out, "memchat thread %s (type /exit to quit)\n", s.threadID)
	return s.loop(ctx, os.Stdin)
}

// chatSession sends one user message per turn. Only the new message is
// sent; the service merges it onto the checkpointed thread.
type chatSession struct {
	service  *agent.Service
	userID   string
	threadID string
	model    string
	out      io.Writer
}

func (s *chatSession) send(ctx context.Context, text string) error {
	res, err := s.service.Chat(ctx, agent.ChatRequest{
		ThreadID: s.threadID,
		UserID:   s.userID,
		Model:    s.model,
		Messages: []state.Message{{Role: state.RoleUser, Content: text}},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, res.Reply)
	return nil
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		if err := s.send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Keep the session alive; the failed turn left the thread untouched.
			fmt.Fprintf(s.out, "error: %v\n", err)
			if sug := memErrors.Suggestion(err); sug != "" {
				fmt.Fprintf(s.out, "  → %s\n", sug)
			}
		}
	}
}
