package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/wolfman30/chatrelay/cmd/mainconfig"
	"github.com/wolfman30/chatrelay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/chatrelay/internal/config"
	"github.com/wolfman30/chatrelay/internal/conversation"
	"github.com/wolfman30/chatrelay/pkg/logging"
)

func main() {
	sender := flag.String("sender", "local-user", "sender id used as the session key")
	mode := flag.String("mode", "", "override CONVERSATION_MODE (stateful|stateless)")
	flag.Parse()

	cfg := appconfig.Load()
	cfg.SessionBackend = "memory"
	cfg.SenderLock = "local"
	if *mode != "" {
		cfg.ConversationMode = strings.ToLower(*mode)
	}
	logger := logging.NewWithFormat(envOr("LOG_LEVEL", "warn"), "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger, mainconfig.Loader(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	fmt.Printf("chatrelay REPL (%s mode, sender %q). Commands: /history /reset /quit\n", rt.Orchestrator.Mode(), *sender)
	if err := run(ctx, rt.Orchestrator, rt.Sessions, *sender, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
}

type chatter interface {
	conversation.MessageHandler
	ResetSender(ctx context.Context, senderID string) error
}

// run reads one message per line and prints each reply. sessions may be nil
// in stateless mode.
func run(ctx context.Context, orch chatter, sessions *conversation.SessionStore, senderID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := orch.ResetSender(ctx, senderID); err != nil {
				fmt.Fprintf(out, "reset failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "(history cleared)")
			continue
		case "/history":
			printHistory(ctx, out, sessions, senderID)
			continue
		}

		reply, err := orch.HandleMessage(ctx, senderID, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}

func printHistory(ctx context.Context, out io.Writer, sessions *conversation.SessionStore, senderID string) {
	if sessions == nil {
		fmt.Fprintln(out, "(stateless mode keeps no history)")
		return
	}
	sess, err := sessions.Get(ctx, senderID)
	if err != nil {
		fmt.Fprintln(out, "(no history yet)")
		return
	}
	for i, turn := range sess.History {
		fmt.Fprintf(out, "%2d %-9s %s\n", i, turn.Role, turn.Content)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
