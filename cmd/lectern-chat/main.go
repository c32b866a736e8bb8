// ABOUTME: Terminal chat client for lectern direct messages
// ABOUTME: Drives a session over the gateway API and prints live messages as they arrive

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/2389/lectern/internal/chatview"
	"github.com/2389/lectern/internal/client"
	"github.com/2389/lectern/internal/directory"
	"github.com/2389/lectern/internal/session"
)

// getToken returns the bearer token from LECTERN_TOKEN or the token file
// written by `lectern-gateway token --save`.
func getToken() string {
	if token := os.Getenv("LECTERN_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "lectern", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func main() {
	server := pflag.StringP("server", "s", "http://localhost:8080", "gateway URL")
	token := pflag.StringP("token", "t", "", "bearer token (default $LECTERN_TOKEN or ~/.config/lectern/token)")
	history := pflag.Int("history", 50, "messages to load when opening a conversation")
	verbose := pflag.BoolP("verbose", "v", false, "log session activity to stderr")
	pflag.Parse()

	if *token == "" {
		*token = getToken()
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: no token; pass --token or run `lectern-gateway token --user <id> --save`")
		os.Exit(1)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *server, *token, *history, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

type chat struct {
	s   *session.Session
	out io.Writer

	mu      sync.Mutex
	printed map[string]bool // confirmed message ids already on screen
	listing []*directory.Entry
}

func run(ctx context.Context, server, token string, historyLimit int, logger *slog.Logger) error {
	c := client.New(server, token)
	s, err := session.New(ctx, c, session.Config{HistoryLimit: historyLimit}, logger)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return fmt.Errorf("the gateway rejected the token")
		}
		return err
	}

	feedErr := make(chan error, 1)
	go func() { feedErr <- s.Run(ctx) }()
	defer s.Wait()

	ch := &chat{s: s, out: os.Stdout, printed: make(map[string]bool)}
	fmt.Fprintf(ch.out, "lectern-chat connected to %s as %s\n", server, chatview.DisplayName(s.User()))
	fmt.Fprintln(ch.out, "Type /help for commands. Ctrl+C to quit.")
	fmt.Fprintln(ch.out)

	if _, err := s.Load(ctx); err != nil {
		chatview.Notice(ch.out, "Could not load conversations: %v", err)
	}
	ch.showList("")

	go ch.follow(ctx)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	var composer chatview.Composer
	for {
		ch.prompt(composer.Composing())

		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-feedErr:
			if err != nil {
				return fmt.Errorf("realtime feed: %w", err)
			}
			return nil
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line = <-lines:
		}

		if composer.Composing() && strings.TrimSpace(line) == "/cancel" {
			composer.Reset()
			chatview.Notice(ch.out, "Draft discarded")
			continue
		}
		if !composer.Composing() && strings.HasPrefix(strings.TrimSpace(line), "/") {
			if quit := ch.command(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
			continue
		}

		msg, done := composer.Feed(line)
		if !done {
			continue
		}
		if strings.TrimSpace(msg) == "" {
			continue
		}
		ch.send(ctx, msg)
	}
}

func (ch *chat) prompt(continuing bool) {
	switch {
	case continuing:
		fmt.Fprint(ch.out, "... ")
	case ch.s.OpenConversationID() != "":
		e := ch.s.Conversation(ch.s.OpenConversationID())
		name := "?"
		if e != nil {
			name = chatview.DisplayName(e.Other)
		}
		fmt.Fprintf(ch.out, "[%s]> ", name)
	default:
		fmt.Fprint(ch.out, "> ")
	}
}

// command runs a slash command and reports whether to quit.
func (ch *chat) command(ctx context.Context, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		printHelp(ch.out)
	case "/list", "/ls":
		ch.showList("")
	case "/search", "/find":
		ch.showList(arg)
	case "/open", "/o":
		ch.open(ctx, arg)
	case "/new":
		if arg == "" {
			chatview.Notice(ch.out, "Usage: /new <user id>")
			break
		}
		entry, err := ch.s.StartConversation(ctx, arg)
		if err != nil {
			chatview.Notice(ch.out, "Could not start conversation: %v", err)
			break
		}
		ch.showThread(entry)
	case "/close":
		ch.s.Close()
		ch.showList("")
	case "/refresh":
		if _, err := ch.s.Load(ctx); err != nil {
			chatview.Notice(ch.out, "Could not load conversations: %v", err)
		}
		ch.showList("")
	default:
		chatview.Notice(ch.out, "Unknown command %s (try /help)", cmd)
	}
	fmt.Fprintln(ch.out)
	return false
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  /list            Show conversations")
	fmt.Fprintln(w, "  /search <name>   Filter conversations by name")
	fmt.Fprintln(w, "  /open <n|name>   Open a conversation by list number or name")
	fmt.Fprintln(w, "  /new <user id>   Start a conversation with someone")
	fmt.Fprintln(w, "  /close           Leave the open conversation")
	fmt.Fprintln(w, "  /refresh         Reload conversations")
	fmt.Fprintln(w, "  /quit            Exit")
	fmt.Fprintln(w, "Anything else is sent to the open conversation. End a line with \\ to continue it,")
	fmt.Fprintln(w, "or type /cancel on a continuation line to discard the draft.")
}

func (ch *chat) showList(query string) {
	entries := chatview.FilterConversations(ch.s.Conversations(), query)

	ch.mu.Lock()
	ch.listing = entries
	ch.mu.Unlock()

	chatview.RenderList(ch.out, entries, time.Now())
}

// open resolves a list number or a name against the last listing.
func (ch *chat) open(ctx context.Context, arg string) {
	ch.mu.Lock()
	listing := ch.listing
	ch.mu.Unlock()

	var target *directory.Entry
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(listing) {
			target = listing[n-1]
		}
	} else if matches := chatview.FilterConversations(ch.s.Conversations(), arg); len(matches) == 1 {
		target = matches[0]
	} else if len(matches) > 1 {
		chatview.Notice(ch.out, "%d conversations match %q; be more specific", len(matches), arg)
		return
	}
	if target == nil {
		chatview.Notice(ch.out, "No conversation %q", arg)
		return
	}

	if err := ch.s.Open(ctx, target.Conversation.ID); err != nil {
		chatview.Notice(ch.out, "Could not load messages: %v", err)
	}
	ch.showThread(target)
}

func (ch *chat) showThread(entry *directory.Entry) {
	msgs := ch.s.Messages()

	ch.mu.Lock()
	for _, m := range msgs {
		if !ch.s.IsPending(m.ID) {
			ch.printed[m.ID] = true
		}
	}
	ch.mu.Unlock()

	fmt.Fprintf(ch.out, "--- %s ---\n", chatview.DisplayName(entry.Other))
	chatview.RenderThread(ch.out, msgs, ch.s.User().ID, entry.Other, ch.s.IsPending, time.Now())
}

func (ch *chat) send(ctx context.Context, content string) {
	if ch.s.OpenConversationID() == "" {
		chatview.Notice(ch.out, "Open a conversation first (/list, /open <n>)")
		return
	}

	// Sends run in the background so typing is never blocked on the network
	go func() {
		if _, err := ch.s.Send(ctx, content); err != nil {
			if errors.Is(err, session.ErrDuplicateSubmit) {
				return
			}
			chatview.Notice(ch.out, "\nMessage not sent: %v", err)
		}
	}()
}

// follow prints messages of the open conversation as they are confirmed,
// whether they came from this client or the other participant.
func (ch *chat) follow(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.s.Changed():
		}

		id := ch.s.OpenConversationID()
		if id == "" {
			continue
		}
		entry := ch.s.Conversation(id)
		if entry == nil {
			continue
		}

		var fresh bool
		for _, m := range ch.s.Messages() {
			if ch.s.IsPending(m.ID) {
				continue
			}
			ch.mu.Lock()
			seen := ch.printed[m.ID]
			ch.printed[m.ID] = true
			ch.mu.Unlock()
			if seen {
				continue
			}
			if !fresh {
				fmt.Fprintln(ch.out)
				fresh = true
			}
			chatview.RenderMessage(ch.out, m, ch.s.User().ID, entry.Other, false, time.Now())
		}
		if fresh {
			ch.prompt(false)
		}
	}
}
