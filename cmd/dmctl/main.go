package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Ae-Ti/BMN-sub000/internal/auth"
	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"github.com/Ae-Ti/BMN-sub000/internal/session"
	"github.com/Ae-Ti/BMN-sub000/internal/tui/client"
	"github.com/spf13/cobra"
)

type globals struct {
	session string
	json    bool
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "dmctl",
		Short:         "Control a running dmd session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.session, "session", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "per-call timeout")

	root.AddCommand(
		newStatusCmd(g),
		newConversationsCmd(g),
		newMessagesCmd(g),
		newSelectCmd(g),
		newOlderCmd(g),
		newSendCmd(g),
		newSearchCmd(g),
		newPeopleCmd(g),
		newOutboxCmd(g),
		newWatchCmd(g),
		newLoginCmd(g),
		newLogoutCmd(g),
		newSessionsCmd(),
	)
	return root
}

// connect dials the session daemon and returns a call context bounded by
// the global timeout.
func (g *globals) connect() (*client.Client, context.Context, context.CancelFunc, error) {
	name := session.Resolve(g.session)
	if err := session.ValidateName(name); err != nil {
		return nil, nil, nil, err
	}
	c, err := client.New(session.SocketPath(name))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	return c, ctx, func() {
		cancel()
		_ = c.Close()
	}, nil
}

// call wraps the connect/close boilerplate shared by every unary command.
func (g *globals) call(fn func(ctx context.Context, c *client.Client) (any, func(), error)) error {
	c, ctx, done, err := g.connect()
	if err != nil {
		return err
	}
	defer done()

	resp, human, err := fn(ctx, c)
	if err != nil {
		return err
	}
	if g.json {
		outputJSON(resp)
		return nil
	}
	human()
	return nil
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.GetSessionStatus(ctx)
				if err != nil {
					return nil, nil, err
				}
				return resp, func() {
					fmt.Printf("Session:        %s\n", resp.Session)
					fmt.Printf("State:          %s\n", resp.State)
					if resp.StatusMessage != "" {
						fmt.Printf("Message:        %s\n", resp.StatusMessage)
					}
					fmt.Printf("User:           %s\n", resp.Identity)
					fmt.Printf("Live:           %v\n", resp.LiveConnected)
					fmt.Printf("Uptime:         %s\n", time.Duration(resp.UptimeMs)*time.Millisecond)
					fmt.Printf("Correspondents: %d\n", resp.Correspondents)
					fmt.Printf("Conversations:  %d\n", resp.Conversations)
					fmt.Printf("Messages:       %d\n", resp.Messages)
					fmt.Printf("Unread:         %d\n", resp.TotalUnread)
					if resp.State == "AUTH_REQUIRED" {
						fmt.Println("\nAuth required. Run `dmctl login <token>` and restart dmd.")
					}
				}, nil
			})
		},
	}
}

func newConversationsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.ListConversations(ctx)
				if err != nil {
					return nil, nil, err
				}
				return resp, func() {
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "\tID\tNAME\tUNREAD\tLATEST")
					for _, conv := range resp.Conversations {
						marker := ""
						if conv.Selected {
							marker = "*"
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", marker, conv.ID, conv.DisplayName, conv.UnreadCount, preview(conv.LatestText, 40))
					}
					_ = w.Flush()
					fmt.Printf("\n%d unread\n", resp.TotalUnread)
				}, nil
			})
		},
	}
}

func newMessagesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation>",
		Short: "Print the loaded messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.ListMessages(ctx, args[0])
				if err != nil {
					return nil, nil, err
				}
				return resp, func() { printMessages(resp) }, nil
			})
		},
	}
}

func newSelectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "select <conversation>",
		Short: "Open a conversation, mark it read and load its newest page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.SelectConversation(ctx, args[0])
				if err != nil {
					return nil, nil, err
				}
				return resp, func() { printMessages(resp) }, nil
			})
		},
	}
}

func newOlderCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "older <conversation>",
		Short: "Load the next older page of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.LoadOlder(ctx, args[0])
				if err != nil {
					return nil, nil, err
				}
				return resp, func() { printMessages(resp) }, nil
			})
		},
	}
}

func newSendCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <text...>",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.SendText(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return nil, nil, err
				}
				return resp, func() {
					fmt.Printf("sent %s (%s)\n", resp.Message.ID, resp.Message.Delivery)
				}, nil
			})
		},
	}
}

func newSearchCmd(g *globals) *cobra.Command {
	var (
		conversation string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over messages seen this session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.SearchMessages(ctx, strings.Join(args, " "), conversation, limit)
				if err != nil {
					return nil, nil, err
				}
				return resp, func() {
					if len(resp.Results) == 0 {
						fmt.Println("No matches.")
						return
					}
					for _, h := range resp.Results {
						who := h.DisplayName
						if who == "" {
							who = h.ConversationKey
						}
						fmt.Printf("%s  %-16s %s\n", stamp(h.CreatedAtMs), who, h.Snippet)
					}
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&conversation, "in", "", "restrict to one conversation")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newPeopleCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "people [term]",
		Short: "Search the people you can message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.SearchCorrespondents(ctx, term, limit)
				if err != nil {
					return nil, nil, err
				}
				return resp, func() {
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tNICKNAME")
					for _, p := range resp.Correspondents {
						fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.DisplayName, p.Nickname)
					}
					_ = w.Flush()
				}, nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (0 = all)")
	return cmd
}

func newOutboxCmd(g *globals) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Show recent send attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.ListOutbox(ctx, status, limit)
				if err != nil {
					return nil, nil, err
				}
				return resp, func() {
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "CREATED\tTO\tSTATUS\tTEXT\tERROR")
					for _, e := range resp.Entries {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", stamp(e.CreatedAtMs), e.ConversationKey, e.Status, preview(e.Text, 30), e.Error)
					}
					_ = w.Flush()
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, sending, sent, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func newWatchCmd(g *globals) *cobra.Command {
	var prefixes []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := session.Resolve(g.session)
			c, err := client.New(session.SocketPath(name))
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			stream, err := c.WatchEvents(ctx, prefixes...)
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if err != nil {
					if errors.Is(err, io.EOF) || ctx.Err() != nil {
						return nil
					}
					return err
				}
				if g.json {
					outputJSON(evt)
					continue
				}
				fmt.Printf("%s  %-24s %s\n", stamp(evt.OccurredAtMs), evt.Kind, preview(string(evt.Payload), 100))
			}
		},
	}
	cmd.Flags().StringSliceVar(&prefixes, "prefix", nil, "event kind prefixes (default message., conversation., session.)")
	return cmd
}

func newLoginCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Store a bearer token for the session (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := session.Resolve(g.session)
			if err := session.ValidateName(name); err != nil {
				return err
			}
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				token = string(data)
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("empty token")
			}

			id, err := auth.ResolveIdentity(token)
			switch {
			case err != nil:
				fmt.Fprintf(os.Stderr, "warning: %v; set auth.user in config.toml\n", err)
			case id.Expired(time.Now()):
				return fmt.Errorf("token for %s expired at %s", id.UserID, id.ExpiresAt.Format(time.RFC3339))
			}

			if err := session.EnsureDir(name); err != nil {
				return err
			}
			if err := auth.SaveToken(session.TokenPath(name), token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			if id.UserID != "" {
				fmt.Printf("Token saved for %s.\n", id.UserID)
			} else {
				fmt.Println("Token saved.")
			}
			if _, err := os.Stat(session.SocketPath(name)); err == nil {
				fmt.Println("Restart dmd for the session to pick it up.")
			}
			return nil
		},
	}
}

func newLogoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the session and drop its cached state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.call(func(ctx context.Context, c *client.Client) (any, func(), error) {
				resp, err := c.Logout(ctx)
				if err != nil {
					return nil, nil, err
				}
				return resp, func() { fmt.Println(resp.Message) }, nil
			})
		},
	}
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := session.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			for _, n := range names {
				state := "stopped"
				if _, err := os.Stat(session.SocketPath(n)); err == nil {
					state = "running"
				}
				fmt.Printf("%-20s %s (%s)\n", n, session.Dir(n), state)
			}
			return nil
		},
	}
}

func printMessages(resp *rpc.MessagesResponse) {
	for _, m := range resp.Messages {
		who := resp.Conversation
		if m.FromMe {
			who = "me"
		}
		suffix := ""
		if m.Delivery != "" && m.Delivery != "sent" {
			suffix = " [" + m.Delivery + "]"
		}
		fmt.Printf("%s  %-12s %s%s\n", stamp(m.CreatedAtMs), who, m.Text, suffix)
	}
	switch {
	case resp.Loading:
		fmt.Println("(loading older messages)")
	case resp.HasMore:
		fmt.Println("(older messages available)")
	}
}

func stamp(ms int64) string {
	if ms <= 0 {
		return "                "
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
