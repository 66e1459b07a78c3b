package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bibswap/swapchat/internal/api"
	"github.com/bibswap/swapchat/internal/config"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/bibswap/swapchat/internal/lock"
	"github.com/bibswap/swapchat/internal/session"
	"github.com/bibswap/swapchat/internal/share"
	"github.com/bibswap/swapchat/internal/tui/client"
)

func cmdStatus(ctx context.Context, e *env, _ *client.Client) error {
	info, err := lock.Inspect(e.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("inspect lock: %w", err)
	}
	if info == nil {
		if e.jsonOut {
			outputJSON(map[string]any{"running": false})
			return nil
		}
		fmt.Println("Daemon: not running")
		return nil
	}

	socket := info.Socket
	if socket == "" {
		socket = e.cfg.SocketPath()
	}
	c, err := client.New(socket, "", "")
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	st, err := c.API.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if e.jsonOut {
		outputJSON(map[string]any{"running": true, "lock": info, "status": st})
		return nil
	}
	fmt.Printf("Daemon:       PID %d, up since %s\n", info.PID, info.Started.Format(time.RFC3339))
	fmt.Printf("Socket:       %s\n", socket)
	if info.HTTPAddr != "" {
		fmt.Printf("HTTP:         %s\n", info.HTTPAddr)
	}
	fmt.Printf("State:        %s\n", st.State)
	if st.Reason != "" {
		fmt.Printf("Reason:       %s\n", st.Reason)
	}
	fmt.Printf("Translation:  %v\n", st.Translation)
	fmt.Printf("Subscribers:  %d\n", st.Subscribers)
	return nil
}

func cmdToken(_ context.Context, e *env, _ *client.Client) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	lang := fs.String("lang", "", "preferred language")
	save := fs.Bool("save", false, "store the token as client.token in the config file")
	if err := fs.Parse(e.args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	provider, err := session.NewProvider(e.cfg.Auth.JWTSecret, e.cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	language := *lang
	if language == "" {
		language = e.lang
	}
	token, err := provider.Issue(session.User{ID: fs.Arg(0), Name: *name, Language: language})
	if err != nil {
		return err
	}

	if *save {
		cfg, err := config.Load(e.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.Client.Token = token
		if language != "" {
			cfg.Client.Language = language
		}
		if err := config.Save(e.configPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	if e.jsonOut {
		outputJSON(map[string]any{"user_id": fs.Arg(0), "token": token, "saved": *save})
		return nil
	}
	fmt.Println(token)
	if *save {
		fmt.Fprintf(os.Stderr, "saved to %s\n", e.configPath)
	}
	return nil
}

func cmdInbox(ctx context.Context, e *env, c *client.Client) error {
	fs := flag.NewFlagSet("inbox", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum conversations")
	if err := fs.Parse(e.args); err != nil {
		return errUsage
	}
	entries, err := c.API.Inbox(ctx, *limit)
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(entries)
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, en := range entries {
		unread := ""
		if en.Unread > 0 {
			unread = fmt.Sprintf(" (%d unread)", en.Unread)
		}
		fmt.Printf("%-36s %-8s %-24s %s%s\n",
			en.Conversation.ID, en.State, clip(en.ListingTitle, 24), clip(en.LastMessage, 40), unread)
	}
	return nil
}

func cmdOpen(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) != 1 {
		return errUsage
	}
	snap, err := c.Open(ctx, e.args[0])
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(snap)
		return nil
	}
	fmt.Printf("Listing:  %s (%s)\n", snap.ListingTitle, snap.Conversation.ListingID)
	fmt.Printf("State:    %s\n", snap.ViewerState)
	if snap.BlockedByViewer {
		fmt.Println("Blocked:  by you")
	} else if snap.BlockedByOther {
		fmt.Println("Blocked:  by the other participant")
	}
	fmt.Println()
	for _, m := range snap.Messages {
		printMessage(m)
	}
	return nil
}

func cmdSend(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) < 2 {
		return errUsage
	}
	res, err := c.API.Send(ctx, e.args[0], strings.Join(e.args[1:], " "))
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(res)
		return nil
	}
	fmt.Printf("Sent %s\n", res.Message.ID)
	if res.Activated {
		fmt.Println("Conversation activated.")
	}
	return nil
}

func cmdSeen(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) != 1 {
		return errUsage
	}
	res, err := c.MarkSeen(ctx, e.args[0])
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(res)
		return nil
	}
	fmt.Printf("Marked %d read, cleared %d notifications\n", res.Marked, res.Cleared)
	return nil
}

func cmdBlock(ctx context.Context, e *env, c *client.Client) error {
	return conversationAction(e, "Blocked", func(id string) error { return c.API.Block(ctx, id) })
}

func cmdUnblock(ctx context.Context, e *env, c *client.Client) error {
	return conversationAction(e, "Unblocked", func(id string) error { return c.API.Unblock(ctx, id) })
}

func cmdDelete(ctx context.Context, e *env, c *client.Client) error {
	return conversationAction(e, "Deleted", func(id string) error { return c.API.Delete(ctx, id) })
}

func conversationAction(e *env, done string, fn func(id string) error) error {
	if len(e.args) != 1 {
		return errUsage
	}
	if err := fn(e.args[0]); err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(map[string]any{"conversation_id": e.args[0], "ok": true})
		return nil
	}
	fmt.Printf("%s %s\n", done, e.args[0])
	return nil
}

func cmdReport(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) < 2 {
		return errUsage
	}
	res, err := c.API.Report(ctx, e.args[0], strings.Join(e.args[1:], " "))
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(res)
		return nil
	}
	fmt.Printf("Report %s filed\n", res.ReportID)
	return nil
}

func cmdTranslate(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) < 1 || len(e.args) > 2 {
		return errUsage
	}
	lang := e.lang
	if len(e.args) == 2 {
		lang = e.args[1]
	}
	text, err := c.Translate(ctx, e.args[0], lang)
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(map[string]any{"message_id": e.args[0], "language": lang, "text": text})
		return nil
	}
	fmt.Println(text)
	return nil
}

func cmdStart(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) < 2 {
		return errUsage
	}
	res, err := c.API.StartConversation(ctx, e.args[0], strings.Join(e.args[1:], " "))
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(res)
		return nil
	}
	fmt.Printf("Conversation %s\n", res.Conversation.ID)
	fmt.Printf("Sent %s\n", res.Message.ID)
	return nil
}

func cmdInterest(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) != 1 {
		return errUsage
	}
	msg, err := c.API.RecordInterest(ctx, e.args[0])
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(msg)
		return nil
	}
	fmt.Printf("Interest recorded in conversation %s\n", msg.ConversationID)
	return nil
}

func cmdListing(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) == 0 || e.args[0] != "put" {
		return errUsage
	}
	fs := flag.NewFlagSet("listing put", flag.ContinueOnError)
	inactive := fs.Bool("inactive", false, "mark the listing inactive")
	if err := fs.Parse(e.args[1:]); err != nil {
		return errUsage
	}
	if fs.NArg() < 4 {
		return errUsage
	}
	kind := convo.ListingKind(fs.Arg(2))
	if kind != convo.KindRoom && kind != convo.KindBib {
		return fmt.Errorf("listing kind must be %q or %q", convo.KindRoom, convo.KindBib)
	}
	l := convo.Listing{
		ID:      fs.Arg(0),
		OwnerID: fs.Arg(1),
		Kind:    kind,
		Title:   strings.Join(fs.Args()[3:], " "),
		Active:  !*inactive,
	}
	if err := c.API.PutListing(ctx, l); err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(l)
		return nil
	}
	fmt.Printf("Listing %s saved\n", l.ID)
	return nil
}

func cmdResolve(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) != 1 {
		return errUsage
	}
	conv, err := c.API.Resolve(ctx, share.PublicID(e.cfg.ShareBaseURL, e.args[0]))
	if err != nil {
		return err
	}
	if e.jsonOut {
		outputJSON(conv)
		return nil
	}
	fmt.Println(conv.ID)
	return nil
}

func cmdShare(ctx context.Context, e *env, c *client.Client) error {
	fs := flag.NewFlagSet("share", flag.ContinueOnError)
	pngPath := fs.String("png", "", "write the QR code as PNG to this file")
	size := fs.Int("size", 256, "PNG size in pixels")
	if err := fs.Parse(e.args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	snap, err := c.Open(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	link, err := share.Link(e.cfg.ShareBaseURL, snap.Conversation.PublicID)
	if err != nil {
		return err
	}

	if *pngPath != "" {
		png, err := share.PNG(link, *size)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*pngPath, png, 0644); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
	}
	if e.jsonOut {
		outputJSON(map[string]any{"conversation_id": snap.Conversation.ID, "public_id": snap.Conversation.PublicID, "link": link})
		return nil
	}
	fmt.Println(link)
	if *pngPath == "" {
		qr, err := share.RenderQR(link, "  ")
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Print(qr)
	}
	return nil
}

func cmdWatch(ctx context.Context, e *env, c *client.Client) error {
	if len(e.args) != 1 {
		return errUsage
	}
	stream, err := c.API.Watch(ctx, e.args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for {
		ev, err := stream.Recv()
		if err != nil {
			return err
		}
		if e.jsonOut || ev.Kind == api.KindReady {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		switch {
		case ev.Message != nil:
			printMessage(*ev.Message)
		case ev.Receipt != nil:
			fmt.Printf("%s  %s  read by %s\n", ev.At.Local().Format("15:04:05"), ev.Kind, ev.Receipt.ReaderID)
		default:
			fmt.Printf("%s  %s  %s\n", ev.At.Local().Format("15:04:05"), ev.Kind, ev.ActorID)
		}
	}
}

func printMessage(m convo.Message) {
	text := m.Content
	if m.TranslatedContent != "" {
		text = fmt.Sprintf("%s  [%s: %s]", m.Content, m.TranslatedTo, m.TranslatedContent)
	}
	read := ""
	if m.ReadAt != nil {
		read = " ✓✓"
	}
	fmt.Printf("%s  %-12s %s%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), clip(m.SenderID, 12), text, read)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
