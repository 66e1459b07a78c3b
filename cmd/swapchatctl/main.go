package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bibswap/swapchat/internal/config"
	"github.com/bibswap/swapchat/internal/tui/client"
)

// env is what every subcommand receives.
type env struct {
	cfg        *config.Config
	configPath string
	jsonOut    bool
	token      string
	lang       string
	args       []string
}

type command struct {
	usage   string
	summary string
	// offline commands do not dial the daemon.
	offline bool
	run     func(ctx context.Context, e *env, c *client.Client) error
}

var errUsage = errors.New("usage")

var commands = map[string]command{
	"status":    {usage: "status", summary: "Show daemon lock and status", offline: true, run: cmdStatus},
	"token":     {usage: "token [--name N] [--lang L] [--save] <user-id>", summary: "Mint a bearer token with the configured secret", offline: true, run: cmdToken},
	"inbox":     {usage: "inbox [--limit N]", summary: "List your conversations", run: cmdInbox},
	"open":      {usage: "open <conversation-id>", summary: "Show a conversation", run: cmdOpen},
	"send":      {usage: "send <conversation-id> <text...>", summary: "Send a message", run: cmdSend},
	"seen":      {usage: "seen <conversation-id>", summary: "Mark inbound messages read", run: cmdSeen},
	"block":     {usage: "block <conversation-id>", summary: "Block the other participant", run: cmdBlock},
	"unblock":   {usage: "unblock <conversation-id>", summary: "Lift your block", run: cmdUnblock},
	"delete":    {usage: "delete <conversation-id>", summary: "Hide a conversation from your inbox", run: cmdDelete},
	"report":    {usage: "report <conversation-id> <reason...>", summary: "Report a conversation", run: cmdReport},
	"translate": {usage: "translate <message-id> [lang]", summary: "Translate a message", run: cmdTranslate},
	"start":     {usage: "start <listing-id> <text...>", summary: "Message a listing owner", run: cmdStart},
	"interest":  {usage: "interest <listing-id>", summary: "Tell a listing owner you are interested", run: cmdInterest},
	"listing":   {usage: "listing put [--inactive] <id> <owner-id> <room|bib> <title...>", summary: "Mirror a listing into the daemon", run: cmdListing},
	"resolve":   {usage: "resolve <public-id|link>", summary: "Find a conversation by its public id", run: cmdResolve},
	"share":     {usage: "share [--png file] <conversation-id>", summary: "Print the share link and QR code", run: cmdShare},
	"watch":     {usage: "watch <conversation-id>", summary: "Stream push events as JSON lines", run: cmdWatch},
}

var order = []string{
	"status", "token", "inbox", "open", "send", "seen", "block", "unblock", "delete",
	"report", "translate", "start", "interest", "listing", "resolve", "share", "watch",
}

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.swapchat/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	tokenFlag := flag.String("token", "", "bearer token (overrides client.token)")
	langFlag := flag.String("lang", "", "preferred language (overrides client.language)")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "call timeout (not applied to watch)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Resolve(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	e := &env{
		cfg:        cfg,
		configPath: configPath,
		jsonOut:    *jsonFlag,
		token:      cfg.Client.Token,
		lang:       cfg.Client.Language,
		args:       args[1:],
	}
	if *tokenFlag != "" {
		e.token = *tokenFlag
	}
	if *langFlag != "" {
		e.lang = *langFlag
	}

	ctx := context.Background()
	if args[0] != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeoutFlag)
		defer cancel()
	}

	var c *client.Client
	if !cmd.offline {
		c, err = client.New(cfg.SocketPath(), e.token, e.lang)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: cannot connect to daemon at %s: %v\n", cfg.SocketPath(), err)
			os.Exit(1)
		}
		defer func() { _ = c.Close() }()
	}

	if err := cmd.run(ctx, e, c); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "usage: swapchatctl %s\n", cmd.usage)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: swapchatctl [--config <path>] [--json] [--token <jwt>] [--lang <tag>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	for _, name := range order {
		c := commands[name]
		fmt.Fprintf(os.Stderr, "  %-62s %s\n", c.usage, c.summary)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
