package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bibswap/swapchat/internal/config"
	"github.com/bibswap/swapchat/internal/logging"
	"github.com/bibswap/swapchat/internal/session"
	"github.com/bibswap/swapchat/internal/tui"
	"github.com/bibswap/swapchat/internal/tui/client"
)

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.swapchat/config.toml)")
	tokenFlag := flag.String("token", "", "bearer token (overrides client.token)")
	langFlag := flag.String("lang", "", "preferred language (overrides client.language)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Resolve(configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	token := cfg.Client.Token
	if *tokenFlag != "" {
		token = *tokenFlag
	}
	user, err := session.Peek(token)
	if err != nil {
		fatalf("no usable client token (%v); mint one with: swapchatctl token --save <user-id>", err)
	}
	lang := *langFlag
	if lang == "" {
		lang = cfg.Client.Language
	}
	if lang == "" {
		lang = user.Language
	}

	socketPath := cfg.SocketPath()

	// Probe daemon health; auto-start if needed.
	if !client.Probe(socketPath, 2*time.Second) {
		fmt.Fprintln(os.Stderr, "swapchatd not running, starting...")
		stderrPath := filepath.Join(cfg.LogDir(), "swapchatd.stderr")
		if err := startDaemon(configPath, stderrPath); err != nil {
			fatalf("failed to start daemon: %v", err)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fatalf("daemon did not become ready, see %s", stderrPath)
		}
	}

	logger, err := logging.NewFile(filepath.Join(cfg.LogDir(), "swapchattui.log"), cfg.LogLevel, "swapchattui")
	if err != nil {
		fatalf("open log: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	c, err := client.New(socketPath, token, lang)
	if err != nil {
		fatalf("connect to daemon: %v", err)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, tui.Options{
		ViewerID:     user.ID,
		ShareBaseURL: cfg.ShareBaseURL,
		MatchWindow:  cfg.Sync.MatchWindow,
		SendTimeout:  cfg.Sync.SendTimeout,
		Logger:       logger,
	})
	if err := app.Run(); err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// startDaemon runs swapchatd from next to this binary, falling back to PATH.
// The daemon's stderr goes to stderrPath so it never draws over the TUI.
func startDaemon(configPath, stderrPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "swapchatd")
	if _, err := os.Stat(daemon); err != nil {
		daemon = "swapchatd"
	}

	if err := os.MkdirAll(filepath.Dir(stderrPath), 0700); err != nil {
		return err
	}
	errFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = errFile.Close() }()

	cmd := exec.Command(daemon, "--config", configPath)
	cmd.Stderr = errFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real Status call (not just socket connect).
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.Probe(socketPath, time.Second) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
