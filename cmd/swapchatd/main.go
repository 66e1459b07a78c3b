package main

import (
	"flag"

	"github.com/bibswap/swapchat/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.swapchat/config.toml)")
	socketFlag := flag.String("socket", "", "unix socket path (overrides config)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag, SocketPath: *socketFlag}),
	)

	app.Run()
}
