package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/bbsync/internal/config"
	"github.com/matheus3301/bbsync/internal/daemon"
	"github.com/matheus3301/bbsync/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	serverFlag := flag.String("server", "", "bridge server URL (overrides config)")
	passwordFlag := flag.String("password", "", "bridge server password (overrides config)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		cfg = &config.Config{}
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *passwordFlag != "" {
		cfg.Password = *passwordFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ServerURL:   cfg.ServerURL,
			Password:    cfg.Password,
		}),
	)

	app.Run()
}
