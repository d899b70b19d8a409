// Command engramd is the local memory daemon: it tails Claude session
// transcripts, extracts durable episodes, consolidates them into curated
// Markdown and beliefs, and serves ranked recollections over a local
// socket.
//
// Usage:
//
//	engramd --config /path/to/engramd.yaml
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/engramd/engramd/internal/config"
	"github.com/engramd/engramd/internal/daemon"
	"github.com/engramd/engramd/internal/logging"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to a YAML config file (defaults layered over spec.md's Config.Default)")
	showPID := flag.Bool("status", false, "report whether a daemon is already running, then exit")
	flag.Parse()

	logging.Init(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DAEMON] config: %v\n", err)
		os.Exit(1)
	}

	if *showPID {
		running, pid := daemon.IsRunning(cfg.PIDFile())
		if running {
			fmt.Printf("engramd running, pid %d\n", pid)
			return
		}
		fmt.Println("engramd not running")
		os.Exit(1)
	}

	if running, pid := daemon.IsRunning(cfg.PIDFile()); running {
		fmt.Fprintf(os.Stderr, "[DAEMON] already running (pid %d), refusing to start a second instance\n", pid)
		os.Exit(1)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DAEMON] startup failed: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "[DAEMON] exited with error: %v\n", err)
		os.Exit(1)
	}
}
