// telegatectl inspects a telegate database.
//
// With arguments it runs one command and exits. Without arguments it starts
// an interactive shell when stdin is a terminal, and otherwise reads one
// command per line from stdin.
//
// The database is opened read-only, so telegated must not be holding it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/logging"
	"github.com/xtxerr/telegate/internal/store"
)

func main() {
	dbPath := flag.String("db", config.DefaultDBPath, "database path")
	timeout := flag.Duration("timeout", time.Minute, "timeout for a command given as arguments")
	verbose := flag.Bool("v", false, "log store activity")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: telegatectl [-db path] [command [args...]]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logging.InitWithWriter(os.Stderr, level, logging.FormatText)

	cfg := store.DefaultConfig()
	cfg.DSN = *dbPath
	cfg.ReadOnly = true

	st, err := store.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telegatectl: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	c := &cli{store: st, out: os.Stdout}

	switch {
	case flag.NArg() > 0:
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		if err := c.exec(ctx, strings.Join(flag.Args(), " ")); err != nil && err != errExit {
			fmt.Fprintf(os.Stderr, "telegatectl: %v\n", err)
			st.Close()
			os.Exit(1)
		}

	case isTerminal(os.Stdin):
		var ids []string
		if devices, err := st.ListDevices(context.Background()); err == nil {
			for _, d := range devices {
				ids = append(ids, d.DeviceID)
			}
		}
		fmt.Printf("telegatectl on %s (type help)\n", *dbPath)
		c.shell(context.Background(), ids)

	default:
		if err := c.batch(context.Background(), os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "telegatectl: %v\n", err)
			st.Close()
			os.Exit(1)
		}
	}
}
