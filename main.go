package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"ctrhle/app"
	"ctrhle/internal/buildinfo"
	"ctrhle/internal/config"
)

func main() {
	var (
		cfgPath  string
		script   string
		level    string
		inMemory bool
		runFor   time.Duration
		version  bool
	)
	flag.StringVar(&cfgPath, "config", "", "YAML configuration file.")
	flag.StringVar(&script, "script", "", "Settings script applied at boot (set <key> <value> per line).")
	flag.StringVar(&level, "log", "", "Log level override (trace|debug|info|warning|error|critical).")
	flag.BoolVar(&inMemory, "in-memory", false, "Keep archives in memory.")
	flag.DurationVar(&runFor, "for", 0, "Stop after this long (0 = run until interrupted).")
	flag.BoolVar(&version, "version", false, "Print the build identifier and exit.")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.Short())
		return
	}

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if script != "" {
		cfg.Settings.Script = script
	}
	if level != "" {
		cfg.Log.Level = level
	}
	if inMemory {
		cfg.Archive.InMemory = true
	}

	sys, err := app.New(cfg, app.WithPanicLog(os.Stderr))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFor)
		defer cancel()
	}

	runErr := sys.Run(ctx)
	if err := sys.Shutdown(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}
