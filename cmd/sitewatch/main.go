// Package main wires together the sitewatch service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/app"
	"github.com/veilletech/sitewatch/internal/config"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runOnce := flag.Bool("once", false, "Run one watch cycle and exit instead of serving")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build application failed: %v\n", err)
		os.Exit(1)
	}

	if *runOnce {
		os.Exit(runCycle(a))
	}

	if err := a.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}

// runCycle is the one-shot mode used by schedulers that prefer a process per
// cycle over a long-lived service.
func runCycle(a *app.App) int {
	result, err := a.Runner().Run(context.Background(), "")
	if err != nil {
		a.Logger().Error("cycle failed", zap.Error(err))
		_ = a.Close()
		return 1
	}
	a.Logger().Info("cycle complete",
		zap.String("cycle_id", result.CycleID),
		zap.Int("sites", result.Sites),
		zap.Int("discovered", result.Discovered),
		zap.Int("new_items", result.New),
		zap.Bool("notified", result.Notified),
	)
	_ = a.Close()
	return 0
}
