package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"digestbot/internal/app"
	"digestbot/internal/pipeline"
)

func main() {
	var (
		cfgPath   = flag.String("config", "./config.yaml", "path to config file (yaml or json)")
		topics    = flag.String("topics", "", "comma-separated topics to deliver (default: general)")
		sources   = flag.String("providers", "", "comma-separated providers to fetch from (default: all)")
		exclude   = flag.String("exclude", "", "comma-separated providers to skip")
		proc      = flag.String("processor", "", "summarizer to use in summarize/batch mode")
		channels  = flag.String("channels", "", "comma-separated channels to deliver to (default: all)")
		limit     = flag.Int("limit", 0, "max items per provider (0 = no limit)")
		mode      = flag.String("mode", "summarize", "save-only | titles-only | titles-with-description | summarize")
		batch     = flag.Bool("batch", false, "process the stored backlog instead of fetching")
		window    = flag.Duration("window", 6*time.Hour, "backlog window for -batch")
		dryRun    = flag.Bool("dry-run", false, "compose messages but do not send")
		runDaemon = flag.Bool("daemon", false, "run the cron scheduler until terminated")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if *runDaemon {
		runAsDaemon(ctx, a)
		return
	}
	defer func() { _ = a.Close() }()

	var res pipeline.Result
	if *batch {
		res, err = a.RunBatch(ctx, pipeline.BatchOptions{
			Window:    *window,
			Processor: *proc,
			Channels:  splitList(*channels),
			Limit:     *limit,
			DryRun:    *dryRun,
		})
	} else {
		m, mErr := pipeline.ParseMode(*mode)
		if mErr != nil {
			fmt.Fprintln(os.Stderr, "fatal:", mErr)
			os.Exit(2)
		}
		res, err = a.RunOnce(ctx, pipeline.Options{
			Topics:         splitList(*topics),
			Sources:        splitList(*sources),
			ExcludeSources: splitList(*exclude),
			Channels:       splitList(*channels),
			Processor:      *proc,
			Limit:          *limit,
			Mode:           m,
			DryRun:         *dryRun,
		})
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
		os.Exit(1)
	}
	fmt.Printf("fetched=%d persisted=%d deduped=%d summarized=%d fallbacks=%d delivered=%d failed=%d\n",
		res.Fetched, res.Persisted, res.Deduped, res.Summarized, res.Fallbacks, res.Delivered, res.Failed)
}

func runAsDaemon(ctx context.Context, a *app.App) {
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Close()
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	// systemd watchdog, no-op when WatchdogSec is unset
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
