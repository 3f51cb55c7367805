// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mediasyncd keeps a Plex/Jellyfin/Emby library in sync with a set of
// on-disk media directories: it watches the filesystem, runs scheduled
// full sweeps, and serves a dashboard over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/maruel/interrupt"
	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/config"
	"github.com/omniscan/mediasync/internal/engine"
	"github.com/omniscan/mediasync/internal/watch"
	"github.com/omniscan/mediasync/internal/web"
)

func setupLogging() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(log)
}

// ensureWebPassword generates and persists a dashboard password the first
// time the daemon runs without one configured, mirroring the Python
// source's one-time password generation in main().
func ensureWebPassword(cfg *config.Config, log *logrus.Entry) error {
	if cfg.WebPassword != "" {
		return nil
	}
	generated := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	if err := cfg.PersistWebPassword(generated); err != nil {
		return fmt.Errorf("persisting generated dashboard password: %w", err)
	}
	log.WithField("username", cfg.WebUsername).Warnf("generated dashboard password: %s (saved to %s)", generated, cfg.Path)
	return nil
}

// nextRunAt computes the next scheduled sweep time from start_time
// ("HH:MM", optional) and run_interval, matching the Python source's
// daily-at-a-fixed-time-or-every-interval scheduling.
func nextRunAt(now time.Time, startTime string, interval time.Duration) time.Time {
	if startTime == "" {
		return now.Add(interval)
	}
	parts := strings.SplitN(startTime, ":", 2)
	if len(parts) != 2 {
		return now.Add(interval)
	}
	hh, errH := strconv.Atoi(parts[0])
	mm, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil {
		return now.Add(interval)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// sweepLoop runs the scheduled full-sweep timer until ctx is cancelled.
func sweepLoop(ctx context.Context, e *engine.Engine, cfg *config.Config, log *logrus.Entry) {
	if cfg.RunOnStartup {
		runSweepOnce(ctx, e, log)
	}
	for {
		wait := nextRunAt(time.Now(), cfg.StartTime, cfg.RunInterval).Sub(time.Now())
		if wait < 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			runSweepOnce(ctx, e, log)
		}
	}
}

func runSweepOnce(ctx context.Context, e *engine.Engine, log *logrus.Entry) {
	stats, err := e.TriggerFullSweep(ctx)
	if err != nil {
		log.WithError(err).Warn("scheduled sweep did not complete cleanly")
		return
	}
	log.WithFields(logrus.Fields{
		"run_id":  stats.RunID,
		"scanned": stats.Scanned,
		"missing": stats.TotalMissing,
	}).Info("scheduled sweep complete")
}

func mainImpl() error {
	configPath := flag.String("config", "config.ini", "path to the ini configuration file")
	bind := flag.String("bind", "", "dashboard bind address, overrides config")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument")
	}

	log := setupLogging()
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.WebBind = *bind
	}
	if err := ensureWebPassword(cfg, log); err != nil {
		return err
	}

	color.Cyan("mediasyncd starting: %s backend, %d scan root(s)", cfg.ServerType, len(cfg.ScanDirectories))

	e, err := engine.New(cfg, log)
	if err != nil {
		return err
	}
	defer e.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	var watcher *watch.Watcher
	if cfg.Watch {
		watcher, err = watch.New(e, cfg.ScanDirectories, log.WithField("component", "watch"))
		if err != nil {
			return fmt.Errorf("starting filesystem watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("starting filesystem watcher: %w", err)
		}
		defer watcher.Close()
	}

	srv, err := web.Start(cfg.WebBind, e, log.WithField("component", "web"))
	if err != nil {
		return fmt.Errorf("starting dashboard: %w", err)
	}
	defer srv.Close()
	color.Green("dashboard listening on %s", srv.Addr())

	go sweepLoop(ctx, e, cfg, log)

	interrupt.HandleCtrlC()
	<-interrupt.Channel
	log.Info("shutting down")
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "mediasyncd: %s\n", err)
		os.Exit(1)
	}
}
