// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mediasyncctl is a small operator CLI for a running (or one-shot)
// mediasyncd configuration: inspect stuck files, force a scan, or print
// the resolved library sections.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/omniscan/mediasync/internal/config"
	"github.com/omniscan/mediasync/internal/engine"
)

var configPath string

func newEngine() (*engine.Engine, *config.Config, error) {
	log := logrus.NewEntry(logrus.New())
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}

func newListStuckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-stuck",
		Short: "list files that have exceeded their retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := newEngine()
			if err != nil {
				return err
			}
			defer e.Stop()
			entries, err := e.Stuck().ListStuck()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no stuck files")
				return nil
			}
			for _, se := range entries {
				fmt.Printf("%s  attempts=%d  last_seen=%s\n", se.Path, se.Attempts, se.LastSeen.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newClearStuckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-stuck",
		Short: "clear the stuck-file retry tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := newEngine()
			if err != nil {
				return err
			}
			defer e.Stop()
			return e.Stuck().ClearAll()
		},
	}
}

func newScanNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-now",
		Short: "trigger a synchronous full sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := newEngine()
			if err != nil {
				return err
			}
			defer e.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
			defer cancel()
			stats, err := e.TriggerFullSweep(ctx)
			if stats != nil {
				pretty.Println(stats)
			}
			return err
		},
	}
}

func newSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "print the library sections resolved from the remote server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := newEngine()
			if err != nil {
				return err
			}
			defer e.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := e.TriggerFullSweep(ctx); err != nil {
				logrus.WithError(err).Warn("sweep to populate sections did not complete cleanly")
			}
			pretty.Println(e.Sections())
			return nil
		},
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mediasyncctl",
		Short: "operator CLI for mediasyncd",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.ini", "path to the ini configuration file")
	root.AddCommand(newListStuckCmd(), newClearStuckCmd(), newScanNowCmd(), newSectionsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
