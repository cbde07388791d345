// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olivere/jobconsole"
	"github.com/olivere/jobconsole/cronrunner"
	"github.com/olivere/jobconsole/local"
	"github.com/olivere/jobconsole/ui/server"
)

func workCmd(a *app) *cobra.Command {
	var (
		queues string
		poll   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Perform jobs from the given queues",
		Long: "Perform jobs from the given queues. Threads are separated by '#', the queues " +
			"of a thread by ','. QUEUES is used if --queues is not given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if queues == "" {
				queues = os.Getenv("QUEUES")
			}
			cfg := a.cfg
			if poll > 0 {
				cfg.WorkerPollInterval = poll
			}
			pool, err := jobconsole.NewPool(a.st, queues,
				jobconsole.SetWorkerConfig(cfg),
				jobconsole.SetWorkerLogger(a.log()),
				jobconsole.SetWorkerResolver(a.registry),
				jobconsole.SetWorkerProcessLister(local.PSLister{}),
			)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			stop := local.Notify(ctx, pool, a.log())
			defer stop()

			a.logger.Info("worker started",
				zap.String("queues", queues),
				zap.Int("threads", len(pool.Workers())),
				zap.Strings("classes", a.registry.Classes()))
			err = pool.Work(ctx)
			a.logger.Info("worker stopped", zap.Error(err))
			return err
		},
	}
	cmd.Flags().StringVarP(&queues, "queues", "q", "", "queue specification, e.g. high,low#mail")
	cmd.Flags().DurationVar(&poll, "poll", 0, "sleep between polls of empty queues")
	return cmd
}

func cronCmd(a *app) *cobra.Command {
	var (
		host      string
		aliases   string
		heartbeat time.Duration
	)
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Run the scheduler of this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" {
				host = a.cfg.Hostname
			}
			if host == "" {
				h, err := os.Hostname()
				if err != nil {
					return err
				}
				host = h
			}
			options := []cronrunner.Option{
				cronrunner.SetLogger(a.log()),
				cronrunner.SetHeartbeat(heartbeat),
			}
			if aliases != "" {
				options = append(options, cronrunner.SetAliases(strings.Split(aliases, ",")...))
			}
			r := cronrunner.New(
				a.console.Schedule(),
				jobconsole.NewStoreSchedulerControl(a.st, a.cfg),
				host,
				options...,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.logger.Info("scheduler started", zap.String("host", host))
			err := r.Run(ctx)
			a.logger.Info("scheduler stopped", zap.Error(err))
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "host name of this scheduler")
	cmd.Flags().StringVar(&aliases, "aliases", "", "other names or addresses of this host, comma-separated")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 30*time.Second, "heartbeat interval")
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	var (
		publicDir string
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.New(a.console,
				server.SetLogger(a.log()),
				server.SetInterval(interval),
				server.SetPublicDir(publicDir),
			)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.logger.Info("serving", zap.String("addr", a.cfg.HTTPAddr))
			err := srv.Serve(ctx, a.cfg.HTTPAddr)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&a.cfg.HTTPAddr, "addr", a.cfg.HTTPAddr, "listen address")
	cmd.Flags().StringVar(&publicDir, "public", "", "directory with the static web client")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "interval of state updates")
	return cmd
}
