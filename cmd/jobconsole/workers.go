// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/olivere/jobconsole"
)

func workersCmd(a *app) *cobra.Command {
	var working bool
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List registered worker threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				list []jobconsole.WorkerState
				err  error
			)
			if working {
				list, err = a.console.Workers().Working(cmd.Context())
			} else {
				list, err = a.console.Workers().States(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().BoolVar(&working, "working", false, "only workers busy with a job")

	show := &cobra.Command{
		Use:   "show WORKER",
		Short: "Print the state of a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.console.FindWorker(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ws)
		},
	}

	control := func(use, short string, fn func(ctx context.Context, worker string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " WORKER",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return fn(cmd.Context(), args[0])
			},
		}
	}

	var req jobconsole.StartRequest
	var hosts string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a worker process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hosts != "" {
				req.Hosts = strings.Split(hosts, ",")
			}
			return a.console.StartWorker(cmd.Context(), req)
		},
	}
	start.Flags().StringVar(&req.Queues, "queues", "", "queue specification, e.g. high,low#mail")
	start.Flags().StringVar(&req.Path, "path", "", "application path of the worker")
	start.Flags().StringVar(&hosts, "hosts", "", "comma-separated hosts, empty for this host")

	cmd.AddCommand(
		show,
		control("pause", "Pause a worker", func(ctx context.Context, w string) error {
			return a.console.PauseWorker(ctx, w)
		}),
		control("continue", "Continue a paused worker", func(ctx context.Context, w string) error {
			return a.console.ContinueWorker(ctx, w)
		}),
		control("quit", "Quit a worker after its current job", func(ctx context.Context, w string) error {
			return a.console.QuitWorker(ctx, w)
		}),
		control("restart", "Quit a worker and start it again", func(ctx context.Context, w string) error {
			return a.console.RestartWorker(ctx, w)
		}),
		start,
	)
	return cmd
}
