// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/olivere/jobconsole"
)

func failuresCmd(a *app) *cobra.Command {
	var start, count int64
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List failed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.console.Failures().List(cmd.Context(), start, count)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "index of the first failure")
	cmd.Flags().Int64Var(&count, "count", 20, "number of failures")

	var filter jobconsole.FailureFilter
	filtered := func(use, short string, fn func(context.Context, jobconsole.FailureFilter) (int, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := fn(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"count": n})
			},
		}
		c.Flags().StringVar(&filter.Class, "class", "", "only failures of this class")
		c.Flags().StringVar(&filter.Exception, "exception", "", "only failures with this exception")
		return c
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Summarize failures by class, exception and age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.console.Failures().Summary(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	summary.Flags().StringVar(&filter.Class, "class", "", "only failures of this class")
	summary.Flags().StringVar(&filter.Exception, "exception", "", "only failures with this exception")

	clearStale := &cobra.Command{
		Use:   "clear-stale",
		Short: "Remove failures older than the stale failure age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.console.ClearStaleFailures(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"count": n})
		},
	}

	indexed := func(use, short string, fn func(context.Context, int64, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " INDEX FINGERPRINT",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				index, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return err
				}
				return fn(cmd.Context(), index, args[1])
			},
		}
	}

	cmd.AddCommand(
		summary,
		filtered("clear", "Remove failures", func(ctx context.Context, f jobconsole.FailureFilter) (int, error) {
			return a.console.ClearFailures(ctx, f)
		}),
		filtered("requeue", "Enqueue failures again and remove them", func(ctx context.Context, f jobconsole.FailureFilter) (int, error) {
			return a.console.RequeueFailures(ctx, f)
		}),
		filtered("retry", "Enqueue failures again and mark them retried", func(ctx context.Context, f jobconsole.FailureFilter) (int, error) {
			return a.console.RetryFailures(ctx, f)
		}),
		clearStale,
		indexed("remove", "Remove a single failure as listed", func(ctx context.Context, index int64, fp string) error {
			return a.console.RemoveFailure(ctx, index, fp)
		}),
		indexed("requeue-one", "Enqueue a single failure again and remove it", func(ctx context.Context, index int64, fp string) error {
			return a.console.RequeueFailure(ctx, index, fp)
		}),
	)
	return cmd
}
