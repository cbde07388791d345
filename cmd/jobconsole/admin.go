// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/olivere/jobconsole"
)

func infoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the counters of the job system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.console.Info(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func overviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Print queues, busy workers, failures and recent statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ov, err := a.console.Overview(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ov)
		},
	}
}

func queuesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "List queues with their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.console.QueueSizes(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	var start, count int64
	peek := &cobra.Command{
		Use:   "peek QUEUE",
		Short: "Print jobs waiting in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.console.Queues().Peek(cmd.Context(), args[0], start, count)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	peek.Flags().Int64Var(&start, "start", 0, "index of the first job")
	peek.Flags().Int64Var(&count, "count", 20, "number of jobs")

	remove := &cobra.Command{
		Use:   "remove QUEUE",
		Short: "Remove a queue and all its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.console.Queues().RemoveQueue(cmd.Context(), args[0])
		},
	}

	removeJob := &cobra.Command{
		Use:   "remove-job QUEUE INDEX FINGERPRINT",
		Short: "Remove a single job as listed by peek",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			return a.console.RemoveJob(cmd.Context(), args[0], index, args[2])
		},
	}

	cmd.AddCommand(peek, remove, removeJob)
	return cmd
}

func enqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue QUEUE CLASS [ARG...]",
		Short: "Add a job to a queue",
		Long:  "Add a job to a queue. Arguments are decoded as JSON if possible and passed as strings otherwise.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.console.Enqueue(cmd.Context(), args[0], args[1], parseArgs(args[2:])...)
		},
	}
}

func dequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue QUEUE CLASS [ARG...]",
		Short: "Remove jobs of a class from a queue",
		Long:  "Remove jobs of a class from a queue. Without arguments all jobs of the class are removed.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				n   int
				err error
			)
			if len(args) == 2 {
				class := args[1]
				n, err = a.console.Queues().DequeueMatching(cmd.Context(), args[0], func(e jobconsole.Envelope) bool {
					return e.Class == class
				}, 0)
			} else {
				n, err = a.console.Dequeue(cmd.Context(), args[0], args[1], parseArgs(args[2:])...)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"removed": n})
		},
	}
}

// parseArgs decodes each argument as JSON, falling back to the string.
func parseArgs(args []string) []interface{} {
	values := make([]interface{}, 0, len(args))
	for _, s := range args {
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		values = append(values, v)
	}
	return values
}
