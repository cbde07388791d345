// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"github.com/spf13/cobra"

	"github.com/olivere/jobconsole"
)

func scheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "List recurring jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.console.Schedule().Map(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}

	var (
		e    jobconsole.ScheduleEntry
		argv []string
	)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a recurring job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e.Name = args[0]
			e.Args = parseArgs(argv)
			return a.console.AddScheduleEntry(cmd.Context(), e)
		},
	}
	add.Flags().StringVar(&e.Class, "class", "", "job class")
	add.Flags().StringVar(&e.Cron, "cron", "", "cron expression")
	add.Flags().StringVar(&e.IP, "ip", "", "host the job is scheduled on")
	add.Flags().StringVar(&e.Queue, "queue", "", "queue, defaults to the queue of the class")
	add.Flags().StringVar(&e.Description, "description", "", "description")
	add.Flags().StringArrayVar(&argv, "arg", nil, "job argument, decoded as JSON if possible (repeatable)")

	var host string
	remove := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a recurring job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.console.RemoveScheduleEntry(cmd.Context(), args[0], host)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"removed": removed})
		},
	}
	remove.Flags().StringVar(&host, "host", "", "host whose scheduler is restarted")

	trigger := &cobra.Command{
		Use:   "trigger NAME",
		Short: "Enqueue a recurring job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.console.TriggerScheduleEntry(cmd.Context(), args[0])
		},
	}

	start := &cobra.Command{
		Use:   "start HOST",
		Short: "Start the scheduler of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.console.StartScheduler(cmd.Context(), args[0])
		},
	}

	stop := &cobra.Command{
		Use:   "stop HOST",
		Short: "Stop the scheduler of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.console.StopScheduler(cmd.Context(), args[0])
		},
	}

	farm := &cobra.Command{
		Use:   "farm",
		Short: "Print the scheduler state of every scheduled host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.console.FarmStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}

	cmd.AddCommand(add, remove, trigger, start, stop, farm)
	return cmd
}
