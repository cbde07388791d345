// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"github.com/spf13/cobra"

	"github.com/olivere/jobconsole"
)

func statusesCmd(a *app) *cobra.Command {
	var start, end int64
	cmd := &cobra.Command{
		Use:   "statuses",
		Short: "List job statuses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.console.Statuses().List(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "index of the first status")
	cmd.Flags().Int64Var(&end, "end", 20, "index after the last status")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.console.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}

	kill := &cobra.Command{
		Use:   "kill ID",
		Short: "Kill the job of a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.console.KillStatus(cmd.Context(), args[0])
		},
	}

	remove := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.console.RemoveStatus(cmd.Context(), args[0])
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear [STATE...]",
		Short: "Remove statuses in the given states, or all statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			states := make([]jobconsole.State, 0, len(args))
			for _, s := range args {
				states = append(states, jobconsole.State(s))
			}
			n, err := a.console.ClearStatuses(cmd.Context(), states...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"count": n})
		},
	}

	var options string
	enqueue := &cobra.Command{
		Use:   "enqueue QUEUE CLASS",
		Short: "Enqueue a status job and print its id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]interface{}{}
			if options != "" {
				if v, ok := parseArgs([]string{options})[0].(map[string]interface{}); ok {
					opts = v
				}
			}
			id, err := a.console.Statuses().EnqueueWithStatus(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
		},
	}
	enqueue.Flags().StringVar(&options, "options", "", "options as a JSON object")

	cmd.AddCommand(show, kill, remove, clearCmd, enqueue)
	return cmd
}
