// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olivere/jobconsole"
	"github.com/olivere/jobconsole/local"
	"github.com/olivere/jobconsole/mongodb"
	"github.com/olivere/jobconsole/redis"
	"github.com/olivere/jobconsole/sqlstore"
)

// app holds what the commands share. It is populated by open before any
// command runs.
type app struct {
	cfg       jobconsole.Config
	storeType string
	control   string
	debug     bool

	logger   *zap.Logger
	st       jobconsole.Store
	closer   io.Closer
	registry *jobconsole.Registry
	console  *jobconsole.Console

	// newStore replaces store selection in tests.
	newStore func() (jobconsole.Store, error)
}

func newRootCmd(cfg jobconsole.Config) *cobra.Command {
	return newApp(cfg).command()
}

func newApp(cfg jobconsole.Config) *app {
	return &app{cfg: cfg, storeType: "redis", control: "store"}
}

func (a *app) command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jobconsole",
		Short:         "Administer and run a Resque-compatible job system",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&a.storeType, "store", a.storeType, "store backend: memory, redis, mysql, sqlite or mongodb")
	f.StringVar(&a.control, "control", a.control, "how processes are controlled: store or local")
	f.StringVar(&a.cfg.Namespace, "namespace", a.cfg.Namespace, "key prefix")
	f.StringVar(&a.cfg.Env, "env", a.cfg.Env, "development or production")
	f.StringVar(&a.cfg.RedisURL, "redis-url", a.cfg.RedisURL, "Redis URL")
	f.StringVar(&a.cfg.SQLDSN, "sql-dsn", a.cfg.SQLDSN, "MySQL DSN or SQLite file name")
	f.StringVar(&a.cfg.MongoURL, "mongo-url", a.cfg.MongoURL, "MongoDB URL")
	f.StringVar(&a.cfg.Hostname, "hostname", a.cfg.Hostname, "host name used in worker identities")
	f.BoolVar(&a.debug, "debug", false, "log store statements")

	rootCmd.AddCommand(infoCmd(a))
	rootCmd.AddCommand(overviewCmd(a))
	rootCmd.AddCommand(queuesCmd(a))
	rootCmd.AddCommand(enqueueCmd(a))
	rootCmd.AddCommand(dequeueCmd(a))
	rootCmd.AddCommand(failuresCmd(a))
	rootCmd.AddCommand(workersCmd(a))
	rootCmd.AddCommand(statusesCmd(a))
	rootCmd.AddCommand(scheduleCmd(a))
	rootCmd.AddCommand(workCmd(a))
	rootCmd.AddCommand(cronCmd(a))
	rootCmd.AddCommand(serveCmd(a))

	return rootCmd
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func (a *app) open() error {
	logger, err := newLogger(a.cfg.Env)
	if err != nil {
		return err
	}
	a.logger = logger

	newStore := a.newStore
	if newStore == nil {
		newStore = a.openStore
	}
	st, err := newStore()
	if err != nil {
		return err
	}
	a.st = st
	if c, ok := st.(io.Closer); ok {
		a.closer = c
	}

	a.registry = builtinJobs(a.st, a.cfg)

	options := []jobconsole.ConsoleOption{
		jobconsole.SetStore(a.st),
		jobconsole.SetConfig(a.cfg),
		jobconsole.SetLogger(a.log()),
		jobconsole.SetResolver(a.registry),
	}
	switch a.control {
	case "store", "":
	case "local":
		options = append(options,
			jobconsole.SetWorkerControl(local.NewSignalControl(a.cfg, local.SetLogger(a.log()))),
			jobconsole.SetSchedulerControl(local.NewCommandScheduler(a.st, a.cfg, local.SetLogger(a.log()))),
		)
	default:
		return fmt.Errorf("unknown control %q", a.control)
	}
	a.console = jobconsole.New(options...)
	return nil
}

func (a *app) openStore() (jobconsole.Store, error) {
	switch a.storeType {
	case "memory":
		return jobconsole.NewInMemoryStore(), nil
	case "redis":
		return redis.NewStore(a.cfg.RedisURL)
	case "mysql":
		return sqlstore.NewStore(a.cfg.SQLDSN, a.sqlOptions()...)
	case "sqlite":
		dsn := a.cfg.SQLDSN
		if dsn == "" {
			dsn = "jobconsole.db"
		}
		return sqlstore.NewSQLiteStore(dsn, a.sqlOptions()...)
	case "mongodb":
		return mongodb.NewStore(a.cfg.MongoURL)
	default:
		return nil, fmt.Errorf("unknown store %q", a.storeType)
	}
}

func (a *app) sqlOptions() []sqlstore.StoreOption {
	return []sqlstore.StoreOption{
		sqlstore.SetDebug(a.debug),
		sqlstore.SetLogger(a.log()),
	}
}

func (a *app) close() error {
	var err error
	if a.closer != nil {
		err = a.closer.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

func (a *app) log() jobconsole.Logger {
	return jobconsole.ZapLogger(a.logger)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
