// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings shared by all components of a process. It is
// built once at startup and passed to constructors; nothing modifies it
// afterwards.
type Config struct {
	// Namespace prefixes every store key. It defaults to "resque:".
	Namespace string
	// StatusExpiry is the time to live of status records and counters.
	// Zero keeps them forever.
	StatusExpiry time.Duration
	// PausePollInterval is how often a paused status job checks whether
	// its worker continued.
	PausePollInterval time.Duration
	// WorkerPollInterval is how long an idle worker sleeps before looking
	// for new jobs. Zero makes Work return once all queues are empty.
	WorkerPollInterval time.Duration
	// StaleFailureAge is the age after which ClearStale removes failures.
	StaleFailureAge time.Duration
	// ClearMode selects how the failure log removes records.
	ClearMode ClearMode

	Env        string // "development" or "production"
	RedisURL   string
	SQLDriver  string // "mysql" or "sqlite"
	SQLDSN     string
	MongoURL   string
	HTTPAddr   string
	Hostname   string // overrides os.Hostname in worker identities
	WorkerPath string // path component of worker identities

	// WorkerCommand and SchedulerCommand are command templates used by
	// the local controllers to start processes. See package local.
	WorkerCommand    string
	SchedulerCommand string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Namespace:          "resque:",
		PausePollInterval:  10 * time.Second,
		WorkerPollInterval: 5 * time.Second,
		StaleFailureAge:    7 * 24 * time.Hour,
		ClearMode:          ClearAuto,
		Env:                "development",
		RedisURL:           "redis://localhost:6379/0",
		SQLDriver:          "sqlite",
		HTTPAddr:           ":8080",
	}
}

// LoadConfig returns DefaultConfig overridden by JOBCONSOLE_* environment
// variables. Values that cannot be parsed are ignored.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.Namespace = getEnv("JOBCONSOLE_NAMESPACE", cfg.Namespace)
	cfg.StatusExpiry = getDuration("JOBCONSOLE_STATUS_EXPIRY", cfg.StatusExpiry)
	cfg.PausePollInterval = getDuration("JOBCONSOLE_PAUSE_POLL_INTERVAL", cfg.PausePollInterval)
	cfg.WorkerPollInterval = getDuration("JOBCONSOLE_WORKER_POLL_INTERVAL", cfg.WorkerPollInterval)
	cfg.StaleFailureAge = getDuration("JOBCONSOLE_STALE_FAILURE_AGE", cfg.StaleFailureAge)
	cfg.ClearMode = ParseClearMode(getEnv("JOBCONSOLE_CLEAR_MODE", cfg.ClearMode.String()))
	cfg.Env = getEnv("JOBCONSOLE_ENV", cfg.Env)
	cfg.RedisURL = getEnv("JOBCONSOLE_REDIS_URL", cfg.RedisURL)
	cfg.SQLDriver = getEnv("JOBCONSOLE_SQL_DRIVER", cfg.SQLDriver)
	cfg.SQLDSN = getEnv("JOBCONSOLE_SQL_DSN", cfg.SQLDSN)
	cfg.MongoURL = getEnv("JOBCONSOLE_MONGO_URL", cfg.MongoURL)
	cfg.HTTPAddr = getEnv("JOBCONSOLE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Hostname = getEnv("JOBCONSOLE_HOSTNAME", cfg.Hostname)
	cfg.WorkerPath = getEnv("JOBCONSOLE_WORKER_PATH", cfg.WorkerPath)
	cfg.WorkerCommand = getEnv("JOBCONSOLE_WORKER_COMMAND", cfg.WorkerCommand)
	cfg.SchedulerCommand = getEnv("JOBCONSOLE_SCHEDULER_COMMAND", cfg.SchedulerCommand)
	return cfg
}

// ParseClearMode parses "atomic", "best-effort", or "auto".
// Anything else yields ClearAuto.
func ParseClearMode(s string) ClearMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "atomic":
		return ClearAtomic
	case "best-effort", "besteffort", "best_effort":
		return ClearBestEffort
	default:
		return ClearAuto
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
