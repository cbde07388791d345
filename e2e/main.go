// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Command e2e puts load on a job system: it enqueues random jobs, runs a
// worker pool that performs them with a configurable failure rate, and
// prints the counters until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olivere/jobconsole"
	"github.com/olivere/jobconsole/redis"
	"github.com/olivere/jobconsole/sqlstore"
)

func main() {
	const (
		exampleDBURL = "root@tcp(127.0.0.1:3306)/jobconsole_e2e?loc=UTC&parseTime=true"
	)
	var (
		threads         = flag.Int("c", 2, "number of worker threads")
		fillTime        = flag.Duration("fill-time", 5*time.Second, "interval in which new jobs get added")
		runTime         = flag.Duration("run-time", 7*time.Second, "maximum run time of a single job")
		logInterval     = flag.Duration("log-interval", 1*time.Second, "log interval for stats")
		statusRate      = flag.Float64("status-rate", 0.2, "share of jobs enqueued as status jobs in [0.0,1.0]")
		redisURL        = flag.String("redis-url", "", "Redis URL for persistent storage, e.g. redis://localhost:6379/0")
		dburl           = flag.String("dburl", "", "MySQL dsn for persistent storage, e.g. "+exampleDBURL)
		dbdebug         = flag.Bool("dbdebug", false, "Enabled debug output for DB store")
		queuesList      = flag.String("queues", "a,b,c", "comma-separated list of queues")
		failureRate     = flag.Float64("failure-rate", 0.05, "failure rate in the interval [0.0,1.0]")
		shutdownTimeout = flag.Duration("shutdown-timeout", -1*time.Second, "timeout to wait after shutdown (negative to wait forever)")
	)
	flag.Parse()

	if *threads <= 0 {
		log.Fatal("c must be greater than 0")
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rand.Seed(time.Now().UnixNano())

	cfg := jobconsole.DefaultConfig()
	cfg.Namespace = "e2e:"
	cfg.WorkerPollInterval = 100 * time.Millisecond
	cfg.PausePollInterval = time.Second

	// Initialize the store
	var st jobconsole.Store = jobconsole.NewInMemoryStore()
	switch {
	case *redisURL != "":
		store, err := redis.NewStore(*redisURL)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
		st = store
	case *dburl != "":
		var dboptions []sqlstore.StoreOption
		if *dbdebug {
			dboptions = append(dboptions, sqlstore.SetDebug(true))
		}
		store, err := sqlstore.NewStore(*dburl, dboptions...)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
		st = store
	}

	// Register a processor per queue
	queues := strings.SplitN(*queuesList, ",", -1)
	registry := jobconsole.NewRegistry()
	statuses := jobconsole.NewStatuses(st, cfg)
	for _, queue := range queues {
		err := registry.Register(&jobconsole.JobType{
			Class:     className(queue),
			Queue:     queue,
			Processor: makeProcessor(*failureRate, *runTime),
		})
		if err != nil {
			log.Fatal(err)
		}
		err = registry.Register(statuses.JobType(statusClassName(queue), queue,
			makeStatusProcessor(*failureRate, *runTime), jobconsole.StatusHooks{}))
		if err != nil {
			log.Fatal(err)
		}
	}
	c := jobconsole.New(
		jobconsole.SetStore(st),
		jobconsole.SetConfig(cfg),
		jobconsole.SetResolver(registry),
	)

	// Every thread works on all queues
	spec := strings.TrimSuffix(strings.Repeat(*queuesList+"#", *threads), "#")
	pool, err := jobconsole.NewPool(st, spec,
		jobconsole.SetWorkerConfig(cfg),
		jobconsole.SetWorkerResolver(registry),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 2)

	// Start the workers
	go func() {
		errc <- pool.Work(ctx)
	}()

	// Enqueue jobs
	go func() {
		errc <- enqueuer(ctx, c, queues, *fillTime, *statusRate)
	}()

	// Print stats
	go logger(ctx, c, *logInterval)

	// Wait for e.g. Ctrl+C
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigc:
		log.Printf("signal %v", fmt.Sprint(sig))
	case err := <-errc:
		if err != nil {
			log.Fatal(err)
		}
		cancel()
	}

	pool.Shutdown()
	if *shutdownTimeout >= 0 {
		time.AfterFunc(*shutdownTimeout, cancel)
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
	log.Print("exiting")
}

func className(queue string) string {
	return "Job" + strings.ToUpper(queue)
}

func statusClassName(queue string) string {
	return "StatusJob" + strings.ToUpper(queue)
}

func enqueuer(ctx context.Context, c *jobconsole.Console, queues []string, fillTime time.Duration, statusRate float64) error {
	var cnt int

	fillTimeNanos := fillTime.Nanoseconds()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(rand.Int63n(fillTimeNanos)) * time.Nanosecond):
		}
		queue := queues[rand.Intn(len(queues))]
		cnt++
		cid := fmt.Sprintf("#%05d", cnt)
		var err error
		if rand.Float64() < statusRate {
			_, err = c.Statuses().EnqueueWithStatus(ctx, queue, statusClassName(queue), map[string]interface{}{"cid": cid})
		} else {
			err = c.Enqueue(ctx, queue, className(queue), cid)
		}
		if err != nil {
			return err
		}
	}
}

func logger(ctx context.Context, c *jobconsole.Console, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			info, err := c.Info(ctx)
			if err == nil {
				fmt.Printf("Pending=%6d Working=%6d Processed=%6d Failed=%6d\n",
					info.Pending,
					info.Working,
					info.Processed,
					info.Failed)
			}
		}
	}
}

func makeProcessor(failureRate float64, runTime time.Duration) jobconsole.Processor {
	runTimeNanos := runTime.Nanoseconds()
	return func(ctx context.Context, job *jobconsole.Job) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(runTimeNanos)) * time.Nanosecond):
		}
		if rand.Float64() < failureRate {
			return errors.New("processor failed")
		}
		return nil
	}
}

func makeStatusProcessor(failureRate float64, runTime time.Duration) jobconsole.StatusProcessor {
	const steps = 5
	step := runTime / steps
	return func(ctx context.Context, sj *jobconsole.StatusJob) error {
		for i := int64(0); i < steps; i++ {
			if err := sj.At(ctx, i, steps, fmt.Sprintf("Step %d of %d", i+1, steps)); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(rand.Int63n(int64(step) + 1))):
			}
		}
		if rand.Float64() < failureRate {
			return errors.New("status processor failed")
		}
		return nil
	}
}
