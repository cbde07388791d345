// Package jobconsole is the core of an administration console for
// Resque-style background job systems.
//
// All state lives in a Store with Redis semantics: named FIFO queues of
// JSON envelopes, the set of registered workers with the job each one is
// busy with, an append-only failure log, status records of long-running
// jobs, and the schedule of recurring jobs. Producers, workers, cron
// processes, and any number of consoles share the same keys, so every
// component can be restarted on its own. By default, an in memory store
// is used. There are persistent stores in the "redis", "sqlstore", and
// "mongodb" packages.
//
// Applications using jobconsole register job types with a Registry and
// run a Worker (or a Pool of them) over a queue specification like
// "high,low#mail": threads are separated by '#', the queues each thread
// polls in order by ','. Workers register themselves, record the job in
// flight, and move failed jobs into the failure log. A worker that dies
// mid-job is pruned by the next worker starting on the same host; its job
// becomes a DirtyExit failure.
//
// The Console is the administrative surface: it lists queues, workers,
// failures, and statuses, and it carries out commands such as requeuing
// or clearing failures, pausing, quitting, and restarting workers,
// killing status jobs, and editing the schedule. Requests to running
// processes go through a WorkerControl and a SchedulerControl. The
// default implementations signal through the store; the "local" package
// signals processes on this host.
//
// Status jobs report progress via StatusJob.Tick and StatusJob.At. Tick
// is also where a status job notices a kill request (it returns
// ErrKilled) or a paused worker (it blocks until the worker continues).
//
// Rewriting the failure log is atomic on stores implementing
// ListRewriter and best-effort otherwise; see ClearMode.
package jobconsole
