// Package jobrelay is a durable, multi-consumer work queue layered on
// PostgreSQL, meant to be embedded inside an application process as a
// library rather than run as a standalone server.
//
// Producers enqueue jobs tagged with a topic and a not-before time.
// Independent pollers — any number of them, across any number of
// processes sharing one database — claim due jobs exclusively through a
// single-statement FOR UPDATE SKIP LOCKED query, invoke the registered
// handler, and the job moves through its lifecycle until completion,
// failure, or deletion. A claimed job that is never transitioned out of
// the active state becomes claimable again once its lease
// (retryAfterSeconds) expires, which is what turns crashes into
// redeliveries instead of lost work: delivery is at-least-once.
//
// # Example
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"time"
//
//		"github.com/jobrelay/jobrelay"
//		"github.com/jobrelay/jobrelay/job"
//	)
//
//	func main() {
//		q, err := jobrelay.New(jobrelay.Config{
//			DatabaseURL: "postgres://localhost:5432/app",
//			Schema:      "billing_jobs",
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		q.OnError(func(err error) {
//			log.Println("queue error:", err)
//		})
//
//		ctx := context.Background()
//		q.ReceiveJobs(job.ReceiveConfig{
//			Topic:     "invoice",
//			MaxJobs:   50,
//			Heartbeat: 2 * time.Second,
//		}, func(j job.Job) {
//			// ... do the work ...
//			q.MoveJobToDone(ctx, j.ID, false)
//		})
//
//		if err := q.Start(ctx, true); err != nil {
//			log.Fatal(err)
//		}
//		defer q.Shutdown()
//
//		q.AddJob(ctx, "invoice", job.Config{
//			Data:            map[string]any{"invoiceID": 42},
//			RunAfterSeconds: 10,
//		})
//
//		select {}
//	}
//
// # Completion is explicit
//
// Handler invocation is fire-and-forget: the poller never waits for a
// handler, and the queue does not track handler completion. A handler
// signals the outcome itself via MoveJobToProcessing, MoveJobToDone,
// MoveJobToFailed, or DeleteJob. A handler that signals nothing leaves the
// job leased; the job is redelivered after its lease expires.
//
// # Failures are signals, not panics
//
// No public operation returns an error or panics. Rejected submissions,
// invalid subscriptions, and store failures produce sentinel return values
// ("", false, nil) and are fanned out to OnError subscribers, so a flaky
// database never takes the host process down with it.
//
// # Testing without Postgres
//
// The memstore package provides an in-memory store with the same claim
// semantics:
//
//	st := memstore.New()
//	q, _ := jobrelay.New(jobrelay.Config{}, jobrelay.WithStore(st))
package jobrelay
