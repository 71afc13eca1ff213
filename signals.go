package jobrelay

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signals returns a channel that receives a value when the process should
// quit.
func signals() <-chan bool {
	quit := make(chan bool)

	go func() {
		sigs := make(chan os.Signal, 1)
		defer close(sigs)

		signal.Notify(sigs, syscall.SIGQUIT, syscall.SIGTERM, os.Interrupt)
		defer signal.Stop(sigs)

		<-sigs
		quit <- true
	}()

	return quit
}

// Run starts the queue and blocks until ctx is cancelled or a termination
// signal arrives, then shuts down. A convenience for processes whose whole
// job is consuming the queue.
func (q *Queue) Run(ctx context.Context, withMigration bool) error {
	if err := q.Start(ctx, withMigration); err != nil {
		return err
	}
	defer q.Shutdown()

	select {
	case <-ctx.Done():
		q.logger.Info("context cancelled, shutting down")
	case <-signals():
		q.logger.Info("received signal, shutting down")
	}
	return nil
}
