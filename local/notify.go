// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package local

import (
	"context"
	"os"
	"os/signal"

	"github.com/olivere/jobconsole"
)

// Controllable is implemented by jobconsole.Worker and jobconsole.Pool.
type Controllable interface {
	Pause(ctx context.Context) error
	Continue(ctx context.Context) error
	Shutdown()
}

// Notify applies the signals sent by SignalControl to c until ctx is
// done or the returned stop function is called. Any shutdown signal
// lets the current job finish.
func Notify(ctx context.Context, c Controllable, logger jobconsole.Logger) (stop func()) {
	sigs := append([]os.Signal{}, shutdownSignals...)
	if sigPause != nil {
		sigs = append(sigs, sigPause, sigContinue)
	}
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, sigs...)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				var err error
				switch sig {
				case sigPause:
					err = c.Pause(ctx)
				case sigContinue:
					err = c.Continue(ctx)
				default:
					logger.Printf("local: received %v, shutting down after the current job", sig)
					c.Shutdown()
				}
				if err != nil {
					logger.Printf("local: handling %v: %v", sig, err)
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
