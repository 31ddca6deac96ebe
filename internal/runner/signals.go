package runner

import (
	"context"
	"os"
)

// stageWatch owns the signal channel while an action stage runs. The first
// signal cancels the stage context; the supervisor reads the channel only
// after stop returns.
type stageWatch struct {
	cancel context.CancelFunc
	done   chan struct{}
	exited chan struct{}
	sig    os.Signal
}

func watchSignals(ctx context.Context, signals <-chan os.Signal) (context.Context, *stageWatch) {
	ctx, cancel := context.WithCancel(ctx)
	w := &stageWatch{cancel: cancel, done: make(chan struct{}), exited: make(chan struct{})}
	go func() {
		defer close(w.exited)
		select {
		case sig := <-signals:
			w.sig = sig
			cancel()
		case <-w.done:
		}
	}()
	return ctx, w
}

// stop ends the watch and returns the signal it consumed, if any.
func (w *stageWatch) stop() os.Signal {
	close(w.done)
	<-w.exited
	w.cancel()
	return w.sig
}
