package memory

import (
	"context"
	"log/slog"
	"time"
)

type sinkItem struct {
	userID string
	text   string
}

// sinkForwarder delivers appended memories to a remote Sink from a single
// background goroutine, in append order. A full queue drops the delivery so
// the append path never waits on the remote service.
type sinkForwarder struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
	queue   chan sinkItem
	done    chan struct{}
}

func newSinkForwarder(sink Sink, size int, timeout time.Duration, logger *slog.Logger) *sinkForwarder {
	f := &sinkForwarder{
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan sinkItem, size),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

// enqueue never blocks. Must not be called after close.
func (f *sinkForwarder) enqueue(userID, text string) {
	select {
	case f.queue <- sinkItem{userID: userID, text: text}:
	default:
		f.logger.Warn("memory: sink queue full, dropping delivery", "user", userID)
	}
}

func (f *sinkForwarder) run() {
	defer close(f.done)
	for item := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.sink.Add(ctx, item.text, item.userID); err != nil {
			f.logger.Warn("memory: remote sink add failed", "user", item.userID, "err", err)
		}
		cancel()
	}
}

// close drains the queue and waits for the goroutine to exit.
func (f *sinkForwarder) close() {
	close(f.queue)
	<-f.done
}
