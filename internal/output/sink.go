package output

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/maxvaer/apihunter/internal/logging"
	"github.com/maxvaer/apihunter/internal/probe"
)

// SinkObserver counts records per sink. A nil *metrics.Collector satisfies it.
type SinkObserver interface {
	ObserveSinkRecord(sink string, ok bool)
}

// Sink persists outcomes in the background. Senders block once its buffer
// is full, so a slow disk slows the producers instead of growing memory.
type Sink struct {
	name     string
	w        Writer
	ch       chan *probe.Outcome
	done     chan struct{}
	logger   *slog.Logger
	observer SinkObserver

	closeOnce sync.Once
	written   atomic.Int64
	failed    atomic.Int64
}

// StartSink starts a sink draining into w. capacity bounds the buffer.
func StartSink(name string, w Writer, capacity int, logger *slog.Logger, observer SinkObserver) *Sink {
	s := &Sink{
		name:     name,
		w:        w,
		ch:       make(chan *probe.Outcome, max(capacity, 1)),
		done:     make(chan struct{}),
		logger:   logging.OrDefault(logger),
		observer: observer,
	}
	go s.run()
	return s
}

// Name returns the sink name used in logs and metrics.
func (s *Sink) Name() string { return s.name }

// Capacity returns the size of the send buffer.
func (s *Sink) Capacity() int { return cap(s.ch) }

func (s *Sink) run() {
	defer close(s.done)
	for o := range s.ch {
		if err := s.w.WriteOutcome(o); err != nil {
			s.failed.Add(1)
			s.logger.Error("sink write failed",
				slog.String("sink", s.name),
				slog.String("url", o.OrigURL),
				slog.String("error", err.Error()))
			s.observe(false)
		} else {
			s.written.Add(1)
			s.observe(true)
		}
		if len(s.ch) == 0 {
			s.flush()
		}
	}
	if err := s.w.Close(); err != nil {
		s.logger.Error("sink close failed", slog.String("sink", s.name), slog.String("error", err.Error()))
	}
}

func (s *Sink) flush() {
	if err := s.w.Flush(); err != nil {
		s.logger.Error("sink flush failed", slog.String("sink", s.name), slog.String("error", err.Error()))
	}
}

func (s *Sink) observe(ok bool) {
	if s.observer != nil {
		s.observer.ObserveSinkRecord(s.name, ok)
	}
}

// Send queues o, blocking while the buffer is full. It returns the
// context's error if ctx ends while waiting for space. Send must not be
// called after Close.
func (s *Sink) Send(ctx context.Context, o *probe.Outcome) error {
	// Free buffer space wins over an ended context.
	select {
	case s.ch <- o:
		return nil
	default:
	}
	select {
	case s.ch <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting outcomes. Buffered ones are still written.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Wait blocks until the sink has drained, flushed and closed its writer,
// or ctx ends.
func (s *Sink) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written returns the number of outcomes persisted.
func (s *Sink) Written() int64 { return s.written.Load() }

// Failed returns the number of outcomes that could not be written.
func (s *Sink) Failed() int64 { return s.failed.Load() }

// Fanout delivers every outcome to each sink as an independent copy.
type Fanout []*Sink

// Send clones o for each sink. It stops at the first context error.
func (f Fanout) Send(ctx context.Context, o *probe.Outcome) error {
	for _, s := range f {
		if err := s.Send(ctx, o.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink.
func (f Fanout) Close() {
	for _, s := range f {
		s.Close()
	}
}

// Wait waits for every sink to finish or ctx to end.
func (f Fanout) Wait(ctx context.Context) error {
	var errs []error
	for _, s := range f {
		if err := s.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
