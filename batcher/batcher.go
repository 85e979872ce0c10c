// Package batcher implements the asynchronous sending pipeline: bounded
// producer queues per payload kind, a drain loop that cuts batches on size
// or time, a bounded pool of send workers, retry with backoff and jitter,
// drop-on-overflow and graceful shutdown. Nothing in this package ever
// blocks the caller's path: enqueue either buffers or drops.
package batcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/miniapm/miniapm-go/errevent"
	"github.com/miniapm/miniapm-go/exporter"
	"github.com/miniapm/miniapm-go/logger"
	"github.com/miniapm/miniapm-go/tracing"
	"github.com/miniapm/miniapm-go/transport"
)

// Kind names a payload queue.
type Kind string

// The two payload kinds the sender manages.
const (
	KindSpan  Kind = "span"
	KindError Kind = "error"
)

const (
	drainTick    = 100 * time.Millisecond
	joinTimeout  = 5 * time.Second
	flushTimeout = 5 * time.Second
	drainPoll    = 10 * time.Millisecond
)

// SpanExporter sends one span batch and reports the transport outcome.
// A nil result means exporting is disabled and the batch is discarded.
type SpanExporter interface {
	Export(spans []*tracing.Span) *transport.Result
}

// ErrorExporter sends a batch of error events one by one and reports the
// aggregate outcome. A nil result means exporting is disabled.
type ErrorExporter interface {
	ExportBatch(events []*errevent.Event) *exporter.BatchResult
}

// Config bounds the sender's queues and workers.
type Config struct {
	BatchSize          int
	FlushInterval      time.Duration
	MaxQueueSize       int
	MaxConcurrentSends int

	// BaseRetryDelay is the first retry backoff step. Defaults to 1 s.
	BaseRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10000
	}
	if c.MaxConcurrentSends <= 0 {
		c.MaxConcurrentSends = 4
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Second
	}
	return c
}

// batch is one unit of work for a send worker.
type batch struct {
	kind   Kind
	spans  []*tracing.Span
	errors []*errevent.Event
}

func (b batch) size() int {
	if b.kind == KindSpan {
		return len(b.spans)
	}
	return len(b.errors)
}

// Sender owns the queues, the drain loop and the worker pool. Create with
// New, then Start; it is safe for concurrent use from any number of
// producer goroutines.
type Sender struct {
	cfg     Config
	spanExp SpanExporter
	errExp  ErrorExporter
	log     logger.Logger

	startMu sync.Mutex
	started bool
	running atomic.Bool

	spanQueue chan *tracing.Span
	errQueue  chan *errevent.Event
	dispatch  chan batch

	stopCh    chan struct{}
	drainDone chan struct{}
	workerWG  sync.WaitGroup
	inFlight  atomic.Int64

	mu            sync.Mutex
	pendingSpans  []*tracing.Span
	pendingErrors []*errevent.Event
	lastSpanFlush time.Time
	lastErrFlush  time.Time

	stats statsCollector
}

// New creates a stopped Sender over the given exporters.
func New(cfg Config, spanExp SpanExporter, errExp ErrorExporter) *Sender {
	return &Sender{
		cfg:     cfg.withDefaults(),
		spanExp: spanExp,
		errExp:  errExp,
		log:     logger.Named("batcher"),
	}
}

// Start allocates the queues and spawns the drain loop and the send-worker
// pool. It is idempotent; a running sender is left untouched. The host is
// responsible for calling Stop before process exit so buffered telemetry is
// flushed.
func (s *Sender) Start() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.started {
		return
	}

	s.spanQueue = make(chan *tracing.Span, s.cfg.MaxQueueSize)
	s.errQueue = make(chan *errevent.Event, s.cfg.MaxQueueSize)
	s.dispatch = make(chan batch, s.cfg.MaxConcurrentSends*2)
	s.stopCh = make(chan struct{})
	s.drainDone = make(chan struct{})

	now := time.Now()
	s.mu.Lock()
	s.lastSpanFlush = now
	s.lastErrFlush = now
	s.mu.Unlock()

	go s.drainLoop()

	s.workerWG.Add(s.cfg.MaxConcurrentSends)
	for range s.cfg.MaxConcurrentSends {
		go s.worker()
	}

	s.started = true
	s.running.Store(true)
}

// EnqueueSpan queues a finished span for export. A full queue drops the
// span and counts it; a stopped sender ignores it.
func (s *Sender) EnqueueSpan(span *tracing.Span) {
	if !s.running.Load() || span == nil {
		return
	}

	select {
	case s.spanQueue <- span:
		s.stats.incEnqueued(KindSpan)
	default:
		s.stats.incDropped(KindSpan)
	}
}

// EnqueueError queues an error event for export under the same policy as
// EnqueueSpan.
func (s *Sender) EnqueueError(event *errevent.Event) {
	if !s.running.Load() || event == nil {
		return
	}

	select {
	case s.errQueue <- event:
		s.stats.incEnqueued(KindError)
	default:
		s.stats.incDropped(KindError)
	}
}

// drainLoop moves queued items into the pending buffers and cuts batches
// whenever a buffer is full or its flush interval elapsed.
func (s *Sender) drainLoop() {
	defer close(s.drainDone)

	ticker := time.NewTicker(drainTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.collect(s.cfg.BatchSize)
			s.dispatchFromLoop(s.cutDueBatches(false))
		}
	}
}

// collect non-blockingly pops items from the producer queues into the
// pending buffers, up to limit per kind (0 = unbounded).
func (s *Sender) collect(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

spans:
	for limit == 0 || len(s.pendingSpans) < limit {
		select {
		case span := <-s.spanQueue:
			s.pendingSpans = append(s.pendingSpans, span)
		default:
			break spans
		}
	}

errors:
	for limit == 0 || len(s.pendingErrors) < limit {
		select {
		case event := <-s.errQueue:
			s.pendingErrors = append(s.pendingErrors, event)
		default:
			break errors
		}
	}
}

// cutDueBatches snapshots and clears every pending buffer that is due:
// full, stale, or unconditionally when force is set. Buffers larger than
// the batch size (possible after a forced collect) are chunked.
func (s *Sender) cutDueBatches(force bool) []batch {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var batches []batch

	if len(s.pendingSpans) > 0 &&
		(force || len(s.pendingSpans) >= s.cfg.BatchSize || now.Sub(s.lastSpanFlush) >= s.cfg.FlushInterval) {
		for _, chunk := range lo.Chunk(s.pendingSpans, s.cfg.BatchSize) {
			batches = append(batches, batch{kind: KindSpan, spans: chunk})
		}
		s.pendingSpans = nil
		s.lastSpanFlush = now
	}

	if len(s.pendingErrors) > 0 &&
		(force || len(s.pendingErrors) >= s.cfg.BatchSize || now.Sub(s.lastErrFlush) >= s.cfg.FlushInterval) {
		for _, chunk := range lo.Chunk(s.pendingErrors, s.cfg.BatchSize) {
			batches = append(batches, batch{kind: KindError, errors: chunk})
		}
		s.pendingErrors = nil
		s.lastErrFlush = now
	}

	return batches
}

func (s *Sender) dispatchBatches(batches []batch) {
	for _, b := range batches {
		s.inFlight.Add(1)
		s.dispatch <- b
	}
}

// dispatchFromLoop is the drain loop's dispatch: when shutdown begins while
// a send would block, the remaining batches go back to the pending buffers
// so the final flush in Stop picks them up. Without this, the loop could be
// mid-send when Stop closes the dispatch channel.
func (s *Sender) dispatchFromLoop(batches []batch) {
	for i, b := range batches {
		s.inFlight.Add(1)
		select {
		case s.dispatch <- b:
		case <-s.stopCh:
			s.inFlight.Add(-1)
			s.restorePending(batches[i:])
			return
		}
	}
}

func (s *Sender) restorePending(batches []batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range batches {
		s.pendingSpans = append(s.pendingSpans, b.spans...)
		s.pendingErrors = append(s.pendingErrors, b.errors...)
	}
}

// worker consumes batches from the dispatch channel until it is closed.
func (s *Sender) worker() {
	defer s.workerWG.Done()

	for b := range s.dispatch {
		s.process(b)
		s.inFlight.Add(-1)
	}
}

// process sends one batch, containing any panic so a failing exporter can
// never take the host process down.
func (s *Sender) process(b batch) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.incFailed(b.kind)
			s.log.With("kind", b.kind, "panic", r).Error("send worker recovered from panic")
		}
	}()

	s.sendWithRetry(b)
}

// Flush forces everything queued so far into batches, dispatches them and
// waits up to 5 s for the in-flight work to settle.
func (s *Sender) Flush() {
	if !s.running.Load() {
		return
	}

	s.collect(0)
	s.dispatchBatches(s.cutDueBatches(true))
	s.awaitDrain(flushTimeout)
}

func (s *Sender) awaitDrain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(s.dispatch) == 0 && s.inFlight.Load() == 0 {
			return
		}
		time.Sleep(drainPoll)
	}
}

// Stop drains the queues, dispatches the remainder and joins the drain
// loop and workers, waiting at most 5 s for each. Idempotent; the sender
// returns to the stopped state and can be started again.
func (s *Sender) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.started {
		return
	}

	// Refuse new items first so the final drain sees a settled queue.
	s.running.Store(false)

	close(s.stopCh)
	select {
	case <-s.drainDone:
	case <-time.After(joinTimeout):
		s.log.Warn("drain loop did not stop within the join timeout")
	}

	s.collect(0)
	s.dispatchBatches(s.cutDueBatches(true))

	// Closing the dispatch channel is the workers' stop signal.
	close(s.dispatch)

	workersDone := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-time.After(joinTimeout):
		s.log.Warn("send workers did not stop within the join timeout")
	}

	s.started = false
}

// Running reports whether the sender accepts new items.
func (s *Sender) Running() bool {
	return s.running.Load()
}

// Stats returns a snapshot of the sender's counters.
func (s *Sender) Stats() Stats {
	return s.stats.snapshot()
}

// ResetStats zeroes all counters. Intended for test isolation.
func (s *Sender) ResetStats() {
	s.stats.reset()
}
