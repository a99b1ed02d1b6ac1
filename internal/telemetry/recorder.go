package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// Sink persists batches of entries.
type Sink interface {
	WriteEntries(ctx context.Context, entries []Entry) error
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Sink          Sink
	BatchSize     int           // Flush after N entries (default: 50)
	FlushInterval time.Duration // Or after duration (default: 2s)
	QueueSize     int           // Buffer size (default: 500)
	WriteAttempts uint          // Attempts per batch (default: 3)
	Logger        *slog.Logger
}

// Recorder batches entries to a Sink off the request path.
type Recorder struct {
	sink          Sink
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	writeAttempts uint

	queue   chan Entry
	batch   []Entry
	batchMu sync.Mutex
	flushCh chan chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	closed   chan struct{}
}

// NewRecorder creates a Recorder. Call Start before sending.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 500
	}
	if cfg.WriteAttempts == 0 {
		cfg.WriteAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		writeAttempts: cfg.WriteAttempts,
		queue:         make(chan Entry, cfg.QueueSize),
		batch:         make([]Entry, 0, cfg.BatchSize),
		flushCh:       make(chan chan struct{}),
		closed:        make(chan struct{}),
	}
}

// Start begins the batching loop.
func (r *Recorder) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()
}

// Stop flushes queued entries and ends the batching loop.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.closed)
		r.wg.Wait()
		if r.cancel != nil {
			r.cancel()
		}
		r.logger.Info("usage recorder stopped")
	})
}

// Send queues e. It never blocks: when the queue is full or the recorder
// has stopped, the entry is dropped and logged.
func (r *Recorder) Send(e Entry) {
	select {
	case <-r.closed:
		r.logger.Warn("recorder stopped, dropping entry", "id", e.ID, "tool", e.Tool)
		return
	default:
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("recorder queue full, dropping entry", "id", e.ID, "tool", e.Tool)
	}
}

// Flush writes everything queued so far and waits for the write.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case r.flushCh <- done:
	case <-r.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-r.queue:
			r.add(e)

		case <-ticker.C:
			r.flush()

		case done := <-r.flushCh:
			r.drain()
			r.flush()
			close(done)

		case <-r.closed:
			r.drain()
			r.flush()
			return
		}
	}
}

// drain moves everything currently queued into the batch.
func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.queue:
			r.add(e)
		default:
			return
		}
	}
}

func (r *Recorder) add(e Entry) {
	r.batchMu.Lock()
	r.batch = append(r.batch, e)
	full := len(r.batch) >= r.batchSize
	r.batchMu.Unlock()

	if full {
		r.flush()
	}
}

func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	entries := r.batch
	r.batch = make([]Entry, 0, r.batchSize)
	r.batchMu.Unlock()

	r.logger.Debug("flushing usage entries", "count", len(entries))

	err := retry.Do(
		func() error {
			return r.sink.WriteEntries(r.ctx, entries)
		},
		retry.Context(r.ctx),
		retry.Attempts(r.writeAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		r.logger.Error("usage entries write failed", "count", len(entries), "error", err)
	}
}
