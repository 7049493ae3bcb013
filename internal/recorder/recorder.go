// Package recorder asynchronously persists one InvocationRecord per call.
// The hot path only ever enqueues: Enqueue is a non-blocking try-send, and
// a single background worker batches drained records into an
// ObservabilityStore. Grounded on the channel+goroutine shape already used
// by internal/provider's streaming adapters, applied here to a
// producer/single-consumer queue instead of a request/response stream.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmgateway/gateway/internal/domain"
)

const maxResponseTextBytes = 64 * 1024

// ObservabilityStore persists a batch of records. Implementations:
// PostgresObservabilityStore (production) and InMemoryStore (tests).
type ObservabilityStore interface {
	Write(ctx context.Context, records []domain.InvocationRecord) error
}

// OverflowPublisher best-effort-publishes a dropped record's key fields
// when the channel is full, so an external process can reconcile. Publish
// failures are swallowed; they never affect the drop counter.
type OverflowPublisher interface {
	PublishDropped(ctx context.Context, rec domain.InvocationRecord) error
}

type Options struct {
	Capacity      int // default 1024
	BatchSize     int // default 50
	FlushInterval time.Duration // default 2s
	FullCapture   bool          // skip response_text truncation
	Overflow      OverflowPublisher
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	return o
}

type Recorder struct {
	ch            chan domain.InvocationRecord
	store         ObservabilityStore
	overflow      OverflowPublisher
	fullCapture   bool
	batchSize     int
	flushInterval time.Duration

	dropped   atomic.Int64
	recorded  atomic.Int64
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	subscribers []func(domain.InvocationRecord)
}

func New(store ObservabilityStore, opts Options) *Recorder {
	opts = opts.withDefaults()
	r := &Recorder{
		ch:            make(chan domain.InvocationRecord, opts.Capacity),
		store:         store,
		overflow:      opts.Overflow,
		fullCapture:   opts.FullCapture,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// OnRecorded registers fn to be called, from the drain goroutine, after
// each record is successfully written. Used by internal/budget to observe
// costs without gating the hot path.
func (r *Recorder) OnRecorded(fn func(domain.InvocationRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Enqueue redacts rec and tries to send it without blocking. On a full
// channel it increments the drop counter and returns immediately — the
// caller's request path never waits on recording.
func (r *Recorder) Enqueue(rec domain.InvocationRecord) {
	rec = redact(rec, r.fullCapture)
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
		if r.overflow != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := r.overflow.PublishDropped(ctx, rec); err != nil {
					slog.Warn("recorder: overflow publish failed", "error", err)
				}
			}()
		}
	}
}

// redact strips secret material and truncates an oversized response body.
// Credential secrets and session tokens are never part of InvocationRecord
// to begin with; this exists to catch callers who pass raw request
// parameters through unfiltered.
func redact(rec domain.InvocationRecord, fullCapture bool) domain.InvocationRecord {
	if rec.RequestParameters != nil {
		clean := make(map[string]any, len(rec.RequestParameters))
		for k, v := range rec.RequestParameters {
			if isSecretParamKey(k) {
				continue
			}
			clean[k] = v
		}
		rec.RequestParameters = clean
	}
	if !fullCapture && len(rec.ResponseText) > maxResponseTextBytes {
		rec.ResponseTextLength = len(rec.ResponseText)
		rec.ResponseText = rec.ResponseText[:maxResponseTextBytes]
	} else {
		rec.ResponseTextLength = len(rec.ResponseText)
	}
	return rec
}

func isSecretParamKey(key string) bool {
	switch key {
	case "api_key", "session_token", "authorization", "secret":
		return true
	default:
		return false
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	batch := make([]domain.InvocationRecord, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-r.ch:
			if !ok {
				if len(batch) > 0 {
					r.flush(batch)
				}
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(batch []domain.InvocationRecord) {
	cp := make([]domain.InvocationRecord, len(batch))
	copy(cp, batch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Write(ctx, cp); err != nil {
		slog.Error("recorder: batch write failed", "error", err, "batch_size", len(cp))
		return
	}
	r.recorded.Add(int64(len(cp)))

	r.mu.Lock()
	subs := make([]func(domain.InvocationRecord), len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.Unlock()
	for _, rec := range cp {
		for _, fn := range subs {
			fn(rec)
		}
	}
}

// DroppedCount returns the number of records dropped for a full channel.
func (r *Recorder) DroppedCount() int64 { return r.dropped.Load() }

// RecordedCount returns the number of records successfully written.
func (r *Recorder) RecordedCount() int64 { return r.recorded.Load() }

// Close stops accepting new records, drains what is already buffered, and
// waits for the drain worker to finish or ctx's deadline, whichever comes
// first.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.ch) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
