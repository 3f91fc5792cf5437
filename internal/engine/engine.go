package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/actionkit/internal/config"
	"github.com/gyaneshwarpardhi/actionkit/internal/destination"
	"github.com/gyaneshwarpardhi/actionkit/internal/event"
	"github.com/gyaneshwarpardhi/actionkit/internal/metrics"
	"github.com/gyaneshwarpardhi/actionkit/internal/routing"
)

// EventResult is the outcome of processing a single event.
type EventResult struct {
	EventID              string                `json:"event_id"`
	DurationMs           int64                 `json:"duration_ms"`
	SubscriptionsMatched []string              `json:"subscriptions_matched"`
	Results              []*destination.Result `json:"results"`
}

// BatchResult is the outcome of processing a batch of events.
type BatchResult struct {
	JobID      string                `json:"job_id"`
	Events     int                   `json:"events"`
	DurationMs int64                 `json:"duration_ms"`
	Results    []*destination.Result `json:"results"`
}

// Engine dispatches events through the routing table.
type Engine struct {
	table     atomic.Pointer[routing.Table]
	eventPool *workerPool[*eventWork, *EventResult]
	batchPool *workerPool[*batchWork, *BatchResult]
	conf      *config.EngineConf
	logger    *slog.Logger
}

type eventWork struct {
	ev      *event.Event
	resultC chan *EventResult
}

type batchWork struct {
	jobID   string
	events  []*event.Event
	resultC chan *BatchResult
}

// New creates an Engine using conf and starts worker pools.
func New(ctx context.Context, t *routing.Table, conf config.EngineConf, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{conf: &conf, logger: logger}
	e.table.Store(t)

	e.eventPool = newWorkerPool[*eventWork, *EventResult](
		ctx, "events",
		conf.EventWorkers,
		conf.QueueDepth,
		logger,
		func(ctx context.Context, w *eventWork) (*EventResult, error) {
			res := e.processEvent(ctx, w.ev)
			if w.resultC != nil {
				w.resultC <- res
			}
			return res, nil
		},
	)

	e.batchPool = newWorkerPool[*batchWork, *BatchResult](
		ctx, "batches",
		conf.BatchWorkers,
		conf.BatchWorkers*10,
		logger,
		func(ctx context.Context, w *batchWork) (*BatchResult, error) {
			res := e.processBatch(ctx, w.jobID, w.events)
			if w.resultC != nil {
				w.resultC <- res
			}
			return res, nil
		},
	)

	return e
}

// SwapTable atomically replaces the routing table (used on hot-reload).
func (e *Engine) SwapTable(t *routing.Table) {
	e.table.Store(t)
}

// Table returns the routing table currently in use.
func (e *Engine) Table() *routing.Table {
	return e.table.Load()
}

// ProcessSync processes an event synchronously and returns the result.
// Fails if the queue is full or processing exceeds the event timeout.
func (e *Engine) ProcessSync(ctx context.Context, ev *event.Event) (*EventResult, error) {
	resultC := make(chan *EventResult, 1)
	w := &eventWork{ev: ev, resultC: resultC}

	if !e.eventPool.Submit(w) {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("event %w (capacity %d)", ErrQueueFull, e.conf.QueueDepth)
	}
	metrics.EventsEnqueued.Inc()
	return await(ctx, resultC, e.timeout())
}

// ProcessAsync enqueues an event for background processing. Returns false if the queue is full.
func (e *Engine) ProcessAsync(ev *event.Event) bool {
	w := &eventWork{ev: ev}
	if !e.eventPool.Submit(w) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.EventsEnqueued.Inc()
	return true
}

// ProcessBatch runs a batch synchronously. Batch-capable actions receive
// their matching events in one call.
func (e *Engine) ProcessBatch(ctx context.Context, events []*event.Event) (*BatchResult, error) {
	resultC := make(chan *BatchResult, 1)
	w := &batchWork{jobID: uuid.New().String(), events: events, resultC: resultC}
	if !e.batchPool.Submit(w) {
		metrics.EventsDropped.Add(float64(len(events)))
		return nil, fmt.Errorf("batch %w (capacity %d)", ErrQueueFull, e.batchPool.QueueCap())
	}
	metrics.EventsEnqueued.Add(float64(len(events)))
	return await(ctx, resultC, e.timeout())
}

// ProcessBatchAsync enqueues a batch and returns its job ID, or false if
// the batch queue is full.
func (e *Engine) ProcessBatchAsync(events []*event.Event) (string, bool) {
	w := &batchWork{jobID: uuid.New().String(), events: events}
	if !e.batchPool.Submit(w) {
		metrics.EventsDropped.Add(float64(len(events)))
		return "", false
	}
	metrics.EventsEnqueued.Add(float64(len(events)))
	return w.jobID, true
}

// QueueUtilization returns event queue used / capacity (0-1) and
// publishes it as a gauge.
func (e *Engine) QueueUtilization() float64 {
	var util float64
	if c := e.eventPool.QueueCap(); c > 0 {
		util = float64(e.eventPool.QueueLen()) / float64(c)
	}
	metrics.QueueUtilization.Set(util)
	return util
}

func (e *Engine) timeout() time.Duration {
	return time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
}

func await[R any](ctx context.Context, resultC <-chan R, timeout time.Duration) (R, error) {
	var zero R
	select {
	case res := <-resultC:
		return res, nil
	case <-time.After(timeout):
		return zero, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) processEvent(ctx context.Context, ev *event.Event) *EventResult {
	start := time.Now()
	t := e.table.Load()
	data := ev.Data()

	perRoute := make([][]*destination.Result, len(t.Routes()))
	var g errgroup.Group
	for i, r := range t.Routes() {
		g.Go(func() error {
			perRoute[i] = r.Instance.OnEvent(ctx, data, r.Subscriptions)
			return nil
		})
	}
	_ = g.Wait()

	result := &EventResult{
		EventID:              ev.MessageID,
		SubscriptionsMatched: []string{},
		Results:              []*destination.Result{},
	}
	for _, rs := range perRoute {
		for _, r := range rs {
			result.Results = append(result.Results, r)
			result.SubscriptionsMatched = append(result.SubscriptionsMatched, r.Destination+"/"+r.SubscriptionID)
		}
	}
	result.DurationMs = time.Since(start).Milliseconds()

	metrics.EventsProcessed.Inc()
	metrics.EventProcessingDuration.Observe(float64(result.DurationMs))
	e.logger.Debug("event processed",
		"event_id", ev.MessageID,
		"type", ev.Type,
		"matched", len(result.SubscriptionsMatched),
		"duration_ms", result.DurationMs,
	)
	return result
}

func (e *Engine) processBatch(ctx context.Context, jobID string, events []*event.Event) *BatchResult {
	start := time.Now()
	t := e.table.Load()
	data := make([]map[string]any, len(events))
	for i, ev := range events {
		data[i] = ev.Data()
	}

	perRoute := make([][]*destination.Result, len(t.Routes()))
	var g errgroup.Group
	for i, r := range t.Routes() {
		g.Go(func() error {
			perRoute[i] = r.Instance.OnBatch(ctx, data, r.Subscriptions)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{JobID: jobID, Events: len(events), Results: []*destination.Result{}}
	for _, rs := range perRoute {
		result.Results = append(result.Results, rs...)
	}
	result.DurationMs = time.Since(start).Milliseconds()

	metrics.EventsProcessed.Add(float64(len(events)))
	e.logger.Info("batch processed",
		"job_id", jobID,
		"events", len(events),
		"results", len(result.Results),
		"duration_ms", result.DurationMs,
	)
	return result
}

// Shutdown drains both pools gracefully.
func (e *Engine) Shutdown() {
	e.eventPool.Drain()
	e.batchPool.Drain()
}
