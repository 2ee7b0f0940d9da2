// Package queue holds outbound notifications in memory and delivers them
// through a Sender with priority ordering, scheduled delivery, bounded
// retries and cancellation.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/metrics"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// DefaultListLimit applies when ListByStatus is called with limit <= 0.
const DefaultListLimit = 50

const janitorInterval = 5 * time.Minute

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, req model.NotificationRequest) error
}

// Config tunes the worker pool and retry policy.
type Config struct {
	Workers         int           `mapstructure:"workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Backoff         BackoffConfig `mapstructure:"backoff"`
	Retention       time.Duration `mapstructure:"retention"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		PollInterval:    time.Second,
		DeliveryTimeout: 10 * time.Second,
		MaxAttempts:     3,
		Backoff:         DefaultBackoff(),
		Retention:       24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

type item struct {
	req             model.NotificationRequest
	seq             uint64
	cancelRequested bool
}

// Queue is an in-memory notification queue. Every state transition happens
// under its lock; callers only ever see copies of the requests.
type Queue struct {
	cfg     Config
	sender  Sender
	logger  *slog.Logger
	metrics metrics.Collector
	now     func() time.Time

	mu        sync.Mutex
	items     map[string]*item
	depth     map[model.NotificationStatus]int
	scheduled scheduledHeap
	ready     readyHeap
	seq       uint64

	wake chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock injects the time source used for scheduling.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates an idle queue. Call Start to run the worker pool, or Tick to
// drive delivery manually.
func New(sender Sender, cfg Config, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		cfg:     cfg.withDefaults(),
		sender:  sender,
		logger:  logger,
		metrics: metrics.NewNop(),
		now:     time.Now,
		items:   make(map[string]*item),
		depth:   make(map[model.NotificationStatus]int),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates req and stores it as pending. It never waits for
// delivery.
func (q *Queue) Enqueue(req model.NotificationRequest) (string, error) {
	if strings.TrimSpace(req.Recipient) == "" {
		return "", &model.ValidationError{Field: "recipient", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return "", &model.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	prio, err := model.ParsePriority(string(req.Priority))
	if err != nil {
		return "", err
	}

	now := q.now()
	req.ID = uuid.New().String()
	req.Priority = prio
	if req.Type == "" {
		req.Type = "generic"
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = q.cfg.MaxAttempts
	}
	if req.ScheduledFor.IsZero() {
		req.ScheduledFor = now
	}
	req.Metadata = cloneMeta(req.Metadata)
	req.Status = model.StatusPending
	req.Attempts = 0
	req.LastError = ""
	req.SentAt = nil
	req.CreatedAt = now
	req.UpdatedAt = now

	q.mu.Lock()
	q.seq++
	it := &item{req: req, seq: q.seq}
	q.items[req.ID] = it
	heap.Push(&q.scheduled, it)
	q.depth[model.StatusPending]++
	q.reportDepthLocked()
	q.mu.Unlock()

	q.metrics.NotificationEnqueued(string(prio))
	q.logger.Debug("notification enqueued",
		"id", req.ID, "type", req.Type, "priority", prio, "scheduled_for", req.ScheduledFor)
	q.signal()
	return req.ID, nil
}

// Cancel stops future delivery of id. A pending item becomes cancelled at
// once. An item being delivered finishes its attempt first: success still
// ends sent, failure ends cancelled instead of retrying. Cancel returns
// false for unknown ids and items already sent, failed or cancelled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return false
	}
	switch it.req.Status {
	case model.StatusPending:
		q.setStatusLocked(it, model.StatusCancelled)
		it.req.UpdatedAt = q.now()
		q.logger.Info("notification cancelled", "id", id)
		return true
	case model.StatusProcessing:
		it.cancelRequested = true
		return true
	default:
		return false
	}
}

// Get returns a copy of the request with the given id.
func (q *Queue) Get(id string) (model.NotificationRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return model.NotificationRequest{}, false
	}
	return copyRequest(it.req), true
}

// Tick delivers every item that is due now, one at a time, and returns the
// number of delivery attempts made.
func (q *Queue) Tick(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		it, ok := q.claim()
		if !ok {
			break
		}
		q.deliver(ctx, it)
		n++
	}
	return n
}

// Start runs the worker pool and the janitor until ctx is cancelled or
// Stop is called. Calling Start on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.cancel != nil {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.work(ctx)
		}()
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.janitor(ctx)
	}()
	q.logger.Info("notification queue started", "workers", q.cfg.Workers)
}

// Stop halts the workers and waits for deliveries in flight to finish.
func (q *Queue) Stop() {
	q.runMu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	q.wg.Wait()
	q.logger.Info("notification queue stopped")
}

func (q *Queue) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if it, ok := q.claim(); ok {
			q.deliver(ctx, it)
			continue
		}

		timer := time.NewTimer(q.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (q *Queue) janitor(ctx context.Context) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := q.Prune(q.now().Add(-q.cfg.Retention)); n > 0 {
				q.logger.Debug("pruned finished notifications", "count", n)
			}
		}
	}
}

// signal wakes one idle worker without blocking.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// nextWait is the time until the earliest scheduled item is due, capped by
// the poll interval.
func (q *Queue) nextWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	wait := q.cfg.PollInterval
	if len(q.scheduled) > 0 {
		if d := q.scheduled[0].req.ScheduledFor.Sub(q.now()); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// claim moves due items into the ready heap and takes the best one,
// marking it processing. Entries of items cancelled while waiting are
// discarded as they surface.
func (q *Queue) claim() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for len(q.scheduled) > 0 && !q.scheduled[0].req.ScheduledFor.After(now) {
		it := heap.Pop(&q.scheduled).(*item)
		if it.req.Status == model.StatusPending {
			heap.Push(&q.ready, it)
		}
	}
	for len(q.ready) > 0 {
		it := heap.Pop(&q.ready).(*item)
		if it.req.Status != model.StatusPending {
			continue
		}
		q.setStatusLocked(it, model.StatusProcessing)
		it.req.UpdatedAt = now
		return it, true
	}
	return nil, false
}

func (q *Queue) deliver(ctx context.Context, it *item) {
	q.mu.Lock()
	req := copyRequest(it.req)
	q.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.DeliveryTimeout)
	err := q.sender.Send(sendCtx, req)
	cancel()

	q.complete(it, err)
}

// complete applies the outcome of one delivery attempt.
func (q *Queue) complete(it *item, sendErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	r := &it.req
	r.UpdatedAt = now

	if sendErr == nil {
		q.setStatusLocked(it, model.StatusSent)
		r.SentAt = &now
		r.LastError = ""
		q.metrics.NotificationAttempt(metrics.OutcomeSent)
		q.logger.Info("notification sent", "id", r.ID, "type", r.Type, "recipient", r.Recipient)
		return
	}

	r.Attempts++
	r.LastError = sendErr.Error()

	switch {
	case it.cancelRequested:
		q.setStatusLocked(it, model.StatusCancelled)
		q.metrics.NotificationAttempt(metrics.OutcomeCancelled)
		q.logger.Info("notification cancelled after failed attempt", "id", r.ID, "error", sendErr)
	case r.Attempts >= r.MaxAttempts:
		q.setStatusLocked(it, model.StatusFailed)
		q.metrics.NotificationAttempt(metrics.OutcomeFailed)
		q.logger.Error("notification delivery failed permanently",
			"id", r.ID, "attempts", r.Attempts, "error", sendErr)
	default:
		delay := q.cfg.Backoff.Delay(r.Attempts)
		q.setStatusLocked(it, model.StatusPending)
		r.ScheduledFor = now.Add(delay)
		heap.Push(&q.scheduled, it)
		q.metrics.NotificationAttempt(metrics.OutcomeRetry)
		q.logger.Warn("notification delivery failed, retrying",
			"id", r.ID, "attempt", r.Attempts, "retry_in", delay, "error", sendErr)
		q.signal()
	}
}

// Stats summarises the queue by status.
type Stats struct {
	Pending            int   `json:"pending"`
	Processing         int   `json:"processing"`
	Sent               int   `json:"sent"`
	Failed             int   `json:"failed"`
	Cancelled          int   `json:"cancelled"`
	Total              int   `json:"total"`
	OldestPendingAgeMs int64 `json:"oldest_pending_age_ms"`
}

// Stats counts items by status and reports how long the oldest pending
// item has been waiting since it was enqueued.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var st Stats
	var oldest time.Time
	for _, it := range q.items {
		switch it.req.Status {
		case model.StatusPending:
			st.Pending++
			if oldest.IsZero() || it.req.CreatedAt.Before(oldest) {
				oldest = it.req.CreatedAt
			}
		case model.StatusProcessing:
			st.Processing++
		case model.StatusSent:
			st.Sent++
		case model.StatusFailed:
			st.Failed++
		case model.StatusCancelled:
			st.Cancelled++
		}
	}
	st.Total = len(q.items)
	if !oldest.IsZero() {
		st.OldestPendingAgeMs = now.Sub(oldest).Milliseconds()
	}

	return st
}

// ListByStatus returns up to limit copies of items in the given status,
// oldest first.
func (q *Queue) ListByStatus(status string, limit int) ([]model.NotificationRequest, error) {
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q.mu.Lock()
	matched := make([]*item, 0)
	for _, it := range q.items {
		if it.req.Status == st {
			matched = append(matched, it)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].req.CreatedAt.Equal(matched[j].req.CreatedAt) {
			return matched[i].req.CreatedAt.Before(matched[j].req.CreatedAt)
		}
		return matched[i].seq < matched[j].seq
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]model.NotificationRequest, len(matched))
	for i, it := range matched {
		out[i] = copyRequest(it.req)
	}
	q.mu.Unlock()

	return out, nil
}

// Prune forgets sent, failed and cancelled items last updated before the
// cutoff and returns how many were removed.
func (q *Queue) Prune(before time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for id, it := range q.items {
		if it.req.Status.Terminal() && it.req.UpdatedAt.Before(before) {
			delete(q.items, id)
			q.depth[it.req.Status]--
			n++
		}
	}
	if n > 0 {
		q.reportDepthLocked()
	}
	return n
}

// setStatusLocked moves it to st and publishes the new per-status depth.
func (q *Queue) setStatusLocked(it *item, st model.NotificationStatus) {
	q.depth[it.req.Status]--
	it.req.Status = st
	q.depth[st]++
	q.reportDepthLocked()
}

func (q *Queue) reportDepthLocked() {
	q.metrics.QueueDepth(map[string]int{
		string(model.StatusPending):    q.depth[model.StatusPending],
		string(model.StatusProcessing): q.depth[model.StatusProcessing],
		string(model.StatusSent):       q.depth[model.StatusSent],
		string(model.StatusFailed):     q.depth[model.StatusFailed],
		string(model.StatusCancelled):  q.depth[model.StatusCancelled],
	})
}

// String implements fmt.Stringer for log output.
func (s Stats) String() string {
	return fmt.Sprintf("pending=%d processing=%d sent=%d failed=%d cancelled=%d",
		s.Pending, s.Processing, s.Sent, s.Failed, s.Cancelled)
}

func copyRequest(r model.NotificationRequest) model.NotificationRequest {
	r.Metadata = cloneMeta(r.Metadata)
	if r.SentAt != nil {
		t := *r.SentAt
		r.SentAt = &t
	}
	return r
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
