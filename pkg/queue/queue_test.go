package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/metrics"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
	"github.com/ogulcanaydogan/ops-sentinel/pkg/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSender records delivered subjects and fails while failing is set.
type recordingSender struct {
	mu      sync.Mutex
	subject []string
	failing bool
	block   chan struct{}
	started chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, req model.NotificationRequest) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("smtp unavailable")
	}
	s.subject = append(s.subject, req.Subject)
	return nil
}

func (s *recordingSender) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *recordingSender) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subject...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, sender queue.Sender, clk *fakeClock) *queue.Queue {
	t.Helper()
	return queue.New(sender, queue.DefaultConfig(), testLogger(), queue.WithClock(clk.Now))
}

func request(subject string, prio model.Priority) model.NotificationRequest {
	return model.NotificationRequest{
		Type:      "email",
		Recipient: "ops@example.com",
		Subject:   subject,
		Message:   "body",
		Priority:  prio,
	}
}

func TestEnqueue_Defaults(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, &recordingSender{}, clk)

	id, err := q.Enqueue(model.NotificationRequest{Recipient: "a@b.c", Message: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "generic", got.Type)
	assert.Equal(t, model.PriorityNormal, got.Priority)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, clk.Now(), got.ScheduledFor)
	assert.Equal(t, clk.Now(), got.CreatedAt)
}

func TestEnqueue_Validation(t *testing.T) {
	q := newTestQueue(t, &recordingSender{}, newFakeClock())

	tests := []struct {
		name  string
		req   model.NotificationRequest
		field string
	}{
		{"missing recipient", model.NotificationRequest{Message: "x"}, "recipient"},
		{"blank recipient", model.NotificationRequest{Recipient: "  ", Message: "x"}, "recipient"},
		{"missing message", model.NotificationRequest{Recipient: "a"}, "message"},
		{"bad priority", model.NotificationRequest{Recipient: "a", Message: "x", Priority: "asap"}, "priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(tt.req)
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Equal(t, 0, q.Stats().Total)
}

func TestTick_PriorityOrder(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{}
	q := newTestQueue(t, sender, clk)

	for _, r := range []model.NotificationRequest{
		request("low", model.PriorityLow),
		request("urgent", model.PriorityUrgent),
		request("normal", model.PriorityNormal),
		request("high", model.PriorityHigh),
	} {
		_, err := q.Enqueue(r)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, q.Tick(context.Background()))
	assert.Equal(t, []string{"urgent", "high", "normal", "low"}, sender.delivered())
}

func TestTick_TieBreaks(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{}
	q := newTestQueue(t, sender, clk)

	later := request("later", model.PriorityNormal)
	later.ScheduledFor = clk.Now().Add(-time.Minute)
	earlier := request("earlier", model.PriorityNormal)
	earlier.ScheduledFor = clk.Now().Add(-time.Hour)
	fifo1 := request("fifo1", model.PriorityNormal)
	fifo2 := request("fifo2", model.PriorityNormal)

	for _, r := range []model.NotificationRequest{later, fifo1, earlier, fifo2} {
		_, err := q.Enqueue(r)
		require.NoError(t, err)
	}

	q.Tick(context.Background())
	assert.Equal(t, []string{"earlier", "later", "fifo1", "fifo2"}, sender.delivered())
}

func TestTick_ScheduledNotDeliveredEarly(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{}
	q := newTestQueue(t, sender, clk)

	future := request("urgent-future", model.PriorityUrgent)
	future.ScheduledFor = clk.Now().Add(10 * time.Minute)
	_, err := q.Enqueue(future)
	require.NoError(t, err)
	_, err = q.Enqueue(request("low-now", model.PriorityLow))
	require.NoError(t, err)

	assert.Equal(t, 1, q.Tick(context.Background()))
	assert.Equal(t, []string{"low-now"}, sender.delivered(), "due low priority item must not wait for a future urgent one")

	clk.Advance(10*time.Minute - time.Second)
	assert.Equal(t, 0, q.Tick(context.Background()))

	clk.Advance(time.Second)
	assert.Equal(t, 1, q.Tick(context.Background()))
	assert.Equal(t, []string{"low-now", "urgent-future"}, sender.delivered())
}

func TestTick_RetryWithBackoffThenFail(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{failing: true}
	q := newTestQueue(t, sender, clk)
	ctx := context.Background()

	id, err := q.Enqueue(request("retry", model.PriorityHigh))
	require.NoError(t, err)

	start := clk.Now()
	require.Equal(t, 1, q.Tick(ctx))
	got, _ := q.Get(id)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "smtp unavailable", got.LastError)
	assert.Equal(t, start.Add(30*time.Second), got.ScheduledFor)

	clk.Advance(29 * time.Second)
	assert.Equal(t, 0, q.Tick(ctx), "retry must wait for its backoff")

	clk.Advance(time.Second)
	require.Equal(t, 1, q.Tick(ctx))
	got, _ = q.Get(id)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, clk.Now().Add(time.Minute), got.ScheduledFor)

	clk.Advance(time.Minute)
	require.Equal(t, 1, q.Tick(ctx))
	got, _ = q.Get(id)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, got.MaxAttempts, got.Attempts)
	assert.Equal(t, "smtp unavailable", got.LastError)

	clk.Advance(time.Hour)
	assert.Equal(t, 0, q.Tick(ctx), "failed items are terminal")
}

func TestTick_RetryThenSuccess(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{failing: true}
	q := newTestQueue(t, sender, clk)
	ctx := context.Background()

	id, err := q.Enqueue(request("flaky", model.PriorityNormal))
	require.NoError(t, err)
	q.Tick(ctx)

	sender.setFailing(false)
	clk.Advance(30 * time.Second)
	q.Tick(ctx)

	got, _ := q.Get(id)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, clk.Now(), *got.SentAt)
}

func TestTick_PerRequestMaxAttempts(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, &recordingSender{failing: true}, clk)

	req := request("once", model.PriorityNormal)
	req.MaxAttempts = 1
	id, err := q.Enqueue(req)
	require.NoError(t, err)

	q.Tick(context.Background())
	got, _ := q.Get(id)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestTick_DeliveryTimeout(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{block: make(chan struct{})}
	cfg := queue.DefaultConfig()
	cfg.DeliveryTimeout = 20 * time.Millisecond
	q := queue.New(sender, cfg, testLogger(), queue.WithClock(clk.Now))

	id, err := q.Enqueue(request("stuck", model.PriorityNormal))
	require.NoError(t, err)

	q.Tick(context.Background())
	got, _ := q.Get(id)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "deadline exceeded")
}

func TestCancel(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{}
	q := newTestQueue(t, sender, clk)
	ctx := context.Background()

	id, err := q.Enqueue(request("cancel-me", model.PriorityUrgent))
	require.NoError(t, err)
	sentID, err := q.Enqueue(request("keep", model.PriorityLow))
	require.NoError(t, err)

	assert.True(t, q.Cancel(id))
	assert.False(t, q.Cancel(id), "second cancel is a no-op")
	assert.False(t, q.Cancel("does-not-exist"))

	q.Tick(ctx)
	assert.Equal(t, []string{"keep"}, sender.delivered())

	got, _ := q.Get(id)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.False(t, q.Cancel(sentID), "cancelling a sent item returns false")
}

func TestCancel_FailedItem(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, &recordingSender{failing: true}, clk)

	req := request("x", model.PriorityNormal)
	req.MaxAttempts = 1
	id, err := q.Enqueue(req)
	require.NoError(t, err)
	q.Tick(context.Background())

	assert.False(t, q.Cancel(id))
}

func TestCancel_WhileProcessing(t *testing.T) {
	tests := []struct {
		name    string
		failing bool
		want    model.NotificationStatus
	}{
		{"attempt succeeds", false, model.StatusSent},
		{"attempt fails", true, model.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			sender := &recordingSender{
				failing: tt.failing,
				block:   make(chan struct{}),
				started: make(chan struct{}, 1),
			}
			q := newTestQueue(t, sender, clk)

			id, err := q.Enqueue(request("inflight", model.PriorityNormal))
			require.NoError(t, err)

			done := make(chan struct{})
			go func() {
				q.Tick(context.Background())
				close(done)
			}()
			<-sender.started

			got, _ := q.Get(id)
			require.Equal(t, model.StatusProcessing, got.Status)
			assert.True(t, q.Cancel(id))

			got, _ = q.Get(id)
			assert.Equal(t, model.StatusProcessing, got.Status, "cancel must not preempt delivery")

			close(sender.block)
			<-done

			got, _ = q.Get(id)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestStats(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{}
	q := newTestQueue(t, sender, clk)

	_, err := q.Enqueue(request("sent", model.PriorityNormal))
	require.NoError(t, err)
	q.Tick(context.Background())

	clk.Advance(time.Minute)
	future := request("future", model.PriorityNormal)
	future.ScheduledFor = clk.Now().Add(time.Hour)
	_, err = q.Enqueue(future)
	require.NoError(t, err)
	cancelled, err := q.Enqueue(future)
	require.NoError(t, err)
	q.Cancel(cancelled)

	clk.Advance(90 * time.Second)
	st := q.Stats()
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 1, st.Cancelled)
	assert.Equal(t, 0, st.Failed)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, (90 * time.Second).Milliseconds(), st.OldestPendingAgeMs)
}

func TestStats_Empty(t *testing.T) {
	q := newTestQueue(t, &recordingSender{}, newFakeClock())
	st := q.Stats()
	assert.Equal(t, 0, st.Total)
	assert.Zero(t, st.OldestPendingAgeMs)
}

func TestListByStatus(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, &recordingSender{}, clk)

	var ids []string
	for _, s := range []string{"a", "b", "c"} {
		req := request(s, model.PriorityNormal)
		req.ScheduledFor = clk.Now().Add(time.Hour)
		id, err := q.Enqueue(req)
		require.NoError(t, err)
		ids = append(ids, id)
		clk.Advance(time.Second)
	}

	all, err := q.ListByStatus("pending", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := q.ListByStatus("PENDING", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := q.ListByStatus("sent", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = q.ListByStatus("delivered", 10)
	assert.True(t, model.IsValidation(err))
}

func TestListByStatus_ReturnsCopies(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, &recordingSender{}, clk)

	req := request("meta", model.PriorityNormal)
	req.Metadata = map[string]string{"tenant": "t1"}
	req.ScheduledFor = clk.Now().Add(time.Hour)
	id, err := q.Enqueue(req)
	require.NoError(t, err)
	req.Metadata["tenant"] = "changed-by-caller"

	list, err := q.ListByStatus("pending", 1)
	require.NoError(t, err)
	list[0].Metadata["tenant"] = "changed"
	list[0].Status = model.StatusSent

	got, _ := q.Get(id)
	assert.Equal(t, "t1", got.Metadata["tenant"])
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestPrune(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, &recordingSender{}, clk)

	sentID, err := q.Enqueue(request("old", model.PriorityNormal))
	require.NoError(t, err)
	q.Tick(context.Background())

	future := request("pending", model.PriorityNormal)
	future.ScheduledFor = clk.Now().Add(48 * time.Hour)
	pendingID, err := q.Enqueue(future)
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	assert.Equal(t, 1, q.Prune(clk.Now().Add(-24*time.Hour)))

	_, ok := q.Get(sentID)
	assert.False(t, ok)
	_, ok = q.Get(pendingID)
	assert.True(t, ok, "non-terminal items are never pruned")
}

// depthRecorder keeps the last queue depth it was given.
type depthRecorder struct {
	metrics.Nop
	mu   sync.Mutex
	last map[string]int
}

func (d *depthRecorder) QueueDepth(counts map[string]int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = make(map[string]int, len(counts))
	for k, v := range counts {
		d.last[k] = v
	}
}

func (d *depthRecorder) depth() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func TestQueueDepth_TracksEveryTransition(t *testing.T) {
	clk := newFakeClock()
	sender := &recordingSender{}
	rec := &depthRecorder{}
	q := queue.New(sender, queue.DefaultConfig(), testLogger(), queue.WithClock(clk.Now), queue.WithMetrics(rec))
	ctx := context.Background()

	depth := func(pending, sent, failed, cancelled int) map[string]int {
		return map[string]int{
			"pending": pending, "processing": 0, "sent": sent, "failed": failed, "cancelled": cancelled,
		}
	}

	_, err := q.Enqueue(request("a", model.PriorityHigh))
	require.NoError(t, err)
	cancelID, err := q.Enqueue(request("b", model.PriorityLow))
	require.NoError(t, err)
	assert.Equal(t, depth(2, 0, 0, 0), rec.depth())

	require.True(t, q.Cancel(cancelID))
	assert.Equal(t, depth(1, 0, 0, 1), rec.depth())

	q.Tick(ctx)
	assert.Equal(t, depth(0, 1, 0, 1), rec.depth())

	sender.setFailing(true)
	retry := request("c", model.PriorityNormal)
	retry.MaxAttempts = 2
	_, err = q.Enqueue(retry)
	require.NoError(t, err)
	q.Tick(ctx)
	assert.Equal(t, depth(1, 1, 0, 1), rec.depth(), "failed attempt with retries left goes back to pending")

	clk.Advance(time.Hour)
	q.Tick(ctx)
	assert.Equal(t, depth(0, 1, 1, 1), rec.depth())

	clk.Advance(25 * time.Hour)
	assert.Equal(t, 3, q.Prune(clk.Now().Add(-24*time.Hour)))
	assert.Equal(t, depth(0, 0, 0, 0), rec.depth())
}

func TestQueueDepth_ShowsProcessing(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{}), started: make(chan struct{}, 1)}
	rec := &depthRecorder{}
	q := queue.New(sender, queue.DefaultConfig(), testLogger(), queue.WithMetrics(rec))

	_, err := q.Enqueue(request("slow", model.PriorityNormal))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Tick(context.Background())
	}()
	<-sender.started
	assert.Equal(t, 1, rec.depth()["processing"])
	assert.Equal(t, 0, rec.depth()["pending"])

	close(sender.block)
	<-done
	assert.Equal(t, 0, rec.depth()["processing"])
	assert.Equal(t, 1, rec.depth()["sent"])
}

func TestStartStop_DeliversInBackground(t *testing.T) {
	sender := &recordingSender{}
	cfg := queue.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	q := queue.New(sender, cfg, testLogger())

	q.Start(context.Background())
	defer q.Stop()

	id, err := q.Enqueue(request("bg", model.PriorityHigh))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := q.Get(id)
		return got.Status == model.StatusSent
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStop_WaitsForInflightDelivery(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{}), started: make(chan struct{}, 1)}
	q := queue.New(sender, queue.DefaultConfig(), testLogger())
	q.Start(context.Background())

	id, err := q.Enqueue(request("slow", model.PriorityNormal))
	require.NoError(t, err)
	<-sender.started

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the delivery finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(sender.block)
	<-stopped
	got, _ := q.Get(id)
	assert.Equal(t, model.StatusSent, got.Status)
}

func TestBackoffDelay(t *testing.T) {
	b := queue.DefaultBackoff()

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{6, 16 * time.Minute},
		{7, 30 * time.Minute},
		{20, 30 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempts), "attempts=%d", tt.attempts)
	}
}
