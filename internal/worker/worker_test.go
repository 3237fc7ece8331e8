package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"raffle-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type batchExpirer struct {
	batches []int
	calls   int
	err     error
}

func (e *batchExpirer) ExpireOverdue(_ context.Context, limit int) (int, error) {
	if e.calls >= len(e.batches) {
		return 0, e.err
	}
	n := e.batches[e.calls]
	e.calls++
	return n, nil
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	l.acquired++
	return "token", true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, _, token string) error {
	if token != "token" {
		return errors.New("bad token")
	}
	l.released++
	return nil
}

func TestSweepDrainsBatches(t *testing.T) {
	expirer := &batchExpirer{batches: []int{2, 2, 1}}
	locker := &fakeLocker{}
	w := NewExpiryWorker(expirer, locker, time.Minute, 2)

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, expirer.calls)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	expirer := &batchExpirer{batches: []int{1}}
	w := NewExpiryWorker(expirer, &fakeLocker{held: true}, time.Minute, 10)

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, expirer.calls)
}

func TestSweepReportsError(t *testing.T) {
	expirer := &batchExpirer{batches: []int{3}, err: errors.New("db down")}
	w := NewExpiryWorker(expirer, nil, time.Minute, 3)

	n, err := w.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, n)
}

type recordingRetrier struct {
	retried  []int
	requeued []string
}

func (r *recordingRetrier) RetryWebhook(_ context.Context, event *models.WebhookRetryEvent, _ int) error {
	r.retried = append(r.retried, event.Attempt)
	return nil
}

func (r *recordingRetrier) PublishWebhookRetry(_ context.Context, event *models.WebhookRetryEvent) error {
	r.requeued = append(r.requeued, event.EventID)
	return nil
}

func newTestWebhookWorker(r *recordingRetrier, hold time.Duration) *WebhookWorker {
	return &WebhookWorker{retrier: r, requeuer: r, maxAttempts: 3, hold: hold, logger: zap.NewNop()}
}

func TestHandleRetryDue(t *testing.T) {
	r := &recordingRetrier{}
	w := newTestWebhookWorker(r, 50*time.Millisecond)

	due := &models.WebhookRetryEvent{BaseEvent: models.BaseEvent{EventID: "a"}, Attempt: 2, NotBefore: time.Now().Add(-time.Minute)}
	require.NoError(t, w.handleRetry(context.Background(), due))

	soon := &models.WebhookRetryEvent{BaseEvent: models.BaseEvent{EventID: "b"}, Attempt: 3, NotBefore: time.Now().Add(10 * time.Millisecond)}
	require.NoError(t, w.handleRetry(context.Background(), soon))
	assert.False(t, time.Now().Before(soon.NotBefore))

	assert.Equal(t, []int{2, 3}, r.retried)
	assert.Empty(t, r.requeued)
}

func TestHandleRetryNotDueIsRequeued(t *testing.T) {
	r := &recordingRetrier{}
	w := newTestWebhookWorker(r, 10*time.Millisecond)

	later := &models.WebhookRetryEvent{BaseEvent: models.BaseEvent{EventID: "c"}, Attempt: 1, NotBefore: time.Now().Add(time.Hour)}
	start := time.Now()
	require.NoError(t, w.handleRetry(context.Background(), later))
	assert.Less(t, time.Since(start), time.Minute)

	assert.Equal(t, []string{"c"}, r.requeued)
	assert.Empty(t, r.retried)
}

func TestHandleRetryCancelled(t *testing.T) {
	r := &recordingRetrier{}
	w := newTestWebhookWorker(r, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	later := &models.WebhookRetryEvent{Attempt: 1, NotBefore: time.Now().Add(time.Minute)}
	assert.ErrorIs(t, w.handleRetry(ctx, later), context.Canceled)
	assert.Empty(t, r.retried)
	assert.Empty(t, r.requeued)
}
