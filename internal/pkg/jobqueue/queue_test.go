package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/cache/cachetest"
)

const jobQueueTestRedisDB = 14

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	client := cachetest.NewClient(t, jobQueueTestRedisDB)
	q := NewQueue(client, 1)
	q.SetRetryDelay(10 * time.Millisecond)
	return q
}

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)

			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.handlers)
			assert.False(t, queue.running)
		})
	}
}

func TestEnqueueAndRunOnce(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var seen atomic.Int32
	q.Register(JobTypePaymentSucceeded, func(ctx context.Context, job *Job) error {
		assert.Equal(t, "x", job.Payload["k"])
		seen.Add(1)
		return nil
	})

	job, err := q.EnqueueJob(ctx, JobTypePaymentSucceeded, map[string]interface{}{"k": "x"})
	require.NoError(t, err)

	handled, err := q.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, int32(1), seen.Load())

	_, err = q.GetJob(ctx, job.ID)
	assert.Error(t, err, "completed jobs are removed")

	size, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestRunOnceEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	handled, err := q.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestEnqueueUniqueRejectsDuplicates(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueUnique(ctx, JobTypePaymentFailed, "payment.failed:o-1", nil)
	require.NoError(t, err)

	_, err = q.EnqueueUnique(ctx, JobTypePaymentFailed, "payment.failed:o-1", nil)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestFailedJobIsRetried(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	q.Register(JobTypePaymentFailed, func(ctx context.Context, job *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("smtp down")
		}
		return nil
	})

	job, err := q.EnqueueJob(ctx, JobTypePaymentFailed, nil)
	require.NoError(t, err)

	_, err = q.RunOnce(ctx)
	require.NoError(t, err)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	require.Eventually(t, func() bool {
		handled, err := q.RunOnce(ctx)
		return err == nil && handled
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnknownJobTypeFailsPermanently(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobType("unknown"), nil)
	require.NoError(t, err)

	_, err = q.RunOnce(ctx)
	require.NoError(t, err)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")
}

func TestRecoverStuck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypePaymentSucceeded, nil)
	require.NoError(t, err)

	// simulate a worker that crashed after dequeue
	_, err = q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	job.Status = JobStatusProcessing
	job.ProcessedAt = &old
	q.updateJob(ctx, job)

	n, err := q.RecoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestStartStop(t *testing.T) {
	q := newTestQueue(t)
	done := make(chan struct{}, 1)
	q.Register(JobTypePaymentSucceeded, func(ctx context.Context, job *Job) error {
		done <- struct{}{}
		return nil
	})

	q.Start()
	q.Start()
	_, err := q.EnqueueJob(context.Background(), JobTypePaymentSucceeded, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}
	q.Stop()
	q.Stop()
	assert.False(t, q.running)
}

func TestEventPublisherEnqueuesOncePerEvent(t *testing.T) {
	q := newTestQueue(t)
	counted := &countingOutcomes{}
	p := NewEventPublisher(q).WithCounter(counted)
	ctx := context.Background()

	event := models.PaymentEvent{
		ID:        1,
		PaymentID: 1,
		EventType: models.PaymentEventSucceeded,
		DedupeKey: "payment.succeeded:o-2",
	}
	require.NoError(t, p.Publish(ctx, event))
	require.NoError(t, p.Publish(ctx, event))

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
	assert.Equal(t, []string{models.PaymentEventSucceeded}, counted.outcomes)

	assert.Error(t, p.Publish(ctx, models.PaymentEvent{EventType: "other", DedupeKey: "other:o"}))
}

type countingOutcomes struct {
	outcomes []string
}

func (c *countingOutcomes) Add(_ context.Context, outcome string) error {
	c.outcomes = append(c.outcomes, outcome)
	return nil
}
