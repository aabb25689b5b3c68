package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/testutil"
)

type fakeQueue struct {
	pending []*Job
	done    []uint64
	failed  map[uint64]string
	retried map[uint64]time.Time
}

func newFakeQueue(jobs ...*Job) *fakeQueue {
	return &fakeQueue{pending: jobs, failed: map[uint64]string{}, retried: map[uint64]time.Time{}}
}

func (q *fakeQueue) Claim(context.Context, string) (*Job, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, nil
}

func (q *fakeQueue) MarkDone(_ context.Context, id uint64) error {
	q.done = append(q.done, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id uint64, msg string) error {
	q.failed[id] = msg
	return nil
}

func (q *fakeQueue) RetryLater(_ context.Context, id uint64, _ int, runAt time.Time, _ string) error {
	q.retried[id] = runAt
	return nil
}

func TestWorkerDispatch(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := newFakeQueue(
		&Job{ID: 1, Type: TypeTaskDue, MaxAttempts: 8},
		&Job{ID: 2, Type: TypeTaskDue, MaxAttempts: 8, Attempts: 2},
		&Job{ID: 3, Type: TypeTaskDue, MaxAttempts: 8},
		&Job{ID: 4, Type: "MYSTERY", MaxAttempts: 8},
		&Job{ID: 5, Type: TypeTaskDue, MaxAttempts: 3, Attempts: 2},
	)
	w := &Worker{
		ID:     "w1",
		Queue:  q,
		Logger: testutil.Logger(),
		now:    func() time.Time { return fixed },
		Handlers: map[string]Handler{
			TypeTaskDue: HandlerFunc(func(_ context.Context, j *Job) error {
				switch j.ID {
				case 2, 5:
					return errors.New("db hiccup")
				case 3:
					return fmt.Errorf("bad payload: %w", ErrPermanent)
				}
				return nil
			}),
		},
	}

	n := 0
	for w.RunOnce(context.Background()) {
		n++
	}

	assert.Equal(t, 5, n)
	assert.Equal(t, []uint64{1}, q.done)
	assert.Equal(t, fixed.Add(8*time.Second), q.retried[2])
	assert.Contains(t, q.failed[3], "bad payload")
	assert.Equal(t, "unknown job type", q.failed[4])
	assert.Equal(t, "db hiccup", q.failed[5])
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 64*time.Second, Backoff(6))
	assert.Equal(t, 10*time.Minute, Backoff(20))
}

func TestScheduleTaskDueReplacesPending(t *testing.T) {
	gdb := testutil.OpenDB(t, &Job{})
	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, ScheduleTaskDue(gdb, 7, due.Add(-time.Hour)))
	require.NoError(t, ScheduleTaskDue(gdb, 7, due))
	require.NoError(t, ScheduleTaskDue(gdb, 8, due))

	var pending []Job
	require.NoError(t, gdb.Where("status = ?", StatusPending).Order("id").Find(&pending).Error)
	require.Len(t, pending, 2)
	assert.Equal(t, "task:7", pending[0].RefKey)
	assert.True(t, pending[0].RunAt.Equal(due))

	var p TaskDue
	require.NoError(t, json.Unmarshal(pending[0].Payload, &p))
	assert.Equal(t, uint64(7), p.TaskID)
	assert.True(t, p.DueAt.Equal(due))

	var cancelled int64
	require.NoError(t, gdb.Model(&Job{}).Where("status = ?", StatusCancelled).Count(&cancelled).Error)
	assert.Equal(t, int64(1), cancelled)
}

func TestRepoStatusTransitions(t *testing.T) {
	gdb := testutil.OpenDB(t, &Job{})
	repo := &Repo{DB: gdb}
	ctx := context.Background()

	require.NoError(t, ScheduleTaskDue(gdb, 1, time.Now()))
	var j Job
	require.NoError(t, gdb.First(&j).Error)

	next := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, repo.RetryLater(ctx, j.ID, 1, next, "boom"))
	require.NoError(t, gdb.First(&j, j.ID).Error)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "boom", *j.LastError)

	require.NoError(t, repo.MarkFailed(ctx, j.ID, "gave up"))
	require.NoError(t, gdb.First(&j, j.ID).Error)
	assert.Equal(t, StatusFailed, j.Status)

	require.NoError(t, repo.MarkDone(ctx, j.ID))
	require.NoError(t, gdb.First(&j, j.ID).Error)
	assert.Equal(t, StatusDone, j.Status)
}
