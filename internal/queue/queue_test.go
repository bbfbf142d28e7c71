package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestQueue(t *testing.T, name string, opts ...Option) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"), name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestPushPopFIFO(t *testing.T) {
	q := openTestQueue(t, "grammar")
	ctx := context.Background()

	first, err := q.Push(ctx, &Job{Type: JobCompileAll})
	require.NoError(t, err)
	second, err := q.Push(ctx, &Job{Type: JobCompileOne, Lang: "Fre"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	j, err := q.Pop(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, first, j.ID)
	assert.Equal(t, JobCompileAll, j.Type)
	assert.Equal(t, 1, j.Attempts)

	j, err = q.Pop(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, second, j.ID)
	assert.Equal(t, "Fre", j.Lang)

	j, err = q.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, j, "both jobs are leased")
}

func TestPopTimeout(t *testing.T) {
	q := openTestQueue(t, "grammar", WithPollInterval(10*time.Millisecond))
	start := time.Now()
	j, err := q.Pop(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPopCancelled(t *testing.T) {
	q := openTestQueue(t, "grammar")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx, time.Second)
	assert.Error(t, err)
}

func TestAckRemovesJob(t *testing.T) {
	q := openTestQueue(t, "grammar")
	ctx := context.Background()

	id, err := q.Push(ctx, &Job{Type: JobCompileAll})
	require.NoError(t, err)
	j, err := q.Pop(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, j.ID))
	assert.Equal(t, id, j.ID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpiredLeaseRedelivers(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := openTestQueue(t, "grammar", WithLease(time.Minute), withClock(clock.Now))
	ctx := context.Background()

	_, err := q.Push(ctx, &Job{Type: JobCompileAll})
	require.NoError(t, err)

	j, err := q.Pop(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, j)

	clock.Advance(30 * time.Second)
	again, err := q.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, again)

	clock.Advance(31 * time.Second)
	again, err = q.Pop(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, j.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestQueuesArePartitionedByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	a, err := Open(path, "a")
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, "b")
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	_, err = a.Push(ctx, &Job{Type: JobCompileAll})
	require.NoError(t, err)

	j, err := b.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = a.Pop(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, j)
}

func TestPushRejectsInvalidJob(t *testing.T) {
	q := openTestQueue(t, "grammar")
	_, err := q.Push(context.Background(), &Job{Type: "deploy"})
	assert.ErrorIs(t, err, ErrUnknownJobType)

	_, err = q.Push(context.Background(), &Job{Type: JobCompileOne})
	assert.Error(t, err)
}

func TestPopBadPayload(t *testing.T) {
	q := openTestQueue(t, "grammar")
	ctx := context.Background()
	_, err := q.db.Exec(`INSERT INTO jobs (id, queue, payload, enqueued_at, visible_at) VALUES ('bad', 'grammar', '{"type":"nope"}', 0, 0)`)
	require.NoError(t, err)

	_, err = q.Pop(ctx, 0)
	var bad *BadJobError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "bad", bad.ID)
	assert.ErrorIs(t, err, ErrUnknownJobType)
	require.NoError(t, q.Ack(ctx, bad.ID))
}

func TestOpenValidates(t *testing.T) {
	_, err := Open("", "q")
	assert.Error(t, err)
	_, err = Open(filepath.Join(t.TempDir(), "q.db"), "")
	assert.Error(t, err)
}

func TestPopCarriesParams(t *testing.T) {
	q := openTestQueue(t, "grammar")
	ctx := context.Background()
	require.NoError(t, q.Ping(ctx))

	id, err := q.Push(ctx, &Job{Type: JobCompileAll, Params: map[string]string{"requested_by": "ci"}})
	require.NoError(t, err)

	j, err := q.Pop(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, map[string]string{"requested_by": "ci"}, j.Params)
}
