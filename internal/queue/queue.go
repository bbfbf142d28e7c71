// Package queue is a durable FIFO job queue on SQLite. Several worker
// processes may share one database file: a popped job is leased, not
// removed, and becomes visible again if it is not acknowledged before the
// lease expires. Delivery is therefore at-least-once.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const defaultPollInterval = 200 * time.Millisecond

// Queue is one logical queue inside a SQLite database.
type Queue struct {
	db    *sql.DB
	name  string
	owner string

	lease time.Duration
	poll  time.Duration
	now   func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithLease sets how long a popped job stays invisible to other workers.
func WithLease(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithPollInterval sets how often Pop re-checks an empty queue.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.poll = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open opens (creating if needed) the queue called name in the database at
// dsn. dsn is a file path, optionally with go-sqlite3 query parameters.
func Open(dsn, name string, opts ...Option) (*Queue, error) {
	if dsn == "" {
		return nil, errors.New("queue: empty DSN")
	}
	if name == "" {
		return nil, errors.New("queue: empty queue name")
	}

	path := dsn
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		path = dsn[:i]
	} else {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	q := &Queue{
		db:    db,
		name:  name,
		owner: uuid.NewString(),
		lease: 30 * time.Minute,
		poll:  defaultPollInterval,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return q, nil
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		queue TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL,
		visible_at INTEGER NOT NULL,
		lease_owner TEXT,
		attempts INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_queue_visible ON jobs(queue, visible_at, seq);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Name returns the logical queue name.
func (q *Queue) Name() string { return q.name }

// Owner returns this instance's lease owner ID.
func (q *Queue) Owner() string { return q.owner }

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Ping checks that the database is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Push appends job to the tail of the queue, assigning an ID if it has
// none, and returns the ID.
func (q *Queue) Push(ctx context.Context, job *Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := job.Payload()
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}
	now := q.now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, queue, payload, enqueued_at, visible_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, q.name, string(payload), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to push job: %w", err)
	}
	return job.ID, nil
}

// Pop waits up to timeout for the oldest visible job and leases it. It
// returns (nil, nil) when the timeout passes with nothing to do. A payload
// that cannot be parsed is returned as an error together with its ID in a
// *BadJobError so the caller can Ack it away.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	deadline := q.now().Add(timeout)
	for {
		job, err := q.claim(ctx)
		if err != nil || job != nil {
			return job, err
		}
		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil, nil
		}
		wait := q.poll
		if remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// BadJobError carries the ID of a leased row whose payload is invalid.
type BadJobError struct {
	ID  string
	Err error
}

func (e *BadJobError) Error() string { return fmt.Sprintf("queue: job %s: %v", e.ID, e.Err) }
func (e *BadJobError) Unwrap() error { return e.Err }

func (q *Queue) claim(ctx context.Context) (*Job, error) {
	now := q.now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET lease_owner = ?, visible_at = ?, attempts = attempts + 1
		WHERE seq = (
			SELECT seq FROM jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY seq
			LIMIT 1
		)
		RETURNING id, payload, attempts`,
		q.owner, now.Add(q.lease).UnixMilli(), q.name, now.UnixMilli())

	var (
		id, payload string
		attempts    int
	)
	if err := row.Scan(&id, &payload, &attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job, err := ParseJob([]byte(payload))
	if err != nil {
		return nil, &BadJobError{ID: id, Err: err}
	}
	job.ID = id
	job.Attempts = attempts
	return job, nil
}

// Ack removes a processed job.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND queue = ?`, id, q.name); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", id, err)
	}
	return nil
}

// Len returns the number of jobs in the queue, leased or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE queue = ?`, q.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
