package queues

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prompted/mqs/internal/models"
)

// Sentinel errors returned by the Store. Handlers map them to HTTP statuses
// with errors.Is.
var (
	ErrNotFound        = errors.New("queue not found")
	ErrConflict        = errors.New("queue already exists")
	ErrDeadLetterQueue = errors.New("dead letter queue does not exist")
	ErrInvalidConfig   = errors.New("invalid queue configuration")
)

// Queue is a queue row. Durations are whole seconds, matching both the
// schema and the JSON API.
type Queue struct {
	ID                        int64
	Name                      string
	MaxReceives               *int32
	DeadLetterQueue           *string
	RetentionTimeout          int64
	VisibilityTimeout         int64
	MessageDelay              int64
	ContentBasedDeduplication bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Status holds the live message counts of a queue.
type Status struct {
	Messages         int64
	VisibleMessages  int64
	OldestMessageAge int64
}

// Input carries the validated fields for create and update.
type Input struct {
	MaxReceives               *int32
	DeadLetterQueue           *string
	RetentionTimeout          int64
	VisibilityTimeout         int64
	MessageDelay              int64
	ContentBasedDeduplication bool
}

// ConfigOutput converts a queue row into its API representation.
func (q Queue) ConfigOutput() models.QueueConfigOutput {
	out := models.QueueConfigOutput{
		Name:                 q.Name,
		RetentionTimeout:     q.RetentionTimeout,
		VisibilityTimeout:    q.VisibilityTimeout,
		MessageDelay:         q.MessageDelay,
		MessageDeduplication: q.ContentBasedDeduplication,
	}
	if q.MaxReceives != nil && q.DeadLetterQueue != nil {
		out.RedrivePolicy = &models.RedrivePolicy{
			MaxReceives:     *q.MaxReceives,
			DeadLetterQueue: *q.DeadLetterQueue,
		}
	}
	return out
}

// Store manages queue persistence. It is safe for concurrent use — all
// concurrency is handled by PostgreSQL, not by Go-level locks.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new queue. It returns ErrConflict when the name is taken
// and ErrDeadLetterQueue when the referenced dead letter queue is missing.
func (s *Store) Create(ctx context.Context, name string, in Input) (Queue, error) {
	q := queueFromInput(name, in)
	err := s.db.QueryRowContext(ctx, queryInsert,
		name, in.MaxReceives, in.DeadLetterQueue, in.RetentionTimeout,
		in.VisibilityTimeout, in.MessageDelay, in.ContentBasedDeduplication,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Queue{}, ErrConflict
	case err != nil:
		return Queue{}, mapConstraintErr(err, fmt.Errorf("insert queue %s: %w", name, err))
	}
	return q, nil
}

// Update replaces a queue's mutable fields. It returns ErrNotFound when the
// queue does not exist.
func (s *Store) Update(ctx context.Context, name string, in Input) (Queue, error) {
	q := queueFromInput(name, in)
	err := s.db.QueryRowContext(ctx, queryUpdate,
		name, in.MaxReceives, in.DeadLetterQueue, in.RetentionTimeout,
		in.VisibilityTimeout, in.MessageDelay, in.ContentBasedDeduplication,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Queue{}, ErrNotFound
	case err != nil:
		return Queue{}, mapConstraintErr(err, fmt.Errorf("update queue %s: %w", name, err))
	}
	return q, nil
}

// Delete removes a queue and, by cascade, its messages. Every queue that
// used it as a dead letter target loses its whole redrive policy first.
// Returns the configuration the queue had before the delete.
func (s *Store) Delete(ctx context.Context, name string) (Queue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Queue{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryClearRedrive, name); err != nil {
		return Queue{}, fmt.Errorf("clear redrive policies for %s: %w", name, err)
	}

	var q Queue
	err = tx.QueryRowContext(ctx, queryDelete, name).Scan(
		&q.ID, &q.Name, &q.MaxReceives, &q.DeadLetterQueue, &q.RetentionTimeout,
		&q.VisibilityTimeout, &q.MessageDelay, &q.ContentBasedDeduplication,
		&q.CreatedAt, &q.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Queue{}, ErrNotFound
	case err != nil:
		return Queue{}, fmt.Errorf("delete queue %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return Queue{}, fmt.Errorf("commit: %w", err)
	}
	return q, nil
}

// Get returns a queue by name or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (Queue, error) {
	var q Queue
	err := s.db.QueryRowContext(ctx, queryFindByName, name).Scan(
		&q.ID, &q.Name, &q.MaxReceives, &q.DeadLetterQueue, &q.RetentionTimeout,
		&q.VisibilityTimeout, &q.MessageDelay, &q.ContentBasedDeduplication,
		&q.CreatedAt, &q.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Queue{}, ErrNotFound
	case err != nil:
		return Queue{}, fmt.Errorf("find queue %s: %w", name, err)
	}
	return q, nil
}

// Describe returns a queue together with its live message counts.
func (s *Store) Describe(ctx context.Context, name string) (Queue, Status, error) {
	q, err := s.Get(ctx, name)
	if err != nil {
		return Queue{}, Status{}, err
	}

	var st Status
	err = s.db.QueryRowContext(ctx, queryStatus, name).Scan(
		&st.Messages, &st.VisibleMessages, &st.OldestMessageAge,
	)
	if err != nil {
		return Queue{}, Status{}, fmt.Errorf("queue status %s: %w", name, err)
	}
	return q, st, nil
}

// List returns a page of queues ordered by creation plus the total count.
func (s *Store) List(ctx context.Context, offset, limit int64) ([]Queue, int64, error) {
	rows, err := s.db.QueryContext(ctx, queryList, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var queues []Queue
	for rows.Next() {
		var q Queue
		if err := rows.Scan(
			&q.ID, &q.Name, &q.MaxReceives, &q.DeadLetterQueue, &q.RetentionTimeout,
			&q.VisibilityTimeout, &q.MessageDelay, &q.ContentBasedDeduplication,
			&q.CreatedAt, &q.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, queryCount).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queues: %w", err)
	}
	return queues, total, nil
}

func queueFromInput(name string, in Input) Queue {
	return Queue{
		Name:                      name,
		MaxReceives:               in.MaxReceives,
		DeadLetterQueue:           in.DeadLetterQueue,
		RetentionTimeout:          in.RetentionTimeout,
		VisibilityTimeout:         in.VisibilityTimeout,
		MessageDelay:              in.MessageDelay,
		ContentBasedDeduplication: in.ContentBasedDeduplication,
	}
}

// mapConstraintErr folds Postgres constraint violations into sentinel errors:
// a foreign key violation means the dead letter queue is missing, a check
// violation means an out-of-range field slipped past service validation.
func mapConstraintErr(err, wrapped error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return ErrDeadLetterQueue
		case "23505":
			return ErrConflict
		case "23514":
			return fmt.Errorf("%w: %s", ErrInvalidConfig, pgErr.ConstraintName)
		}
	}
	return wrapped
}
