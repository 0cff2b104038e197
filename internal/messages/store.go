package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prompted/mqs/internal/hash"
	"github.com/prompted/mqs/internal/queues"
)

// ErrQueueNotFound is returned when a publish races a queue delete.
var ErrQueueNotFound = errors.New("queue not found")

// receiveAttempts bounds the claim transactions of a single Receive call: the
// first claim plus up to two retries after a claimed message turned out to be
// due for redrive.
const receiveAttempts = 3

// Message is a snapshot of a claimed or stored message.
type Message struct {
	ID              uuid.UUID
	Payload         []byte
	ContentType     string
	ContentEncoding *string
	Receives        int32
	VisibleSince    time.Time
	CreatedAt       time.Time
}

// Input carries the payload and content metadata of a publish.
type Input struct {
	Payload         []byte
	ContentType     string
	ContentEncoding *string
}

// Redrive describes one message moved out of a queue during Receive.
// Inserted is false when the dead letter queue's deduplication dropped it
// or the target vanished mid-flight.
type Redrive struct {
	Target   string
	Inserted bool
}

// Store manages message persistence. It is safe for concurrent use — all
// concurrency is handled by PostgreSQL (FOR UPDATE SKIP LOCKED), not by
// Go-level locks.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ---------------------------------------------------------------------------
// Publish
// ---------------------------------------------------------------------------

// Publish inserts a message into the queue with visible_since delayed by the
// queue's message_delay. When the queue deduplicates by content and an equal
// fingerprint is already present, no row is written and created is false.
// visibleAt is only meaningful when created is true.
func (s *Store) Publish(ctx context.Context, q queues.Queue, in Input) (created bool, visibleAt time.Time, err error) {
	var fingerprint *string
	if q.ContentBasedDeduplication {
		var enc string
		if in.ContentEncoding != nil {
			enc = *in.ContentEncoding
		}
		fp := hash.Fingerprint(in.ContentType, enc, in.Payload)
		fingerprint = &fp
	}

	err = s.db.QueryRowContext(ctx, queryPublish,
		uuid.New(), in.Payload, in.ContentType, in.ContentEncoding,
		fingerprint, q.Name, q.MessageDelay,
	).Scan(&visibleAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, time.Time{}, nil
	case isForeignKeyViolation(err):
		return false, time.Time{}, ErrQueueNotFound
	case err != nil:
		return false, time.Time{}, fmt.Errorf("insert message into %s: %w", q.Name, err)
	}
	return true, visibleAt, nil
}

// ---------------------------------------------------------------------------
// Receive
// ---------------------------------------------------------------------------

// Receive claims the next deliverable message of the queue. When the claimed
// message has exceeded the queue's max_receives it is redriven to the dead
// letter queue instead of being returned, and the claim is retried a bounded
// number of times so an immediate redrive alone does not produce an empty
// response. A nil Message with a nil error means the queue is empty.
func (s *Store) Receive(ctx context.Context, q queues.Queue) (*Message, []Redrive, error) {
	var redrives []Redrive
	for attempt := 0; attempt < receiveAttempts; attempt++ {
		m, rd, err := s.receiveOnce(ctx, q)
		if err != nil {
			return nil, redrives, err
		}
		if rd != nil {
			redrives = append(redrives, *rd)
			continue
		}
		return m, redrives, nil
	}
	return nil, redrives, nil
}

// receiveOnce runs one claim transaction. Exactly one of the returns is set:
// a delivered message, a redrive record, or neither when the queue is empty.
func (s *Store) receiveOnce(ctx context.Context, q queues.Queue) (*Message, *Redrive, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var m Message
	err = tx.QueryRowContext(ctx, queryClaim, q.Name, q.RetentionTimeout, q.VisibilityTimeout).Scan(
		&m.ID, &m.Payload, &m.ContentType, &m.ContentEncoding,
		&m.Receives, &m.VisibleSince, &m.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("claim message from %s: %w", q.Name, err)
	}

	if q.MaxReceives != nil && m.Receives > *q.MaxReceives {
		rd, err := s.redrive(ctx, tx, q, &m)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, nil, fmt.Errorf("commit: %w", err)
		}
		return nil, rd, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return &m, nil, nil
}

// redrive deletes the over-received message and republishes it into the dead
// letter queue within the caller's transaction. The republished copy gets a
// fresh id, zero receives, and is immediately visible — it has waited long
// enough already. Retention restarts: for the dead letter queue this is a
// new message.
func (s *Store) redrive(ctx context.Context, tx *sql.Tx, q queues.Queue, m *Message) (*Redrive, error) {
	if _, err := tx.ExecContext(ctx, queryDeleteByID, m.ID); err != nil {
		return nil, fmt.Errorf("delete message %s: %w", m.ID, err)
	}

	rd := &Redrive{}
	if q.DeadLetterQueue == nil {
		return rd, nil
	}
	target := *q.DeadLetterQueue

	var dedup bool
	err := tx.QueryRowContext(ctx, queryQueueDedup, target).Scan(&dedup)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Target vanished under us; the message is simply dropped.
		return rd, nil
	case err != nil:
		return nil, fmt.Errorf("find dead letter queue %s: %w", target, err)
	}
	rd.Target = target

	var fingerprint *string
	if dedup {
		var enc string
		if m.ContentEncoding != nil {
			enc = *m.ContentEncoding
		}
		fp := hash.Fingerprint(m.ContentType, enc, m.Payload)
		fingerprint = &fp
	}

	res, err := tx.ExecContext(ctx, queryRedrive,
		uuid.New(), m.Payload, m.ContentType, m.ContentEncoding, fingerprint, target,
	)
	if err != nil {
		return nil, fmt.Errorf("redrive message into %s: %w", target, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("redrive rows affected: %w", err)
	}
	rd.Inserted = inserted > 0
	return rd, nil
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

// Delete removes a message by id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, queryDeleteByID, id)
	if err != nil {
		return false, fmt.Errorf("delete message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Sweep
// ---------------------------------------------------------------------------

// Sweep deletes up to batch messages whose retention has expired and returns
// how many were removed. Callers loop while the batch comes back full.
func (s *Store) Sweep(ctx context.Context, batch int) (int64, error) {
	res, err := s.db.ExecContext(ctx, querySweep, batch)
	if err != nil {
		return 0, fmt.Errorf("sweep exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
