// Package queues implements queue configuration storage and its HTTP surface.
package queues

// All SQL queries are collected here so they are easy to audit and test.
const (
	// queryInsert creates a queue. ON CONFLICT makes the name race explicit —
	// RETURNING lets us distinguish a fresh row from a duplicate at the Go layer.
	queryInsert = `
INSERT INTO queues (name, max_receives, dead_letter_queue, retention_timeout,
                    visibility_timeout, message_delay, content_based_deduplication)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name) DO NOTHING
RETURNING id, created_at, updated_at`

	// queryUpdate replaces all mutable fields. Hidden messages keep their
	// scheduled visible_since; a new visibility timeout only affects later
	// receives.
	queryUpdate = `
UPDATE queues
SET max_receives                = $2,
    dead_letter_queue           = $3,
    retention_timeout           = $4,
    visibility_timeout          = $5,
    message_delay               = $6,
    content_based_deduplication = $7,
    updated_at                  = now()
WHERE name = $1
RETURNING id, created_at, updated_at`

	// queryClearRedrive removes the redrive policy of every other queue
	// pointing at the queue about to be deleted. The ON DELETE SET NULL
	// cascade plus the database trigger would do the same; doing it here
	// keeps the service correct even against a store without them. A queue
	// that is its own dead letter queue is left alone so the delete can
	// return its policy unchanged.
	queryClearRedrive = `
UPDATE queues
SET dead_letter_queue = NULL,
    max_receives      = NULL,
    updated_at        = now()
WHERE dead_letter_queue = $1
  AND name <> $1`

	queryDelete = `
DELETE FROM queues
WHERE name = $1
RETURNING id, name, max_receives, dead_letter_queue, retention_timeout,
          visibility_timeout, message_delay, content_based_deduplication,
          created_at, updated_at`

	queryFindByName = `
SELECT id, name, max_receives, dead_letter_queue, retention_timeout,
       visibility_timeout, message_delay, content_based_deduplication,
       created_at, updated_at
FROM queues
WHERE name = $1`

	queryList = `
SELECT id, name, max_receives, dead_letter_queue, retention_timeout,
       visibility_timeout, message_delay, content_based_deduplication,
       created_at, updated_at
FROM queues
ORDER BY id ASC
OFFSET $1 LIMIT $2`

	queryCount = `SELECT count(*) FROM queues`

	// queryStatus computes the live message counts for a queue in one pass.
	queryStatus = `
SELECT count(*),
       count(*) FILTER (WHERE visible_since <= now()),
       COALESCE(EXTRACT(EPOCH FROM now() - min(created_at))::bigint, 0)
FROM messages
WHERE queue = $1`
)
