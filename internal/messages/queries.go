// Package messages implements message persistence — publish with
// deduplication, the visibility-timeout claim, dead letter redrive, and the
// retention sweep — plus the HTTP surface including long-polling receive.
package messages

// All SQL queries are collected here so they are easy to audit and test.
const (
	// queryPublish inserts a single message. ON CONFLICT against the partial
	// unique index on (queue, hash) makes content deduplication atomic —
	// RETURNING lets us distinguish inserts from dedup hits at the Go layer.
	queryPublish = `
INSERT INTO messages (id, payload, content_type, content_encoding, hash, queue,
                      receives, visible_since, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, now() + make_interval(secs => $7), now())
ON CONFLICT (queue, hash) WHERE hash IS NOT NULL DO NOTHING
RETURNING visible_since`

	// queryClaim atomically claims the next deliverable message: visible,
	// not past retention, oldest visible_since first with the id as a stable
	// tie-break. FOR UPDATE SKIP LOCKED ensures concurrent consumers never
	// receive the same message — no application-level locks are needed.
	queryClaim = `
WITH candidate AS (
    SELECT id
    FROM messages
    WHERE queue = $1
      AND visible_since <= now()
      AND created_at + make_interval(secs => $2) > now()
    ORDER BY visible_since ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE messages m
SET receives      = m.receives + 1,
    visible_since = now() + make_interval(secs => $3)
FROM candidate c
WHERE m.id = c.id
RETURNING m.id, m.payload, m.content_type, m.content_encoding, m.receives,
          m.visible_since, m.created_at`

	// queryQueueDedup reads the dedup flag of the redrive target and key-share
	// locks its row inside the receive transaction, so a concurrent queue
	// delete cannot slip between the check and the insert.
	queryQueueDedup = `
SELECT content_based_deduplication
FROM queues
WHERE name = $1
FOR KEY SHARE`

	// queryRedrive republishes an over-received message into its dead letter
	// queue: fresh id, receives reset, immediately visible, retention
	// restarted. The target's deduplication may drop it.
	queryRedrive = `
INSERT INTO messages (id, payload, content_type, content_encoding, hash, queue,
                      receives, visible_since, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
ON CONFLICT (queue, hash) WHERE hash IS NOT NULL DO NOTHING`

	queryDeleteByID = `
DELETE FROM messages
WHERE id = $1`

	// querySweep deletes a bounded batch of expired messages. SKIP LOCKED
	// keeps the sweep from stalling behind in-flight receives.
	querySweep = `
DELETE FROM messages
WHERE id IN (
    SELECT m.id
    FROM messages m
    JOIN queues q ON q.name = m.queue
    WHERE m.created_at + make_interval(secs => q.retention_timeout) <= now()
    LIMIT $1
    FOR UPDATE OF m SKIP LOCKED
)`
)
