package messages_test

import (
	"context"
	"testing"
	"time"

	"github.com/prompted/mqs/internal/messages"
	"github.com/prompted/mqs/internal/metrics"
)

func TestSweeperRemovesExpiredInBackground(t *testing.T) {
	db := testDB(t)
	store := messages.NewStore(db)
	ctx := context.Background()
	q := createQueue(t, db, "short", plainQueue(1, 0, 0))

	if _, _, err := store.Publish(ctx, q, textInput("stale")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sweeper := messages.NewSweeper(store, metrics.New(), 50*time.Millisecond, 100)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run()
	}()
	defer func() {
		sweeper.Close()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT count(*) FROM messages`).Scan(&count); err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("sweeper did not remove the expired message in time")
}
