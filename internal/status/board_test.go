package status

import (
	"testing"
	"time"
)

func TestBoardLatestAndReady(t *testing.T) {
	t.Parallel()

	board := NewBoard()
	if board.Ready() {
		t.Fatalf("empty board reported ready")
	}
	if _, ok := board.Latest(); ok {
		t.Fatalf("empty board returned a snapshot")
	}

	board.Publish(Snapshot{State: "running", Counters: Counters{Frames: 1}})
	if !board.Ready() {
		t.Fatalf("board not ready after publish")
	}
	snap, ok := board.Latest()
	if !ok || snap.State != "running" || snap.Counters.Frames != 1 {
		t.Fatalf("unexpected latest snapshot %+v", snap)
	}
}

func TestBoardSubscribeDropsOldest(t *testing.T) {
	t.Parallel()

	board := NewBoard()
	board.Publish(Snapshot{Counters: Counters{Frames: 1}})

	ch, unsubscribe := board.Subscribe()
	defer unsubscribe()

	first := awaitSnapshot(t, ch)
	if first.Counters.Frames != 1 {
		t.Fatalf("expected current snapshot on subscribe, got %+v", first)
	}

	for i := uint64(2); i <= 5; i++ {
		board.Publish(Snapshot{Counters: Counters{Frames: i}})
	}
	latest := awaitSnapshot(t, ch)
	if latest.Counters.Frames != 5 {
		t.Fatalf("expected newest snapshot 5, got %d", latest.Counters.Frames)
	}

	select {
	case snap := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", snap)
	default:
	}
}

func TestBoardCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	board := NewBoard()
	ch, unsubscribe := board.Subscribe()

	board.Close()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}

	// Both are no-ops after Close.
	unsubscribe()
	board.Publish(Snapshot{State: "late"})
	if snap, _ := board.Latest(); snap.State == "late" {
		t.Fatalf("publish after close was stored")
	}

	late, _ := board.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscription after close should be closed")
	}
}

func awaitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}
