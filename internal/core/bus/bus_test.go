package bus

import (
	"testing"
	"time"

	"watchpost.core/internal/core/domain"
)

func snapAt(sec int) domain.Snapshot {
	return domain.Snapshot{Timestamp: time.Unix(int64(sec), 0)}
}

func TestSnapshotsDeliveredInOrder(t *testing.T) {
	b := New(4, 4)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		b.PublishSnapshot(snapAt(i))
	}
	for i := 1; i <= 3; i++ {
		got := <-sub.Snapshots()
		if want := time.Unix(int64(i), 0); !got.Timestamp.Equal(want) {
			t.Fatalf("snapshot %d timestamp = %v, want %v", i, got.Timestamp, want)
		}
	}
}

func TestSlowSubscriberDropsOldestSnapshot(t *testing.T) {
	b := New(2, 2)
	sub := b.Subscribe()
	defer sub.Close()

	// Nothing reads; the buffer holds 2, so publishing 4 evicts the first 2.
	for i := 1; i <= 4; i++ {
		b.PublishSnapshot(snapAt(i))
	}

	if got := b.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	for i := 3; i <= 4; i++ {
		got := <-sub.Snapshots()
		if want := time.Unix(int64(i), 0); !got.Timestamp.Equal(want) {
			t.Fatalf("kept snapshot timestamp = %v, want %v", got.Timestamp, want)
		}
	}
}

func TestFullEventBufferDropsNewEvent(t *testing.T) {
	b := New(1, 1)
	sub := b.Subscribe()
	defer sub.Close()

	b.PublishEvent(domain.NotificationEvent{Message: "first"})
	b.PublishEvent(domain.NotificationEvent{Message: "second"}) // dropped

	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if got := <-sub.Events(); got.Message != "first" {
		t.Errorf("kept event = %q, want first", got.Message)
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	b := New(1, 1)
	done := make(chan struct{})
	go func() {
		b.PublishSnapshot(snapAt(1))
		b.PublishEvent(domain.NotificationEvent{Message: "m"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestEachSubscriberGetsEveryMessage(t *testing.T) {
	b := New(2, 2)
	a := b.Subscribe()
	c := b.Subscribe()
	defer a.Close()
	defer c.Close()

	b.PublishSnapshot(snapAt(7))

	for _, sub := range []*Subscription{a, c} {
		got := <-sub.Snapshots()
		if !got.Timestamp.Equal(time.Unix(7, 0)) {
			t.Fatalf("subscriber got timestamp %v", got.Timestamp)
		}
	}
}

func TestCloseDetachesSubscribers(t *testing.T) {
	b := New(1, 1)
	sub := b.Subscribe()

	b.Close()
	if _, ok := <-sub.Snapshots(); ok {
		t.Error("snapshot channel should be closed")
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("event channel should be closed")
	}

	// Publishing after Close is a no-op, and late subscribers get closed
	// channels instead of a leak.
	b.PublishSnapshot(snapAt(1))
	late := b.Subscribe()
	if _, ok := <-late.Snapshots(); ok {
		t.Error("late subscription should be closed immediately")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(2, 2)
	sub := b.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	b.PublishSnapshot(snapAt(1))
	if _, ok := <-sub.Snapshots(); ok {
		t.Error("closed subscription must not receive snapshots")
	}
}
