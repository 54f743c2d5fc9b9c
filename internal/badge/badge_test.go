package badge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tutorchat/pkg/types"
)

type stubSource struct {
	mu    sync.Mutex
	rows  []types.Notification
	err   error
	limit int
}

func (s *stubSource) ListNotifications(ctx context.Context, limit int) ([]types.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	return s.rows, s.err
}

func TestCountUnread(t *testing.T) {
	source := &stubSource{rows: []types.Notification{{ID: 1}, {ID: 2, IsRead: true}, {ID: 3}}}
	feed := NewFeed(source, 0)

	if got := feed.CountUnread(context.Background()); got != 2 {
		t.Errorf("CountUnread = %d, want 2", got)
	}
	if source.limit != DefaultLimit {
		t.Errorf("Expected default limit %d, got %d", DefaultLimit, source.limit)
	}
}

func TestCountUnread_FailureIsZero(t *testing.T) {
	feed := NewFeed(&stubSource{err: errors.New("offline")}, 10)
	if got := feed.CountUnread(context.Background()); got != 0 {
		t.Errorf("CountUnread on failure = %d, want 0", got)
	}
}

func TestNewFeed_ClampsLimit(t *testing.T) {
	source := &stubSource{}
	NewFeed(source, 500).CountUnread(context.Background())
	if source.limit != 200 {
		t.Errorf("Expected limit clamped to 200, got %d", source.limit)
	}
}

func TestPoll(t *testing.T) {
	source := &stubSource{rows: []types.Notification{{ID: 1}}}
	feed := NewFeed(source, 50)

	ctx, cancel := context.WithCancel(context.Background())
	counts := make(chan int, 10)
	done := make(chan struct{})
	go func() {
		feed.Poll(ctx, 10*time.Millisecond, func(n int) { counts <- n })
		close(done)
	}()

	if got := <-counts; got != 1 {
		t.Errorf("First poll = %d, want 1", got)
	}

	source.mu.Lock()
	source.rows = append(source.rows, types.Notification{ID: 2})
	source.mu.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-counts:
			if n == 2 {
				cancel()
				<-done
				return
			}
		case <-deadline:
			t.Fatal("Poll never observed the new notification")
		}
	}
}
