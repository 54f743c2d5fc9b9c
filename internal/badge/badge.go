// Package badge computes the unread notification count shown on the chat entry point.
package badge

import (
	"context"
	"log"
	"time"

	"tutorchat/pkg/interfaces"
)

// DefaultLimit matches the server's default page
const DefaultLimit = 50

// Feed counts unread notifications for the signed-in user
type Feed struct {
	source interfaces.NotificationSource
	limit  int
}

// NewFeed clamps limit to the server's 1..200 range
func NewFeed(source interfaces.NotificationSource, limit int) *Feed {
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > 200 {
		limit = 200
	}
	return &Feed{source: source, limit: limit}
}

// CountUnread counts unread rows within the first page. Any failure reads as zero.
func (f *Feed) CountUnread(ctx context.Context) int {
	notifications, err := f.source.ListNotifications(ctx, f.limit)
	if err != nil {
		log.Printf("Unread badge unavailable: %v", err)
		return 0
	}

	count := 0
	for _, n := range notifications {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// Poll reports the count immediately and then every interval until ctx is done
func (f *Feed) Poll(ctx context.Context, interval time.Duration, fn func(int)) {
	fn(f.CountUnread(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(f.CountUnread(ctx))
		}
	}
}
