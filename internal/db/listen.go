package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Listen subscribes to a NOTIFY channel on its own connection and turns
// notifications into wake-ups. Bursts collapse into one pending signal.
// The channel closes when ctx is done.
func Listen(ctx context.Context, dsn, channel string, log *slog.Logger) (<-chan struct{}, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("notify listener", "channel", channel, "event", int(ev), "err", err)
		}
	}
	l := pq.NewListener(dsn, 500*time.Millisecond, time.Minute, report)
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer l.Close()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.Notify:
				// nil after a reconnect; wake anyway, events may have been missed
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-ping.C:
				go l.Ping()
			}
		}
	}()
	return wake, nil
}
