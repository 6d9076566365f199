package sqlitelog

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// backoff retries writes that lose a lock race. busy_timeout absorbs most
// contention inside the driver; what reaches here has already waited once.
type backoff struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
}

var writeBackoff = backoff{attempts: 4, base: 50 * time.Millisecond, ceiling: 500 * time.Millisecond}

// do runs fn until it succeeds, fails with a non-lock error, runs out of
// attempts, or ctx is done.
func (b backoff) do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for n := 0; n < b.attempts; n++ {
		if err = fn(ctx); err == nil || !lockContention(err) {
			return err
		}
		if n == b.attempts-1 {
			break
		}
		t := time.NewTimer(b.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// delay doubles from base up to ceiling, with up to base of jitter on top.
func (b backoff) delay(n int) time.Duration {
	d := min(b.base<<n, b.ceiling)
	if b.base > 0 {
		d += rand.N(b.base)
	}
	return d
}

func lockContention(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return se.Code() == sqlite3.SQLITE_IOERR_SHORT_READ
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
