package ledger

import (
	"context"
	"time"
)

// DefaultReentryWait bounds how long a call without the guard marker waits
// for a transition whose token movement is in flight.
const DefaultReentryWait = 30 * time.Second

// guardKey marks a context as already running inside a transition of l.
type guardKey struct{ l *Ledger }

// enter admits one mutating call at a time. A context that already carries
// this ledger's marker belongs to a token callback made from inside a
// transition and is refused rather than queued, since queueing would wait on
// the very call that is holding the slot.
//
// A callback that drops the context cannot be told apart from an unrelated
// caller. While the holder is in its token movement such callers wait at most
// reentryWait and are then refused as re-entrant.
func (l *Ledger) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(guardKey{l}) != nil {
		return nil, nil, ErrReentrantCall
	}
	select {
	case l.sem <- struct{}{}:
	default:
		if err := l.wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	l.depth.Add(1)
	release := func() {
		l.depth.Add(-1)
		<-l.sem
	}
	return context.WithValue(ctx, guardKey{l}, struct{}{}), release, nil
}

func (l *Ledger) wait(ctx context.Context) error {
	var backstop <-chan time.Time
	if l.moving.Load() {
		timer := time.NewTimer(l.reentryWait)
		defer timer.Stop()
		backstop = timer.C
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-backstop:
		return ErrReentrantCall
	}
}

// Depth returns the number of mutating calls currently inside the ledger.
func (l *Ledger) Depth() int64 {
	return l.depth.Load()
}
