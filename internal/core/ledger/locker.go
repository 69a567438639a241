package ledger

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/domain"
)

// Locker serializes balance-affecting work per account. Each account owns a
// one-slot semaphore; multi-account callers acquire in ascending id order so
// two transfers in opposite directions cannot deadlock.
type Locker struct {
	mu      sync.Mutex
	slots   map[uuid.UUID]chan struct{}
	timeout time.Duration
}

func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Locker{slots: make(map[uuid.UUID]chan struct{}), timeout: timeout}
}

func (l *Locker) slot(id uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// SortIDs returns the distinct ids in the global lock order.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}

// Lock acquires every account slot or none. It fails with domain.ErrBusy when
// a slot is not free within the timeout, and with ctx.Err() on cancellation.
func (l *Locker) Lock(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	ordered := SortIDs(ids)
	held := make([]chan struct{}, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	for _, id := range ordered {
		ch := l.slot(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-timer.C:
			release()
			return nil, fmt.Errorf("%w: account %s locked", domain.ErrBusy, id)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
