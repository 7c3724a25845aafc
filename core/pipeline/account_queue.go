package pipeline

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// accountQueue serializes runs per smart account inside this process. A run
// holds its account's slot from the nonce read until the operation settles,
// so the next run reads the advanced nonce. Runs for different accounts never
// wait on each other.
type accountQueue struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

func newAccountQueue() *accountQueue {
	return &accountQueue{slots: make(map[common.Address]chan struct{})}
}

// acquire blocks until account's slot is free or ctx is done. The returned
// release must be called exactly once.
func (q *accountQueue) acquire(ctx context.Context, account common.Address) (func(), error) {
	q.mu.Lock()
	slot, ok := q.slots[account]
	if !ok {
		slot = make(chan struct{}, 1)
		q.slots[account] = slot
	}
	q.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
