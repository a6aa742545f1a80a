package resilience

import (
	"context"
	"sync"
)

// KeyedLock serializes work per key. Each key gets a single-slot bulkhead
// that is dropped once nobody holds or waits for it.
type KeyedLock struct {
	mu    sync.Mutex
	slots map[string]*keyedSlot
}

type keyedSlot struct {
	bh   *Bulkhead
	refs int
}

// NewKeyedLock creates an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{slots: make(map[string]*keyedSlot)}
}

// Acquire blocks until key is free or ctx is done. The returned function
// releases the key and must be called exactly once.
func (k *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &keyedSlot{bh: NewBulkhead(1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	if err := s.bh.Acquire(ctx); err != nil {
		k.drop(key, s)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.bh.Release()
			k.drop(key, s)
		})
	}, nil
}

func (k *KeyedLock) drop(key string, s *keyedSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 && k.slots[key] == s {
		delete(k.slots, key)
	}
}

// Len reports how many keys are currently tracked.
func (k *KeyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
