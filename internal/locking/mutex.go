package locking

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
)

// MutexLocker serializes work per key inside one process. It is the only
// in-process state of the engine.
type MutexLocker struct {
	muMap map[string]*sync.Mutex // one *sync.Mutex per ledger row key
	mapMu sync.Mutex             // protects the muMap itself
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{muMap: make(map[string]*sync.Mutex)}
}

func (l *MutexLocker) getLock(key string) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[key]; !exists {
		l.muMap[key] = &sync.Mutex{}
	}
	return l.muMap[key]
}

// Lock blocks until the key is free. ctx is only checked before waiting;
// sync.Mutex cannot be abandoned mid-wait.
func (l *MutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := l.getLock(key)
	mu.Lock()
	return mu.Unlock, nil
}

var _ interfaces.Locker = (*MutexLocker)(nil)
