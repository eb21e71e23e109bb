package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rxverify-service/internal/domain"
)

// MemoryLotLocker はプロセス内でロット単位の排他を行う。単一インスタンス構成向け。
type MemoryLotLocker struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewMemoryLotLocker は取得待ちの上限を指定してMemoryLotLockerを生成する。
func NewMemoryLotLocker(timeout time.Duration) *MemoryLotLocker {
	return &MemoryLotLocker{
		timeout: timeout,
		entries: make(map[string]*lockEntry),
	}
}

// Lock はロットのロックを取得する。timeout 内に取得できなければ domain.ErrConcurrencyConflict。
func (l *MemoryLotLocker) Lock(ctx context.Context, lotID string) (func(), error) {
	entry := l.acquire(lotID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
	case <-timer.C:
		l.release(lotID)
		return nil, fmt.Errorf("%w: lot %s locked for more than %s", domain.ErrConcurrencyConflict, lotID, l.timeout)
	case <-ctx.Done():
		l.release(lotID)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(lotID)
		})
	}, nil
}

func (l *MemoryLotLocker) acquire(lotID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[lotID]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[lotID] = e
	}
	e.refs++
	return e
}

func (l *MemoryLotLocker) release(lotID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[lotID]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, lotID)
	}
}
