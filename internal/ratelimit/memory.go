package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryEntry はメモリストア内部のエントリ。掃除判定のため窓長も保持する。
type memoryEntry struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

// MemoryStore はプロセス内メモリのカウンタストア。
// read-modify-writeの列全体をミューテックスで保護する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
	}
}

// Incr は窓の算術を適用しつつカウントを1進める。
// あわせて、窓の2倍を超えて経過したエントリを遅延掃除する。
// 一見客の識別子が無制限に溜まることを防ぐ。
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	e, ok := s.entries[key]
	if !ok || now.Sub(e.windowStart) >= window {
		// 窓が存在しない、または満了している場合は新しい窓を開始する
		e = &memoryEntry{count: 0, windowStart: now, window: window}
		s.entries[key] = e
	}
	e.count++

	return Entry{Count: e.count, WindowStart: e.windowStart}, nil
}

// sweepLocked は窓の2倍を超えて経過したエントリを削除する。
// 呼び出し側がミューテックスを保持していること。
func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, e := range s.entries {
		if now.Sub(e.windowStart) >= 2*e.window {
			delete(s.entries, key)
		}
	}
}

// Delete は指定キーのエントリを削除する。
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DeleteAll は全エントリを削除する。
func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memoryEntry)
	return nil
}

// Stats は現在の全エントリを返す。
func (s *MemoryStore) Stats(_ context.Context, now time.Time) ([]EntryStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]EntryStat, 0, len(s.entries))
	for key, e := range s.entries {
		stats = append(stats, EntryStat{
			Key:   key,
			Count: e.count,
			Age:   now.Sub(e.windowStart),
		})
	}
	return stats, nil
}
