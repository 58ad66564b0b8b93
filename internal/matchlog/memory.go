package matchlog

import (
	"context"
	"sync"
)

// MemoryStore 單機記憶體儲存，保留最新的 size 場
type MemoryStore struct {
	mu      sync.RWMutex
	size    int
	matches []Match // 舊的在前
	wins    map[string]int64
}

// NewMemoryStore 建立記憶體儲存；size <= 0 時使用 100
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 100
	}
	return &MemoryStore{
		size: size,
		wins: make(map[string]int64),
	}
}

func (s *MemoryStore) Save(_ context.Context, m Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matches = append(s.matches, m)
	if over := len(s.matches) - s.size; over > 0 {
		s.matches = append(s.matches[:0:0], s.matches[over:]...)
	}
	if name := m.WinnerName(); name != "" {
		s.wins[name]++
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, n int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.matches) {
		n = len(s.matches)
	}
	out := make([]Match, 0, n)
	for i := len(s.matches) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.matches[i])
	}
	return out, nil
}

func (s *MemoryStore) Wins(_ context.Context, player string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wins[player], nil
}

func (s *MemoryStore) Close() error { return nil }
