package store

import (
	"context"
	"sync"
	"time"

	"faucet/pkg/models"
)

// MemoryStore 内存存储，只保留最近retention条记录，进程重启后数据丢失
type MemoryStore struct {
	mu        sync.RWMutex
	records   []*models.ClaimRecord // 按写入顺序，最新的在末尾
	txIndex   map[string]struct{}
	retention int
	clock     *monotonicClock
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(retention int, now Clock) *MemoryStore {
	if retention <= 0 {
		retention = 100
	}
	return &MemoryStore{
		txIndex:   make(map[string]struct{}),
		retention: retention,
		clock:     newMonotonicClock(now),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Insert(ctx context.Context, record *models.ClaimRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	record.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txIndex[record.TxHash]; exists {
		return false, nil
	}

	record.Timestamp = s.clock.next()
	s.records = append(s.records, copyRecord(record))
	s.txIndex[record.TxHash] = struct{}{}

	if overflow := len(s.records) - s.retention; overflow > 0 {
		for _, pruned := range s.records[:overflow] {
			delete(s.txIndex, pruned.TxHash)
		}
		s.records = append([]*models.ClaimRecord(nil), s.records[overflow:]...)
	}

	return true, nil
}

func (s *MemoryStore) LatestClaim(ctx context.Context, address string, since time.Time) (*models.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	address = normalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !r.Timestamp.After(since) {
			break
		}
		if r.Address == address {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *MemoryStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for i := len(s.records) - 1; i >= 0; i-- {
		if !s.records[i].Timestamp.After(since) {
			break
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int, socialID string) ([]*models.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.ClaimRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(result) < limit; i-- {
		r := s.records[i]
		if socialID != "" && r.SocialID() != socialID {
			continue
		}
		result = append(result, copyRecord(r))
	}
	return result, nil
}

func (s *MemoryStore) Close() error { return nil }
