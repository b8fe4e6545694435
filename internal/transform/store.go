package transform

import (
	"context"
	"sync"

	"github.com/haasonsaas/boardsync/pkg/models"
)

// Store is the durable operation log behind the in-memory history. It exists
// for late joiners and process restarts; the Transformer remains the only
// writer of versions.
type Store interface {
	AppendOperation(ctx context.Context, op models.Operation) error
	// ListOperations returns operations for a board with version greater
	// than sinceVersion, ordered ascending.
	ListOperations(ctx context.Context, boardID string, sinceVersion int64) ([]models.Operation, error)
	LatestVersion(ctx context.Context, boardID string) (int64, error)
	// DeleteBefore drops persisted operations below a version watermark.
	DeleteBefore(ctx context.Context, boardID string, beforeVersion int64) error
	Close() error
}

// MemoryStore is an in-memory Store for tests and single-process usage.
type MemoryStore struct {
	mu      sync.RWMutex
	byBoard map[string][]models.Operation
}

// NewMemoryStore creates an empty in-memory operation log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byBoard: map[string][]models.Operation{}}
}

func (s *MemoryStore) AppendOperation(_ context.Context, op models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byBoard[op.BoardID] = append(s.byBoard[op.BoardID], op)
	return nil
}

func (s *MemoryStore) ListOperations(_ context.Context, boardID string, sinceVersion int64) ([]models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Operation
	for _, op := range s.byBoard[boardID] {
		if op.Version > sinceVersion {
			out = append(out, op)
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestVersion(_ context.Context, boardID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := s.byBoard[boardID]
	if len(ops) == 0 {
		return 0, nil
	}
	return ops[len(ops)-1].Version, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, boardID string, beforeVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.byBoard[boardID]
	kept := ops[:0]
	for _, op := range ops {
		if op.Version >= beforeVersion {
			kept = append(kept, op)
		}
	}
	s.byBoard[boardID] = kept
	return nil
}

func (s *MemoryStore) Close() error { return nil }
