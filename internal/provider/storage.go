package provider

import (
	"context"
	"sync"

	"github.com/hitoshi/talentstrike/internal/model"
)

// MemoryStorage はプロセス内メモリにセッションを保存するSessionStorage。
// メモリプロバイダーとテストで使う。
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]model.AuthSession
}

// NewMemoryStorage はMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{sessions: make(map[string]model.AuthSession)}
}

// Load は保存済みセッションのコピーを返す。存在しない場合はnilを返す。
func (s *MemoryStorage) Load(_ context.Context, key string) (*model.AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// Save はセッションのコピーを保存する。
func (s *MemoryStorage) Save(_ context.Context, key string, session *model.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = *session
	return nil
}

// Remove は保存済みセッションを削除する。
func (s *MemoryStorage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}

// compile-time interface check
var _ SessionStorage = (*MemoryStorage)(nil)
