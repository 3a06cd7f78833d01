package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/talentstrike/internal/provider"
)

const (
	keyBytes               = 32
	defaultIdleTTL         = 12 * time.Hour
	defaultCleanupInterval = 5 * time.Minute
	defaultRestoreTimeout  = 10 * time.Second
)

var (
	// ErrInvalidKey はセッションキーの形式が不正であることを表す。
	ErrInvalidKey = errors.New("invalid session key")
	// ErrNoSession はキーに対応する保存済みセッションがないことを表す。
	ErrNoSession = errors.New("no stored session")
)

// RegistryConfig はRegistryの設定。
type RegistryConfig struct {
	IdleTTL         time.Duration // 最終アクセスからこの時間を過ぎたContextを閉じる
	CleanupInterval time.Duration
	RestoreTimeout  time.Duration // 保存済みセッションの復元にかける上限
	Context         Options
}

type entry struct {
	ctx      *Context
	lastSeen time.Time
}

// Registry はブラウザセッションキーとContextの対応を管理する。
type Registry struct {
	factory  provider.ClientFactory
	profiles ProfileStore
	config   RegistryConfig
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry はRegistryを生成し、アイドルContextのクリーンアップを開始する。
func NewRegistry(factory provider.ClientFactory, profiles ProfileStore, config RegistryConfig) *Registry {
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaultIdleTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	if config.RestoreTimeout <= 0 {
		config.RestoreTimeout = defaultRestoreTimeout
	}
	config.Context = config.Context.withDefaults()

	r := &Registry{
		factory:  factory,
		profiles: profiles,
		config:   config,
		logger:   config.Context.Logger,
		observer: config.Context.Observer,
		now:      time.Now,
		entries:  make(map[string]*entry),
		stopCh:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.cleanupLoop()

	return r
}

// Get はキーに対応するContextを返す。
// 未登録のキーは保存済みのプロバイダーセッションから復元し、認証済みの場合だけ登録する。
// 保存済みセッションがなければErrNoSession、復元に失敗した場合はそのエラーを返す。
// いずれも登録しないので、次のリクエストで復元をやり直す。
func (r *Registry) Get(ctx context.Context, key string) (*Context, error) {
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}

	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		r.touch(key)
		return e.ctx, nil
	}

	sc, err := r.initialize(ctx, key)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if !sc.Snapshot().IsAuthenticated {
		sc.Close()
		return nil, ErrNoSession
	}
	return r.register(key, sc), nil
}

// Create は新しいキーと匿名のContextを生成して登録する。
func (r *Registry) Create(ctx context.Context) (string, *Context, error) {
	key, err := NewKey()
	if err != nil {
		return "", nil, err
	}
	sc, err := r.initialize(ctx, key)
	if err != nil {
		// 新しいキーに保存済みセッションはないので匿名のまま使える
		r.logger.Warn("initial session lookup failed for new session key",
			slog.String("error", err.Error()),
		)
	}
	return key, r.register(key, sc), nil
}

// initialize はContextを生成して初期化する。
// リクエストの切断で復元が打ち切られないよう、ctxのキャンセルは引き継がない。
func (r *Registry) initialize(ctx context.Context, key string) (*Context, error) {
	initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.RestoreTimeout)
	defer cancel()

	sc := New(r.factory.NewAuthClient(key), r.profiles, r.config.Context)
	return sc, sc.Initialize(initCtx)
}

// register はscを登録する。並行リクエストが先に登録していた場合はscを閉じて既存を返す。
func (r *Registry) register(key string, sc *Context) *Context {
	r.mu.Lock()
	if existing, ok := r.entries[key]; ok {
		existing.lastSeen = r.now()
		r.mu.Unlock()
		sc.Close()
		return existing.ctx
	}
	r.entries[key] = &entry{ctx: sc, lastSeen: r.now()}
	n := len(r.entries)
	r.mu.Unlock()

	r.observer.SetActiveSessions(n)
	return sc
}

// Remove はContextを閉じて登録を解除する。
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if ok {
		e.ctx.Close()
		r.observer.SetActiveSessions(n)
	}
}

// Len は登録中のContext数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stop はクリーンアップを停止し、全てのContextを閉じる。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.ctx.Close()
	}
	r.observer.SetActiveSessions(0)
}

func (r *Registry) touch(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.lastSeen = r.now()
	}
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if n := r.evictIdle(); n > 0 {
				r.logger.Info("evicted idle session contexts",
					slog.Int("count", n),
				)
			}
		}
	}
}

// evictIdle はIdleTTLを超えたContextを閉じ、閉じた数を返す。
func (r *Registry) evictIdle() int {
	cutoff := r.now().Add(-r.config.IdleTTL)

	r.mu.Lock()
	var idle []*Context
	for key, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.ctx)
			delete(r.entries, key)
		}
	}
	n := len(r.entries)
	r.mu.Unlock()

	for _, sc := range idle {
		sc.Close()
	}
	if len(idle) > 0 {
		r.observer.SetActiveSessions(n)
	}
	return len(idle)
}

// NewKey はランダムなセッションキーを生成する。
func NewKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidKey はNewKeyが生成する形式のキーかどうかを返す。
func ValidKey(key string) bool {
	if len(key) != keyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}
