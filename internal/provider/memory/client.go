package memory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/provider"
)

// Factory はBackendを共有するClientを生成する。
type Factory struct {
	backend       *Backend
	storage       provider.SessionStorage
	refreshMargin time.Duration
}

// NewFactory はFactoryを生成する。storageがnilの場合はメモリに保存する。
func NewFactory(backend *Backend, storage provider.SessionStorage, refreshMargin time.Duration) *Factory {
	if storage == nil {
		storage = provider.NewMemoryStorage()
	}
	return &Factory{backend: backend, storage: storage, refreshMargin: refreshMargin}
}

// NewAuthClient はstorageKeyに紐付くClientを生成する。
func (f *Factory) NewAuthClient(storageKey string) provider.AuthClient {
	return NewClient(f.backend, f.storage, storageKey, f.refreshMargin)
}

// Client はBackendに対する認証クライアント。
// 自動リフレッシュのタイマーは持たず、GetSessionの呼び出し時に更新する。
type Client struct {
	backend       *Backend
	storage       provider.SessionStorage
	key           string
	refreshMargin time.Duration
	emitter       *provider.Emitter

	mu sync.Mutex
}

// NewClient はClientを生成する。
func NewClient(backend *Backend, storage provider.SessionStorage, storageKey string, refreshMargin time.Duration) *Client {
	return &Client{
		backend:       backend,
		storage:       storage,
		key:           storageKey,
		refreshMargin: refreshMargin,
		emitter:       provider.NewEmitter(),
	}
}

// OnAuthStateChange はリスナーを登録する。
func (c *Client) OnAuthStateChange(listener provider.AuthStateListener) provider.Subscription {
	return c.emitter.Subscribe(listener)
}

// GetSession は保存済みセッションを返す。期限が近い場合はリフレッシュする。
func (c *Client) GetSession(ctx context.Context) (*model.AuthSession, error) {
	if err := c.backend.checkAvailable(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	sess, err := c.storage.Load(ctx, c.key)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}
	if sess == nil || !sess.ExpiresWithin(c.backend.opts.Now(), c.refreshMargin) {
		c.mu.Unlock()
		return sess, nil
	}

	refreshed, err := c.backend.refreshSession(sess.RefreshToken)
	if err != nil {
		c.storage.Remove(ctx, c.key)
		c.mu.Unlock()
		c.emitter.Emit(provider.EventSignedOut, nil)
		return nil, err
	}
	if err := c.storage.Save(ctx, c.key, refreshed); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	c.mu.Unlock()

	c.emitter.Emit(provider.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

// GetUser はアクセストークンを検証して現在のユーザーを返す。
func (c *Client) GetUser(ctx context.Context) (*model.AuthUser, error) {
	if err := c.backend.checkAvailable(); err != nil {
		return nil, err
	}
	sess, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}
	if sess == nil {
		return nil, errSessionMissing()
	}
	return c.backend.userFromToken(sess.AccessToken)
}

// SignUp はユーザーを登録する。
// メール確認が必要な設定ではセッションを発行せずユーザーだけを返す。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.AuthResponse, error) {
	if err := c.backend.checkAvailable(); err != nil {
		return nil, err
	}
	user, err := c.backend.createUser(email, password, metadata)
	if err != nil {
		return nil, err
	}

	if c.backend.opts.RequireEmailConfirmation {
		return &model.AuthResponse{User: user}, nil
	}
	if err := c.backend.ConfirmEmail(user.Email); err != nil {
		return nil, err
	}
	now := c.backend.opts.Now()
	user.EmailConfirmedAt = &now

	sess, err := c.establish(ctx, user)
	if err != nil {
		return nil, err
	}
	return &model.AuthResponse{User: sess.User, Session: sess}, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	if err := c.backend.checkAvailable(); err != nil {
		return nil, err
	}
	user, err := c.backend.authenticate(email, password)
	if err != nil {
		return nil, err
	}
	sess, err := c.establish(ctx, user)
	if err != nil {
		return nil, err
	}
	return &model.AuthResponse{User: sess.User, Session: sess}, nil
}

func (c *Client) establish(ctx context.Context, user *model.AuthUser) (*model.AuthSession, error) {
	sess, err := c.backend.issueSession(user)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	err = c.storage.Save(ctx, c.key, sess)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	c.emitter.Emit(provider.EventSignedIn, sess)
	return sess, nil
}

// SignOut はリフレッシュトークンを無効化してセッションを破棄する。
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.backend.checkAvailable(); err != nil {
		return err
	}

	c.mu.Lock()
	sess, err := c.storage.Load(ctx, c.key)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to load stored session: %w", err)
	}
	if sess != nil {
		c.backend.revoke(sess.RefreshToken)
	}
	err = c.storage.Remove(ctx, c.key)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to remove stored session: %w", err)
	}

	c.emitter.Emit(provider.EventSignedOut, nil)
	return nil
}

// ResetPasswordForEmail は再設定依頼を記録する。
// 未登録のメールアドレスでも成功を返す。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, _ string) error {
	if err := c.backend.checkAvailable(); err != nil {
		return err
	}
	if email == "" {
		return &provider.AuthError{Status: http.StatusBadRequest, Code: "validation_failed", Message: "email is required"}
	}
	c.backend.recordRecovery(email)
	return nil
}

// UpdatePassword は現在のユーザーのパスワードを変更し、USER_UPDATEDを通知する。
func (c *Client) UpdatePassword(ctx context.Context, password string) (*model.AuthUser, error) {
	if err := c.backend.checkAvailable(); err != nil {
		return nil, err
	}
	sess, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}
	if sess == nil {
		return nil, errSessionMissing()
	}
	current, err := c.backend.userFromToken(sess.AccessToken)
	if err != nil {
		return nil, err
	}
	user, err := c.backend.setPassword(current.ID, password)
	if err != nil {
		return nil, err
	}

	updated := *sess
	updated.User = user
	c.mu.Lock()
	err = c.storage.Save(ctx, c.key, &updated)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	c.emitter.Emit(provider.EventUserUpdated, &updated)
	return user, nil
}

// Close は何もしない。
func (c *Client) Close() {}

func errSessionMissing() error {
	return &provider.AuthError{Status: http.StatusUnauthorized, Code: "session_missing", Message: "Auth session missing!"}
}

// compile-time interface checks
var (
	_ provider.AuthClient    = (*Client)(nil)
	_ provider.ClientFactory = (*Factory)(nil)
)
