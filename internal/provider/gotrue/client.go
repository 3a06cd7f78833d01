// Package gotrue はGoTrue互換のホスティング認証APIのクライアントを提供する。
// ブラウザセッション1つにつき1つのClientを生成し、セッションの保存、
// 期限前の自動リフレッシュ、認証状態変更の通知を行う。
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/provider"
)

const (
	defaultRefreshMargin = 60 * time.Second
	defaultRetryInterval = 10 * time.Second
	maxResponseSize      = 1 << 20
)

// Config はGoTrueクライアントの設定。
type Config struct {
	URL           string // プロジェクトURL（例: https://xyz.supabase.co）
	AnonKey       string // apikeyヘッダーに送る公開キー
	JWTSecret     string // 設定時はアクセストークンの署名を検証する
	RefreshMargin time.Duration
	AutoRefresh   bool

	HTTPClient *http.Client
	Storage    provider.SessionStorage
	Logger     *slog.Logger

	// テスト用に差し替え可能な時刻関数
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = defaultRefreshMargin
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Storage == nil {
		c.Storage = provider.NewMemoryStorage()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.URL = strings.TrimRight(c.URL, "/")
	return c
}

// Factory はブラウザセッションごとのClientを生成する。
type Factory struct {
	config Config
}

// NewFactory はFactoryを生成する。
func NewFactory(config Config) *Factory {
	return &Factory{config: config.withDefaults()}
}

// NewAuthClient はstorageKeyに紐付くClientを生成する。
func (f *Factory) NewAuthClient(storageKey string) provider.AuthClient {
	return newClient(f.config, storageKey)
}

// Client はGoTrue APIの認証クライアント。
type Client struct {
	config  Config
	key     string
	emitter *provider.Emitter
	tokens  *tokenParser

	mu      sync.Mutex
	session *model.AuthSession
	loaded  bool
	closed  bool
	timer   *time.Timer
}

// NewClient はClientを生成する。
func NewClient(config Config, storageKey string) *Client {
	return newClient(config.withDefaults(), storageKey)
}

func newClient(config Config, storageKey string) *Client {
	return &Client{
		config:  config,
		key:     storageKey,
		emitter: provider.NewEmitter(),
		tokens:  newTokenParser(config.JWTSecret),
	}
}

// OnAuthStateChange はリスナーを登録する。
func (c *Client) OnAuthStateChange(listener provider.AuthStateListener) provider.Subscription {
	return c.emitter.Subscribe(listener)
}

// GetSession は保存済みセッションを返す。
// 期限がRefreshMargin以内のセッションはリフレッシュしてTOKEN_REFRESHEDを通知する。
// リフレッシュトークンが拒否された場合はセッションを破棄してSIGNED_OUTを通知する。
func (c *Client) GetSession(ctx context.Context) (*model.AuthSession, error) {
	c.mu.Lock()
	if !c.loaded {
		stored, err := c.config.Storage.Load(ctx, c.key)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to load stored session: %w", err)
		}
		c.session = stored
		c.loaded = true
	}
	current := c.session
	if current == nil {
		c.mu.Unlock()
		return nil, nil
	}
	if !current.ExpiresWithin(c.config.Now(), c.config.RefreshMargin) {
		c.scheduleRefreshLocked(current)
		c.mu.Unlock()
		return current, nil
	}

	refreshed, err := c.refreshLocked(ctx, current.RefreshToken)
	if err != nil {
		var authErr *provider.AuthError
		if errors.As(err, &authErr) {
			c.clearLocked(ctx)
			c.mu.Unlock()
			c.emitter.Emit(provider.EventSignedOut, nil)
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	c.mu.Unlock()

	c.emitter.Emit(provider.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

// GetUser はアクセストークンでユーザー情報を取得する。
func (c *Client) GetUser(ctx context.Context) (*model.AuthUser, error) {
	token := c.accessToken()
	if token == "" {
		return nil, &provider.AuthError{Status: http.StatusUnauthorized, Message: "Auth session missing!"}
	}
	var u userResponse
	if err := c.do(ctx, http.MethodGet, "/user", nil, nil, token, &u); err != nil {
		return nil, err
	}
	return u.toModel(), nil
}

// SignUp はユーザーを登録する。
// メール確認が不要な設定ではセッションが返り、SIGNED_INを通知する。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.AuthResponse, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}
	var resp signUpResponse
	if err := c.do(ctx, http.MethodPost, "/signup", nil, body, "", &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		// メール確認待ち: ボディ自体がユーザー
		return &model.AuthResponse{User: resp.userResponse.toModel()}, nil
	}

	session, err := c.sessionFromToken(resp.tokenResponse)
	if err != nil {
		return nil, err
	}
	if err := c.establish(ctx, session); err != nil {
		return nil, err
	}
	c.emitter.Emit(provider.EventSignedIn, session)
	return &model.AuthResponse{User: session.User, Session: session}, nil
}

// SignInWithPassword はパスワードグラントでサインインし、SIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, body, "", &resp); err != nil {
		return nil, err
	}

	session, err := c.sessionFromToken(resp)
	if err != nil {
		return nil, err
	}
	if err := c.establish(ctx, session); err != nil {
		return nil, err
	}
	c.emitter.Emit(provider.EventSignedIn, session)
	return &model.AuthResponse{User: session.User, Session: session}, nil
}

// SignOut はプロバイダー側のセッションを破棄し、SIGNED_OUTを通知する。
// 401/403/404（既に無効なセッション）は成功として扱う。
// それ以外の失敗ではローカルのセッションを保持したままエラーを返す。
func (c *Client) SignOut(ctx context.Context) error {
	token := c.accessToken()
	if token != "" {
		err := c.do(ctx, http.MethodPost, "/logout", url.Values{"scope": {"local"}}, nil, token, nil)
		if err != nil && !isSessionGone(err) {
			return err
		}
	}

	c.mu.Lock()
	c.clearLocked(ctx)
	c.mu.Unlock()

	c.emitter.Emit(provider.EventSignedOut, nil)
	return nil
}

// ResetPasswordForEmail はパスワード再設定メールの送信を依頼する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var query url.Values
	if redirectTo != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", query, map[string]string{"email": email}, "", nil)
}

// UpdatePassword は現在のユーザーのパスワードを変更し、USER_UPDATEDを通知する。
func (c *Client) UpdatePassword(ctx context.Context, password string) (*model.AuthUser, error) {
	token := c.accessToken()
	if token == "" {
		return nil, &provider.AuthError{Status: http.StatusUnauthorized, Message: "Auth session missing!"}
	}
	var u userResponse
	if err := c.do(ctx, http.MethodPut, "/user", nil, map[string]string{"password": password}, token, &u); err != nil {
		return nil, err
	}
	user := u.toModel()

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return user, nil
	}
	updated := *c.session
	updated.User = user
	c.session = &updated
	if err := c.config.Storage.Save(ctx, c.key, &updated); err != nil {
		c.config.Logger.Error("failed to persist session",
			slog.String("error", err.Error()),
		)
	}
	c.mu.Unlock()

	c.emitter.Emit(provider.EventUserUpdated, &updated)
	return user, nil
}

// Close は自動リフレッシュを停止する。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// accessToken は現在のアクセストークンを返す。
func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// establish は新しいセッションを保持・保存し、自動リフレッシュを予約する。
func (c *Client) establish(ctx context.Context, session *model.AuthSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.config.Storage.Save(ctx, c.key, session); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	c.session = session
	c.loaded = true
	c.scheduleRefreshLocked(session)
	return nil
}

// clearLocked はセッションを破棄する。c.muを保持して呼ぶこと。
func (c *Client) clearLocked(ctx context.Context) {
	c.session = nil
	c.loaded = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if err := c.config.Storage.Remove(ctx, c.key); err != nil {
		c.config.Logger.Error("failed to remove stored session",
			slog.String("error", err.Error()),
		)
	}
}

// refreshLocked はリフレッシュグラントでセッションを更新する。c.muを保持して呼ぶこと。
func (c *Client) refreshLocked(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token",
		url.Values{"grant_type": {"refresh_token"}},
		map[string]string{"refresh_token": refreshToken}, "", &resp)
	if err != nil {
		return nil, err
	}
	session, err := c.sessionFromToken(resp)
	if err != nil {
		return nil, err
	}
	if err := c.config.Storage.Save(ctx, c.key, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	c.session = session
	c.scheduleRefreshLocked(session)
	return session, nil
}

// scheduleRefreshLocked は期限のRefreshMargin前に自動リフレッシュを予約する。
func (c *Client) scheduleRefreshLocked(session *model.AuthSession) {
	if !c.config.AutoRefresh || c.closed || session.ExpiresAt.IsZero() {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	delay := session.ExpiresAt.Sub(c.config.Now()) - c.config.RefreshMargin
	if delay < 0 {
		delay = 0
	}
	refreshToken := session.RefreshToken
	c.timer = time.AfterFunc(delay, func() { c.autoRefresh(refreshToken) })
}

// autoRefresh はタイマーから呼ばれるリフレッシュ処理。
// 予約後にセッションが入れ替わっていた場合は何もしない。
func (c *Client) autoRefresh(refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HTTPClient.Timeout+time.Second)
	defer cancel()

	c.mu.Lock()
	if c.closed || c.session == nil || c.session.RefreshToken != refreshToken {
		c.mu.Unlock()
		return
	}

	refreshed, err := c.refreshLocked(ctx, refreshToken)
	if err != nil {
		var authErr *provider.AuthError
		if errors.As(err, &authErr) {
			c.config.Logger.Warn("refresh token rejected, signing out locally",
				slog.String("error", err.Error()),
			)
			c.clearLocked(ctx)
			c.mu.Unlock()
			c.emitter.Emit(provider.EventSignedOut, nil)
			return
		}
		c.config.Logger.Warn("token refresh failed, retrying",
			slog.String("error", err.Error()),
		)
		if !c.closed {
			c.timer = time.AfterFunc(defaultRetryInterval, func() { c.autoRefresh(refreshToken) })
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.emitter.Emit(provider.EventTokenRefreshed, refreshed)
}

// do はGoTrue APIへのリクエストを実行し、成功時はレスポンスをoutにデコードする。
// 接続失敗と5xxはprovider.ErrUnavailable、4xxは*provider.AuthErrorを返す。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accessToken string, out any) error {
	endpoint := c.config.URL + "/auth/v1" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", provider.ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", provider.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// isSessionGone はサインアウト時に成功扱いとするエラーかどうかを判定する。
func isSessionGone(err error) bool {
	var authErr *provider.AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	switch authErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

// compile-time interface checks
var (
	_ provider.AuthClient    = (*Client)(nil)
	_ provider.ClientFactory = (*Factory)(nil)
)
