// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/session"
)

// SessionCookieName はブラウザセッションキーを保持するCookieの名前。
const SessionCookieName = "ts_session"

const defaultRoleCheckTimeout = 5 * time.Second

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionContextKey はリクエストコンテキストにSession Contextを格納するためのキー。
	sessionContextKey = contextKey("session")
)

// SessionRegistry はSession Contextの取得と生成に必要なインターフェース。
// session.Registryが実装する。
type SessionRegistry interface {
	Get(ctx context.Context, key string) (*session.Context, error)
	Create(ctx context.Context) (string, *session.Context, error)
	Remove(key string)
}

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	Secure bool
	Domain string
	MaxAge int
}

type sessionHandle struct {
	key string
	sc  *session.Context
}

// NewSessionMiddleware はHTTP Only CookieのセッションキーからSession Contextを取得し、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、不正、または保存済みセッションがない場合はSession Contextなしで次へ進む。
// 認証済みの場合はユーザーIDも注入する。
func NewSessionMiddleware(registry SessionRegistry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || !session.ValidKey(cookie.Value) {
				next.ServeHTTP(w, r)
				return
			}

			sc, err := registry.Get(r.Context(), cookie.Value)
			if errors.Is(err, session.ErrNoSession) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				slog.Error("failed to restore session context",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), cookie.Value, sc)))
		})
	}
}

// NewRequireAuthMiddleware は認証済みのSession Contextを要求するミドルウェアを返す。
// 未認証リクエストにはNO_ACTIVE_USER（401）を返す。
func NewRequireAuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, ok := SessionFromContext(r.Context())
			if !ok {
				WriteError(w, r, model.NewNoActiveUserError())
				return
			}
			snap := sc.Snapshot()
			if !snap.IsAuthenticated {
				WriteError(w, r, model.NewNoActiveUserError())
				return
			}
			annotateUserID(r.Context(), snap.User.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), snap.User.ID)))
		})
	}
}

// NewRequireRoleMiddleware はプロフィールのロールがrolesのいずれかであることを要求する。
// プロフィールのロード中は最大timeoutまで待つ。NewRequireAuthMiddlewareの後に配置する。
func NewRequireRoleMiddleware(timeout time.Duration, roles ...model.Role) func(next http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRoleCheckTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, ok := SessionFromContext(r.Context())
			if !ok {
				WriteError(w, r, model.NewNoActiveUserError())
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			snap, _ := sc.AwaitProfile(ctx)
			cancel()

			if !snap.HasRole(roles...) {
				var role model.Role
				if snap.Profile != nil {
					role = snap.Profile.Role
				}
				slog.Warn("forbidden role",
					slog.String("path", r.URL.Path),
					slog.String("role", string(role)),
				)
				WriteError(w, r, model.NewForbiddenRoleError(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnsureSession はリクエストのSession Contextを返す。
// ない場合は新しく生成してセッションCookieを設定する。
func EnsureSession(w http.ResponseWriter, r *http.Request, registry SessionRegistry, config SessionCookieConfig) (*session.Context, string, error) {
	if key, ok := SessionKeyFromContext(r.Context()); ok {
		sc, _ := SessionFromContext(r.Context())
		return sc, key, nil
	}
	key, sc, err := registry.Create(r.Context())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session context: %w", err)
	}
	SetSessionCookie(w, key, config)
	return sc, key, nil
}

// SetSessionCookie はセッションCookieを設定する。
func SetSessionCookie(w http.ResponseWriter, key string, config SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    key,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はリクエストコンテキストからSession Contextを取得する。
func SessionFromContext(ctx context.Context) (*session.Context, bool) {
	h, ok := ctx.Value(sessionContextKey).(sessionHandle)
	if !ok || h.sc == nil {
		return nil, false
	}
	return h.sc, true
}

// SessionKeyFromContext はリクエストコンテキストからセッションキーを取得する。
func SessionKeyFromContext(ctx context.Context) (string, bool) {
	h, ok := ctx.Value(sessionContextKey).(sessionHandle)
	if !ok || h.key == "" {
		return "", false
	}
	return h.key, true
}

// ContextWithSession はコンテキストにSession Contextを注入する。
func ContextWithSession(ctx context.Context, key string, sc *session.Context) context.Context {
	return context.WithValue(ctx, sessionContextKey, sessionHandle{key: key, sc: sc})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// RequireAuthミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
