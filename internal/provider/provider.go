// Package provider はホスティング型の認証/データプロバイダーとの境界を定義する。
// 認証状態の変更通知（change stream）、セッションの保存先、
// プロバイダーが返すエラーの表現を含む。
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/talentstrike/internal/model"
)

// AuthChangeEvent は認証状態の変更イベントの種類を表す。
type AuthChangeEvent string

const (
	EventInitialSession   AuthChangeEvent = "INITIAL_SESSION"
	EventSignedIn         AuthChangeEvent = "SIGNED_IN"
	EventSignedOut        AuthChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed   AuthChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated      AuthChangeEvent = "USER_UPDATED"
	EventPasswordRecovery AuthChangeEvent = "PASSWORD_RECOVERY"
)

// AuthStateListener は認証状態の変更を受け取るコールバック。
// sessionはサインアウト時にnilになる。
type AuthStateListener func(event AuthChangeEvent, session *model.AuthSession)

// Subscription はOnAuthStateChangeの購読ハンドル。
type Subscription interface {
	Unsubscribe()
}

// AuthClient はブラウザセッション1つに対応する認証クライアント。
// 現在のセッションを保持し、変更をリスナーにプッシュする。
type AuthClient interface {
	// GetSession は現在のセッションを返す。セッションがない場合はnilを返す。
	// 期限が近いセッションはリフレッシュしてから返す。
	GetSession(ctx context.Context) (*model.AuthSession, error)
	// GetUser はアクセストークンでプロバイダーに問い合わせた現在のユーザーを返す。
	GetUser(ctx context.Context) (*model.AuthUser, error)
	// SignUp はユーザーを登録する。メール確認が必要な場合はSessionがnilの応答を返す。
	SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.AuthResponse, error)
	// SignInWithPassword はメールアドレスとパスワードでサインインする。
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResponse, error)
	// SignOut はセッションを破棄する。
	SignOut(ctx context.Context) error
	// ResetPasswordForEmail はパスワード再設定メールを送信する。
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// UpdatePassword は現在のユーザーのパスワードを変更する。
	UpdatePassword(ctx context.Context, password string) (*model.AuthUser, error)
	// OnAuthStateChange はリスナーを登録する。
	OnAuthStateChange(listener AuthStateListener) Subscription
	// Close はバックグラウンド処理（自動リフレッシュ等）を停止する。
	Close()
}

// ClientFactory はブラウザセッションごとのAuthClientを生成する。
// storageKeyはセッションの保存先キーになる。
type ClientFactory interface {
	NewAuthClient(storageKey string) AuthClient
}

// SessionStorage はプロバイダーセッションの保存先。
// ブラウザ版SDKのlocalStorageに相当する。
type SessionStorage interface {
	// Load は保存済みセッションを返す。存在しない場合はnilを返す。
	Load(ctx context.Context, key string) (*model.AuthSession, error)
	// Save はセッションを保存する。
	Save(ctx context.Context, key string, session *model.AuthSession) error
	// Remove は保存済みセッションを削除する。
	Remove(ctx context.Context, key string) error
}

// ErrUnavailable はプロバイダーへの到達に失敗したことを表す。
var ErrUnavailable = errors.New("auth provider unavailable")

// AuthError はプロバイダーが拒否した操作のエラーを表す。
type AuthError struct {
	Status  int    // HTTPステータス（インプロセス実装では相当値）
	Code    string // プロバイダーのエラーコード（例: invalid_grant）
	Message string // プロバイダーの文言
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth provider error %d: %s", e.Status, e.Message)
}

// ToAPIError はプロバイダー由来のエラーを利用者向けのAPIErrorに変換する。
// 文言による判定はプロバイダーの既知メッセージに合わせている。
func ToAPIError(err error) *model.APIError {
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		msg := strings.ToLower(authErr.Message)
		switch {
		case strings.Contains(msg, "invalid login credentials"):
			return model.NewInvalidCredentialsError()
		case strings.Contains(msg, "email not confirmed"):
			return model.NewEmailNotConfirmedError()
		case strings.Contains(msg, "already registered"):
			return model.NewEmailAlreadyRegisteredError()
		}
		return model.NewProviderError(authErr.Message)
	}
	// ErrUnavailableとネットワークエラーはいずれも到達不能として扱う
	return model.NewProviderUnavailableError()
}
