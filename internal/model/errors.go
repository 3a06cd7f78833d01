// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, recruitment, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodePasswordMismatch       = "PASSWORD_MISMATCH"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeEmailNotConfirmed      = "EMAIL_NOT_CONFIRMED"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeNoActiveUser           = "NO_ACTIVE_USER"
	ErrCodeForbiddenRole          = "FORBIDDEN_ROLE"
	ErrCodeProfileNotFound        = "PROFILE_NOT_FOUND"
	ErrCodeJobNotFound            = "JOB_NOT_FOUND"
	ErrCodeApplicationNotFound    = "APPLICATION_NOT_FOUND"
	ErrCodeInvalidFilter          = "INVALID_FILTER"
	ErrCodeProviderUnavailable    = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderError          = "PROVIDER_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewPasswordMismatchError は確認用パスワード不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "Passwords do not match",
		Category: "validation",
		Action:   "確認用パスワードを同じ値で入力してください。",
	}
}

// NewInvalidCredentialsError は認証情報不正エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password. Please try again.",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewEmailNotConfirmedError はメール未確認エラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "Please check your email and click the confirmation link.",
		Category: "auth",
		Action:   "確認メールのリンクを開いてからログインしてください。",
	}
}

// NewEmailAlreadyRegisteredError は登録済みメールアドレスエラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "An account with this email already exists. Please login instead.",
		Category: "auth",
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewNoActiveUserError はログインユーザー不在エラーを生成する。
func NewNoActiveUserError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveUser,
		Message:  "No user logged in",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenRoleError はロール不足エラーを生成する。
func NewForbiddenRoleError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  fmt.Sprintf("この操作はロール %q では実行できません。", role),
		Category: "auth",
		Action:   "管理者に権限を確認してください。",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("プロフィールが見つかりません: %s", userID),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewJobNotFoundError は求人未検出エラーを生成する。
func NewJobNotFoundError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobNotFound,
		Message:  fmt.Sprintf("指定された求人が見つかりません: %s", jobID),
		Category: "recruitment",
		Action:   "求人IDを確認してください。",
	}
}

// NewApplicationNotFoundError は応募未検出エラーを生成する。
func NewApplicationNotFoundError(applicationID string) *APIError {
	return &APIError{
		Code:     ErrCodeApplicationNotFound,
		Message:  fmt.Sprintf("指定された応募が見つかりません: %s", applicationID),
		Category: "recruitment",
		Action:   "応募IDを確認してください。",
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(name, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s=%s", name, value),
		Category: "validation",
		Action:   "フィルタの値を確認してください。",
	}
}

// NewProviderUnavailableError は認証プロバイダーに到達できない場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "Something went wrong. Please try again.",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProviderError は認証プロバイダーが返したその他のエラーを生成する。
// メッセージはプロバイダーの文言をそのまま使う。
func NewProviderError(message string) *APIError {
	if message == "" {
		message = "An error occurred during authentication"
	}
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  message,
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
