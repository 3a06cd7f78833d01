// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/talentstrike/internal/middleware"
	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/security"
	"github.com/hitoshi/talentstrike/internal/session"
)

const (
	// OverviewPath はサインイン後の遷移先。
	OverviewPath = "/executive-talent-acquisition-overview"
	// LoginPath はサインアウト後の遷移先。
	LoginPath = "/login"

	resetPasswordPath = "/reset-password"
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL string
	Cookie  middleware.SessionCookieConfig
	// ProfileWait はサインイン直後にプロフィールのロードを待つ上限。
	// ゼロの場合は待たない。
	ProfileWait time.Duration
	// Sanitizer はプロフィール更新の入力に適用する。nilの場合はNewContentSanitizerを使う。
	Sanitizer security.Sanitizer
}

// AuthHandler はサインイン・サインアップ・サインアウトとプロフィール操作のHTTPハンドラー。
// 操作はリクエストに紐付くSession Contextへ委譲する。
type AuthHandler struct {
	registry middleware.SessionRegistry
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(registry middleware.SessionRegistry, config AuthHandlerConfig) *AuthHandler {
	if config.Sanitizer == nil {
		config.Sanitizer = security.NewContentSanitizer()
	}
	return &AuthHandler{
		registry: registry,
		config:   config,
	}
}

// sessionResponse はセッション状態のAPIレスポンス。
type sessionResponse struct {
	session.Snapshot
	RedirectTo string `json:"redirect_to,omitempty"`
}

// signUpResponse はサインアップのAPIレスポンス。
type signUpResponse struct {
	sessionResponse
	ConfirmationRequired bool   `json:"confirmation_required"`
	Message              string `json:"message,omitempty"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

type updatePasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type messageResponse struct {
	Message    string `json:"message"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// SignUp はユーザーを登録する。
// メール確認が不要な場合はサインイン済みの状態を返す。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var in session.SignUpInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	sc, _, err := middleware.EnsureSession(w, r, h.registry, h.config.Cookie)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := sc.SignUp(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if resp.Session == nil {
		writeJSON(w, http.StatusCreated, signUpResponse{
			sessionResponse:      sessionResponse{Snapshot: sc.Snapshot()},
			ConfirmationRequired: true,
			Message:              "Please check your email to confirm your account.",
		})
		return
	}

	writeJSON(w, http.StatusCreated, signUpResponse{
		sessionResponse: sessionResponse{
			Snapshot:   h.awaitProfile(r.Context(), sc),
			RedirectTo: OverviewPath,
		},
	})
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sc, _, err := middleware.EnsureSession(w, r, h.registry, h.config.Cookie)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := sc.SignIn(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Snapshot:   h.awaitProfile(r.Context(), sc),
		RedirectTo: OverviewPath,
	})
}

// SignOut はサインアウトし、Session Contextを破棄してCookieをクリアする。
// セッションがない場合もCookieをクリアして成功を返す。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sc, ok := middleware.SessionFromContext(r.Context())
	if ok {
		if err := sc.SignOut(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		if key, ok := middleware.SessionKeyFromContext(r.Context()); ok {
			h.registry.Remove(key)
		}
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, messageResponse{
		Message:    "Signed out",
		RedirectTo: LoginPath,
	})
}

// Session は現在のセッション状態を返す。未認証でも200で匿名の状態を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sc, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{Snapshot: session.Snapshot{State: session.StateAnonymous}})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Snapshot: sc.Snapshot()})
}

// ResetPassword はパスワード再設定メールを送信する。
// 登録の有無に関わらず同じレスポンスを返す。
// POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sc, _, err := middleware.EnsureSession(w, r, h.registry, h.config.Cookie)
	if err != nil {
		writeError(w, r, err)
		return
	}

	redirectTo := strings.TrimRight(h.config.BaseURL, "/") + resetPasswordPath
	if err := sc.ResetPassword(r.Context(), req.Email, redirectTo); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "If an account exists for this email, a password reset link has been sent.",
	})
}

// UpdatePassword はログイン中のユーザーのパスワードを変更する。
// PUT /auth/password
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sc, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, model.NewNoActiveUserError())
		return
	}

	if err := sc.UpdatePassword(r.Context(), req.Password, req.ConfirmPassword); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated"})
}

// GetProfile はログイン中のユーザーのプロフィールを返す。
// ロード中の場合は完了を待つ。
// GET /api/profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	sc, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, model.NewNoActiveUserError())
		return
	}

	snap := h.awaitProfile(r.Context(), sc)
	if snap.User == nil {
		writeError(w, r, model.NewNoActiveUserError())
		return
	}
	if snap.Profile == nil {
		writeError(w, r, model.NewProfileNotFoundError(snap.User.ID))
		return
	}
	writeJSON(w, http.StatusOK, snap.Profile)
}

// UpdateProfile はログイン中のユーザーのプロフィールを部分更新する。
// PATCH /api/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update model.ProfileUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, r, err)
		return
	}
	update, err := h.sanitizeProfileUpdate(update)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sc, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, model.NewNoActiveUserError())
		return
	}

	profile, err := sc.UpdateProfile(r.Context(), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// sanitizeProfileUpdate は自由記述のタグを除去する。
// avatar_urlは空（削除）かhttpsの絶対URLのみ受け付ける。
func (h *AuthHandler) sanitizeProfileUpdate(u model.ProfileUpdate) (model.ProfileUpdate, error) {
	plain := func(v *string) *string {
		if v == nil {
			return nil
		}
		cleaned := h.config.Sanitizer.PlainText(*v)
		return &cleaned
	}
	u.FullName = plain(u.FullName)
	u.Department = plain(u.Department)
	u.Phone = plain(u.Phone)

	if u.AvatarURL != nil && strings.TrimSpace(*u.AvatarURL) != "" {
		avatar := h.config.Sanitizer.HTTPSURL(*u.AvatarURL)
		if avatar == "" {
			return u, model.NewValidationError("Avatar URL must be an https URL")
		}
		u.AvatarURL = &avatar
	}
	return u, nil
}

// awaitProfile はProfileWaitを上限にプロフィールのロード完了を待ってスナップショットを返す。
// タイムアウトした場合はその時点のスナップショットを返す。
func (h *AuthHandler) awaitProfile(ctx context.Context, sc *session.Context) session.Snapshot {
	if h.config.ProfileWait <= 0 {
		return sc.Snapshot()
	}
	waitCtx, cancel := context.WithTimeout(ctx, h.config.ProfileWait)
	defer cancel()

	snap, err := sc.AwaitProfile(waitCtx)
	if err != nil {
		slog.Warn("profile not loaded before response",
			slog.String("error", err.Error()),
		)
		return sc.Snapshot()
	}
	return snap
}
