// Package memory はプロセス内で完結する認証プロバイダーを提供する。
// 開発環境とテストで使い、デモアカウントとプロフィールをメモリに保持する。
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/provider"
)

const defaultTokenTTL = time.Hour

// Options はBackendの設定。
type Options struct {
	// RequireEmailConfirmation がtrueの場合、サインアップ直後はセッションを発行しない。
	RequireEmailConfirmation bool
	TokenTTL                 time.Duration
	// JWTSecret はアクセストークンの署名鍵。空の場合は起動ごとに生成する。
	JWTSecret string
	// BcryptCost はテストで下げられるようにする。0の場合はbcrypt.DefaultCost。
	BcryptCost int
	Now        func() time.Time
}

// DemoAccount はシードするデモアカウント。
type DemoAccount struct {
	Email    string
	Password string
	Metadata model.UserMetadata
}

// DemoAccounts はログイン画面に表示されるデモ用の認証情報。
var DemoAccounts = []DemoAccount{
	{Email: "admin@talentstrike.com", Password: "admin123", Metadata: model.UserMetadata{FullName: "Admin User", Role: model.RoleAdmin, Department: "executive"}},
	{Email: "recruiter@talentstrike.com", Password: "recruiter123", Metadata: model.UserMetadata{FullName: "Recruiter User", Role: model.RoleRecruiter, Department: "hr"}},
	{Email: "analyst@talentstrike.com", Password: "analyst123", Metadata: model.UserMetadata{FullName: "Analyst User", Role: model.RoleAnalyst, Department: "analytics"}},
}

type account struct {
	user         model.AuthUser
	passwordHash []byte
}

// Backend はユーザー、リフレッシュトークン、プロフィールを保持する。
// 複数のClientから共有される。
type Backend struct {
	opts   Options
	secret []byte

	mu         sync.RWMutex
	byEmail    map[string]*account
	byID       map[string]*account
	refresh    map[string]string // refresh token → user id
	profiles   map[string]model.UserProfile
	recoveries []string

	unavailable atomic.Bool
}

// NewBackend はBackendを生成する。
func NewBackend(opts Options) *Backend {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	secret := []byte(opts.JWTSecret)
	if len(secret) == 0 {
		secret = []byte(randomToken())
	}
	return &Backend{
		opts:     opts,
		secret:   secret,
		byEmail:  make(map[string]*account),
		byID:     make(map[string]*account),
		refresh:  make(map[string]string),
		profiles: make(map[string]model.UserProfile),
	}
}

// SeedDemoAccounts はデモアカウントを確認済みの状態で登録する。
func (b *Backend) SeedDemoAccounts() error {
	for _, demo := range DemoAccounts {
		user, err := b.createUser(demo.Email, demo.Password, demo.Metadata)
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", demo.Email, err)
		}
		if err := b.ConfirmEmail(user.Email); err != nil {
			return err
		}
	}
	return nil
}

// SetUnavailable はプロバイダー障害を模擬する。trueの間は全操作がErrUnavailableを返す。
func (b *Backend) SetUnavailable(v bool) {
	b.unavailable.Store(v)
}

// ConfirmEmail はメールアドレスを確認済みにする。
func (b *Backend) ConfirmEmail(email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.byEmail[normalizeEmail(email)]
	if !ok {
		return fmt.Errorf("user not found: %s", email)
	}
	now := b.opts.Now()
	acc.user.EmailConfirmedAt = &now
	return nil
}

// Recoveries はパスワード再設定を依頼されたメールアドレスを返す。
func (b *Backend) Recoveries() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.recoveries...)
}

func (b *Backend) checkAvailable() error {
	if b.unavailable.Load() {
		return fmt.Errorf("%w: simulated outage", provider.ErrUnavailable)
	}
	return nil
}

// createUser はユーザーとプロフィールを作成する。
// プロフィールはサインアップ時のメタデータから作る（DBトリガーに相当）。
func (b *Backend) createUser(email, password string, meta model.UserMetadata) (*model.AuthUser, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byEmail[email]; exists {
		return nil, &provider.AuthError{
			Status:  http.StatusUnprocessableEntity,
			Code:    "user_already_exists",
			Message: "User already registered",
		}
	}

	now := b.opts.Now()
	meta = meta.WithDefaults(email)
	acc := &account{
		user: model.AuthUser{
			ID:        uuid.New().String(),
			Email:     email,
			Metadata:  meta,
			CreatedAt: now,
		},
		passwordHash: hash,
	}
	b.byEmail[email] = acc
	b.byID[acc.user.ID] = acc
	b.profiles[acc.user.ID] = model.UserProfile{
		ID:         acc.user.ID,
		Email:      email,
		FullName:   meta.FullName,
		Role:       meta.Role,
		Department: meta.Department,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	user := acc.user
	return &user, nil
}

// authenticate はメールアドレスとパスワードを検証する。
func (b *Backend) authenticate(email, password string) (*model.AuthUser, error) {
	b.mu.RLock()
	acc, ok := b.byEmail[normalizeEmail(email)]
	var (
		hash []byte
		user model.AuthUser
	)
	if ok {
		hash = acc.passwordHash
		user = acc.user
	}
	b.mu.RUnlock()

	invalid := &provider.AuthError{
		Status:  http.StatusBadRequest,
		Code:    "invalid_credentials",
		Message: "Invalid login credentials",
	}
	if !ok {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, invalid
	}
	if user.EmailConfirmedAt == nil {
		return nil, &provider.AuthError{
			Status:  http.StatusBadRequest,
			Code:    "email_not_confirmed",
			Message: "Email not confirmed",
		}
	}
	return &user, nil
}

// issueSession はアクセストークン（HS256）とリフレッシュトークンを発行する。
func (b *Backend) issueSession(user *model.AuthUser) (*model.AuthSession, error) {
	now := b.opts.Now()
	expiresAt := now.Add(b.opts.TokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.New().String(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh := randomToken()
	b.mu.Lock()
	b.refresh[refresh] = user.ID
	b.mu.Unlock()

	u := *user
	return &model.AuthSession{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(b.opts.TokenTTL.Seconds()),
		ExpiresAt:    expiresAt,
		User:         &u,
	}, nil
}

// refreshSession はリフレッシュトークンを使い捨てで交換する。
func (b *Backend) refreshSession(refreshToken string) (*model.AuthSession, error) {
	b.mu.Lock()
	userID, ok := b.refresh[refreshToken]
	if ok {
		delete(b.refresh, refreshToken)
	}
	acc := b.byID[userID]
	var user model.AuthUser
	if acc != nil {
		user = acc.user
	}
	b.mu.Unlock()

	if !ok || acc == nil {
		return nil, &provider.AuthError{
			Status:  http.StatusBadRequest,
			Code:    "refresh_token_not_found",
			Message: "Invalid Refresh Token: Refresh Token Not Found",
		}
	}
	return b.issueSession(&user)
}

// revoke はリフレッシュトークンを無効化する。
func (b *Backend) revoke(refreshToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.refresh, refreshToken)
}

// userFromToken はアクセストークンを検証してユーザーを返す。
func (b *Backend) userFromToken(accessToken string) (*model.AuthUser, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims,
		func(t *jwt.Token) (any, error) { return b.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.opts.Now),
	)
	if err != nil {
		return nil, &provider.AuthError{Status: http.StatusUnauthorized, Code: "bad_jwt", Message: "invalid JWT"}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	acc, ok := b.byID[claims.Subject]
	if !ok {
		return nil, &provider.AuthError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}
	user := acc.user
	return &user, nil
}

// setPassword はパスワードを変更する。
func (b *Backend) setPassword(userID, password string) (*model.AuthUser, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.byID[userID]
	if !ok {
		return nil, &provider.AuthError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}
	acc.passwordHash = hash
	user := acc.user
	return &user, nil
}

func (b *Backend) recordRecovery(email string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recoveries = append(b.recoveries, normalizeEmail(email))
}

// GetProfile はプロフィールを返す。存在しない場合はnil, nilを返す。
func (b *Backend) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// UpdateProfile はプロフィールを部分更新し、更新後の行を返す。
// 存在しない場合はnil, nilを返す。
func (b *Backend) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.profiles[userID]
	if !ok {
		return nil, nil
	}
	p = update.Apply(p)
	p.UpdatedAt = b.opts.Now()
	b.profiles[userID] = p
	return &p, nil
}

// ListProfiles は有効なプロフィールをfull_name順に返す。roleが空の場合は全ロール。
func (b *Backend) ListProfiles(ctx context.Context, role model.Role) ([]model.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	profiles := make([]model.UserProfile, 0, len(b.profiles))
	for _, p := range b.profiles {
		if !p.IsActive || (role != "" && p.Role != role) {
			continue
		}
		profiles = append(profiles, p)
	}
	slices.SortFunc(profiles, func(x, y model.UserProfile) int {
		if c := strings.Compare(x.FullName, y.FullName); c != 0 {
			return c
		}
		return strings.Compare(x.Email, y.Email)
	})
	return profiles, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}
