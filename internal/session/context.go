// Package session はブラウザセッションごとの認証状態（Session Context）を提供する。
// 認証プロバイダーのセッションをローカル状態にミラーし、
// ユーザープロフィールを遅延ロードし、サインイン等の操作をプロバイダーへ委譲する。
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/provider"
)

const (
	defaultProfileLoadTimeout = 10 * time.Second
	minPasswordLength         = 6
)

// State はセッションの状態を表す。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// ProfileStore はuser_profilesの読み書きを行う。
// 存在しない場合はnil, nilを返す。
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error)
}

// Observer は認証イベントとプロフィールロードの計測を受け取る。
type Observer interface {
	RecordAuthEvent(event string)
	RecordAuthOperation(operation, outcome string)
	RecordProfileLoad(outcome string)
	RecordStaleProfileDiscarded()
	SetActiveSessions(n int)
}

type noopObserver struct{}

func (noopObserver) RecordAuthEvent(string)             {}
func (noopObserver) RecordAuthOperation(string, string) {}
func (noopObserver) RecordProfileLoad(string)           {}
func (noopObserver) RecordStaleProfileDiscarded()       {}
func (noopObserver) SetActiveSessions(int)              {}

// Options はContextの設定。
type Options struct {
	ProfileLoadTimeout time.Duration
	Logger             *slog.Logger
	Observer           Observer
}

func (o Options) withDefaults() Options {
	if o.ProfileLoadTimeout <= 0 {
		o.ProfileLoadTimeout = defaultProfileLoadTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = noopObserver{}
	}
	return o
}

// Snapshot はContextの読み取り専用ビュー。
type Snapshot struct {
	State           State              `json:"state"`
	User            *model.AuthUser    `json:"user"`
	Profile         *model.UserProfile `json:"profile"`
	Loading         bool               `json:"loading"`
	ProfileLoading  bool               `json:"profile_loading"`
	IsAuthenticated bool               `json:"is_authenticated"`
	IsAdmin         bool               `json:"is_admin"`
	IsRecruiter     bool               `json:"is_recruiter"`
	IsAnalyst       bool               `json:"is_analyst"`
}

// HasRole はプロフィールのロールがrolesのいずれかに一致するかを返す。
func (s Snapshot) HasRole(roles ...model.Role) bool {
	if s.Profile == nil {
		return false
	}
	for _, r := range roles {
		if s.Profile.Role == r {
			return true
		}
	}
	return false
}

// profileLoad は実行中のプロフィールロード。
// 認証イベントごとに生成され、世代（generation）で識別される。
type profileLoad struct {
	generation uint64
	userID     string
	cancel     context.CancelFunc
	done       chan struct{}
}

// Context は1つのブラウザセッションの認証状態を保持する。
type Context struct {
	client   provider.AuthClient
	profiles ProfileStore
	opts     Options
	logger   *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu             sync.Mutex
	state          State
	session        *model.AuthSession
	user           *model.AuthUser
	profile        *model.UserProfile
	profileLoading bool
	generation     uint64
	load           *profileLoad
	sub            provider.Subscription
	closed         bool
}

// New はContextを生成する。Initializeを呼ぶまで状態はuninitialized。
func New(client provider.AuthClient, profiles ProfileStore, opts Options) *Context {
	opts = opts.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Context{
		client:     client,
		profiles:   profiles,
		opts:       opts,
		logger:     opts.Logger,
		baseCtx:    base,
		cancelBase: cancel,
		state:      StateUninitialized,
	}
}

// Initialize は変更通知を購読してから現在のセッションを1度だけ取得し、
// INITIAL_SESSIONとして反映する。取得に失敗した場合はログを出して匿名状態になり、
// そのエラーを返す。2回目以降の呼び出しは何もせずnilを返す。
func (c *Context) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLoading
	c.sub = c.client.OnAuthStateChange(c.handleAuthChange)
	startGen := c.generation
	c.mu.Unlock()

	sess, err := c.client.GetSession(ctx)
	if err != nil {
		c.logger.Warn("failed to get initial session",
			slog.String("error", err.Error()),
		)
		sess = nil
	}

	c.mu.Lock()
	superseded := c.generation != startGen
	c.mu.Unlock()
	if superseded {
		// 取得中に届いたイベントの方が新しい
		return nil
	}
	c.handleAuthChange(provider.EventInitialSession, sess)
	return err
}

// handleAuthChange は認証状態の変更を同期的に反映する。
// ユーザーがいればプロフィールロードを非同期で開始し、いなければ即座にクリアする。
func (c *Context) handleAuthChange(event provider.AuthChangeEvent, sess *model.AuthSession) {
	c.opts.Observer.RecordAuthEvent(string(event))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.generation++
	c.cancelLoadLocked()

	var user *model.AuthUser
	if sess != nil {
		user = sess.User
	}
	previousID := ""
	if c.user != nil {
		previousID = c.user.ID
	}

	c.session = sess
	c.user = user

	if user == nil {
		c.state = StateAnonymous
		c.profile = nil
		c.profileLoading = false
		return
	}

	c.state = StateAuthenticated
	if user.ID != previousID {
		c.profile = nil
	}
	c.startLoadLocked(user.ID)
}

// startLoadLocked は現在の世代のプロフィールロードを開始する。c.muを保持して呼ぶこと。
func (c *Context) startLoadLocked(userID string) {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.ProfileLoadTimeout)
	l := &profileLoad{
		generation: c.generation,
		userID:     userID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.load = l
	c.profileLoading = true

	c.wg.Add(1)
	go c.runLoad(ctx, l)
}

// cancelLoadLocked は実行中のロードをキャンセルし、結果を破棄させる。c.muを保持して呼ぶこと。
func (c *Context) cancelLoadLocked() {
	if c.load == nil {
		return
	}
	c.load.cancel()
	c.load = nil
	c.profileLoading = false
}

func (c *Context) runLoad(ctx context.Context, l *profileLoad) {
	defer c.wg.Done()
	defer close(l.done)
	defer l.cancel()

	start := time.Now()
	profile, err := c.profiles.GetProfile(ctx, l.userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.load != l || c.generation != l.generation {
		// 新しいイベントかプロフィール更新で置き換えられた
		c.opts.Observer.RecordStaleProfileDiscarded()
		c.logger.Debug("discarded stale profile load",
			slog.String("user_id", l.userID),
			slog.Uint64("generation", l.generation),
		)
		return
	}
	c.load = nil
	c.profileLoading = false

	switch {
	case err != nil:
		c.opts.Observer.RecordProfileLoad("error")
		c.logger.Error("profile load failed",
			slog.String("user_id", l.userID),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
	case profile == nil:
		c.opts.Observer.RecordProfileLoad("not_found")
		c.logger.Warn("profile not found",
			slog.String("user_id", l.userID),
		)
	default:
		c.opts.Observer.RecordProfileLoad("loaded")
		c.profile = profile
	}
}

// AwaitProfile は実行中のプロフィールロードが終わるかctxが終了するまで待ち、
// その時点のスナップショットを返す。
func (c *Context) AwaitProfile(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		l := c.load
		c.mu.Unlock()
		if l == nil {
			return c.Snapshot(), nil
		}
		select {
		case <-l.done:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Snapshot は現在の状態のコピーを返す。
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:          c.state,
		Loading:        c.state == StateUninitialized || c.state == StateLoading,
		ProfileLoading: c.profileLoading,
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
		snap.IsAuthenticated = true
	}
	if c.profile != nil {
		p := *c.profile
		snap.Profile = &p
	}
	snap.IsAdmin = snap.HasRole(model.RoleAdmin)
	snap.IsRecruiter = snap.HasRole(model.RoleRecruiter, model.RoleHRManager)
	snap.IsAnalyst = snap.HasRole(model.RoleAnalyst)
	return snap
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email           string     `json:"email"`
	Password        string     `json:"password"`
	ConfirmPassword string     `json:"confirm_password"`
	FullName        string     `json:"full_name"`
	Role            model.Role `json:"role"`
	Department      string     `json:"department"`
}

// Validate はプロバイダーを呼ぶ前のローカル検証を行う。
func (in SignUpInput) Validate() error {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return model.NewValidationError("Please fill in all required fields")
	}
	if !strings.Contains(in.Email, "@") {
		return model.NewValidationError("Please enter a valid email address")
	}
	if in.Password != in.ConfirmPassword {
		return model.NewPasswordMismatchError()
	}
	if len(in.Password) < minPasswordLength {
		return model.NewValidationError("Password must be at least 6 characters long")
	}
	if in.Role != "" && !in.Role.Valid() {
		return model.NewValidationError("Please select a valid role")
	}
	return nil
}

// SignUp はローカル検証の後、ユーザー登録をプロバイダーへ委譲する。
// ローカル状態は直接変更せず、変更通知で反映される。
func (c *Context) SignUp(ctx context.Context, in SignUpInput) (*model.AuthResponse, error) {
	if err := in.Validate(); err != nil {
		c.opts.Observer.RecordAuthOperation("signup", "invalid")
		return nil, err
	}

	email := strings.TrimSpace(in.Email)
	meta := model.UserMetadata{
		FullName:   strings.TrimSpace(in.FullName),
		Role:       in.Role,
		Department: in.Department,
	}.WithDefaults(email)

	resp, err := c.client.SignUp(ctx, email, in.Password, meta)
	if err != nil {
		c.opts.Observer.RecordAuthOperation("signup", "failure")
		c.logger.Warn("sign up failed",
			slog.String("error", err.Error()),
		)
		return nil, provider.ToAPIError(err)
	}
	c.opts.Observer.RecordAuthOperation("signup", "success")
	return resp, nil
}

// SignIn はメールアドレスとパスワードでのサインインをプロバイダーへ委譲する。
// ローカル状態は直接変更せず、変更通知で反映される。
func (c *Context) SignIn(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		c.opts.Observer.RecordAuthOperation("signin", "invalid")
		return nil, model.NewValidationError("Please enter both email and password")
	}

	resp, err := c.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.opts.Observer.RecordAuthOperation("signin", "failure")
		c.logger.Warn("sign in failed",
			slog.String("error", err.Error()),
		)
		return nil, provider.ToAPIError(err)
	}
	c.opts.Observer.RecordAuthOperation("signin", "success")
	return resp, nil
}

// SignOut はサインアウトをプロバイダーへ委譲し、成功時は変更通知を待たずに
// ユーザーとプロフィールを即座にクリアする。
// 失敗時はプロバイダーのセッションを取得し直し、既に無効ならローカルもクリアしてからエラーを返す。
func (c *Context) SignOut(ctx context.Context) error {
	if err := c.client.SignOut(ctx); err != nil {
		c.opts.Observer.RecordAuthOperation("signout", "failure")
		c.logger.Error("sign out failed",
			slog.String("error", err.Error()),
		)
		c.reconcile(ctx)
		return provider.ToAPIError(err)
	}

	c.opts.Observer.RecordAuthOperation("signout", "success")
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
	return nil
}

// reconcile はプロバイダーのセッションとローカル状態を突き合わせる。
func (c *Context) reconcile(ctx context.Context) {
	sess, err := c.client.GetSession(ctx)
	if err != nil {
		c.logger.Warn("failed to reconcile session after sign out failure",
			slog.String("error", err.Error()),
		)
		return
	}
	if sess != nil {
		return
	}
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
}

// clearLocked は匿名状態にする。c.muを保持して呼ぶこと。
func (c *Context) clearLocked() {
	if c.closed {
		return
	}
	c.generation++
	c.cancelLoadLocked()
	c.session = nil
	c.user = nil
	c.profile = nil
	c.state = StateAnonymous
}

// UpdateProfile はプロフィールを部分更新し、ストアが返した行でローカル状態を置き換える。
// ログインユーザーがいない場合は状態を変更せずにNO_ACTIVE_USERを返す。
func (c *Context) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.UserProfile, error) {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return nil, model.NewNoActiveUserError()
	}
	userID := c.user.ID
	c.mu.Unlock()

	if update.IsEmpty() {
		return nil, model.NewValidationError("no profile fields to update")
	}

	updated, err := c.profiles.UpdateProfile(ctx, userID, update)
	if err != nil {
		c.logger.Error("profile update failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if updated == nil {
		return nil, model.NewProfileNotFoundError(userID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.user.ID != userID {
		// 更新中にサインアウトまたは別ユーザーへ切り替わった
		c.logger.Warn("profile update finished after session change",
			slog.String("user_id", userID),
		)
		return updated, nil
	}
	// 実行中のロードが古い行で上書きしないように破棄する
	c.cancelLoadLocked()
	p := *updated
	c.profile = &p
	return updated, nil
}

// ResetPassword はパスワード再設定メールの送信をプロバイダーへ委譲する。
func (c *Context) ResetPassword(ctx context.Context, email, redirectTo string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError("Please enter your email address")
	}
	if err := c.client.ResetPasswordForEmail(ctx, email, redirectTo); err != nil {
		c.opts.Observer.RecordAuthOperation("reset_password", "failure")
		return provider.ToAPIError(err)
	}
	c.opts.Observer.RecordAuthOperation("reset_password", "success")
	return nil
}

// UpdatePassword はログイン中のユーザーのパスワードを変更する。
func (c *Context) UpdatePassword(ctx context.Context, password, confirm string) error {
	c.mu.Lock()
	active := c.user != nil
	c.mu.Unlock()
	if !active {
		return model.NewNoActiveUserError()
	}
	if password != confirm {
		return model.NewPasswordMismatchError()
	}
	if len(password) < minPasswordLength {
		return model.NewValidationError("Password must be at least 6 characters long")
	}
	if _, err := c.client.UpdatePassword(ctx, password); err != nil {
		c.opts.Observer.RecordAuthOperation("update_password", "failure")
		return provider.ToAPIError(err)
	}
	c.opts.Observer.RecordAuthOperation("update_password", "success")
	return nil
}

// Close は購読を解除し、実行中のロードをキャンセルして終了を待ち、クライアントを閉じる。
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelLoadLocked()
	c.closed = true
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.cancelBase()
	c.wg.Wait()
	c.client.Close()
}
