package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/provider"
	"github.com/hitoshi/talentstrike/internal/provider/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// --- モック定義 ---

// mockAuthClient はprovider.AuthClientのモック。
// 変更通知はEmitterで実際に配信する。
type mockAuthClient struct {
	*provider.Emitter
	getSessionFn   func(ctx context.Context) (*model.AuthSession, error)
	signUpFn       func(ctx context.Context, email, password string, meta model.UserMetadata) (*model.AuthResponse, error)
	signInFn       func(ctx context.Context, email, password string) (*model.AuthResponse, error)
	signOutFn      func(ctx context.Context) error
	resetFn        func(ctx context.Context, email, redirectTo string) error
	updatePasswdFn func(ctx context.Context, password string) (*model.AuthUser, error)
	closed         atomic.Bool
}

func newMockAuthClient() *mockAuthClient {
	return &mockAuthClient{Emitter: provider.NewEmitter()}
}

func (m *mockAuthClient) GetSession(ctx context.Context) (*model.AuthSession, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx)
	}
	return nil, nil
}

func (m *mockAuthClient) GetUser(ctx context.Context) (*model.AuthUser, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAuthClient) SignUp(ctx context.Context, email, password string, meta model.UserMetadata) (*model.AuthResponse, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, meta)
	}
	return &model.AuthResponse{}, nil
}

func (m *mockAuthClient) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return &model.AuthResponse{}, nil
}

func (m *mockAuthClient) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	m.Emit(provider.EventSignedOut, nil)
	return nil
}

func (m *mockAuthClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email, redirectTo)
	}
	return nil
}

func (m *mockAuthClient) UpdatePassword(ctx context.Context, password string) (*model.AuthUser, error) {
	if m.updatePasswdFn != nil {
		return m.updatePasswdFn(ctx, password)
	}
	return &model.AuthUser{}, nil
}

func (m *mockAuthClient) OnAuthStateChange(listener provider.AuthStateListener) provider.Subscription {
	return m.Subscribe(listener)
}

func (m *mockAuthClient) Close() {
	m.closed.Store(true)
}

// mockProfileStore はProfileStoreのモック。
type mockProfileStore struct {
	getFn    func(ctx context.Context, userID string) (*model.UserProfile, error)
	updateFn func(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error)
	updates  atomic.Int32
}

func (m *mockProfileStore) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.UserProfile{ID: userID, Role: model.RoleRecruiter}, nil
}

func (m *mockProfileStore) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error) {
	m.updates.Add(1)
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, update)
	}
	return nil, nil
}

// compile-time interface checks
var (
	_ provider.AuthClient = (*mockAuthClient)(nil)
	_ ProfileStore        = (*mockProfileStore)(nil)
)

func sessionFor(userID string) *model.AuthSession {
	return &model.AuthSession{
		AccessToken:  "token-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         &model.AuthUser{ID: userID, Email: userID + "@example.com"},
	}
}

func newTestContext(t *testing.T, client provider.AuthClient, store ProfileStore) *Context {
	t.Helper()
	var buf bytes.Buffer
	c := New(client, store, Options{
		ProfileLoadTimeout: 5 * time.Second,
		Logger:             newTestLogger(&buf),
	})
	t.Cleanup(c.Close)
	return c
}

func awaitProfile(t *testing.T, c *Context) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := c.AwaitProfile(ctx)
	if err != nil {
		t.Fatalf("AwaitProfile がタイムアウトした: %v", err)
	}
	return snap
}

// --- 初期化 ---

func TestContext_Initialize_NoSession(t *testing.T) {
	client := newMockAuthClient()
	c := newTestContext(t, client, &mockProfileStore{})

	if got := c.Snapshot().State; got != StateUninitialized {
		t.Fatalf("初期状態 = %s, want uninitialized", got)
	}
	if !c.Snapshot().Loading {
		t.Error("初期化前はLoadingであるべき")
	}

	c.Initialize(context.Background())

	snap := c.Snapshot()
	if snap.State != StateAnonymous {
		t.Errorf("State = %s, want anonymous", snap.State)
	}
	if snap.Loading || snap.IsAuthenticated {
		t.Errorf("スナップショットが不正: %+v", snap)
	}
	if client.Len() != 1 {
		t.Errorf("購読数 = %d, want 1", client.Len())
	}
}

func TestContext_Initialize_WithStoredSession(t *testing.T) {
	client := newMockAuthClient()
	client.getSessionFn = func(ctx context.Context) (*model.AuthSession, error) {
		return sessionFor("user-1"), nil
	}
	c := newTestContext(t, client, &mockProfileStore{})

	c.Initialize(context.Background())

	snap := c.Snapshot()
	if snap.State != StateAuthenticated || !snap.IsAuthenticated {
		t.Fatalf("State = %s, want authenticated", snap.State)
	}
	snap = awaitProfile(t, c)
	if snap.Profile == nil || snap.Profile.ID != "user-1" {
		t.Errorf("Profile = %+v, want user-1", snap.Profile)
	}
	if snap.ProfileLoading {
		t.Error("ロード完了後もProfileLoadingがtrue")
	}
}

func TestContext_Initialize_FetchFailureLeavesAnonymous(t *testing.T) {
	client := newMockAuthClient()
	client.getSessionFn = func(ctx context.Context) (*model.AuthSession, error) {
		return nil, provider.ErrUnavailable
	}
	c := newTestContext(t, client, &mockProfileStore{})

	if err := c.Initialize(context.Background()); !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("Initialize のエラー = %v, want ErrUnavailable", err)
	}

	if got := c.Snapshot().State; got != StateAnonymous {
		t.Errorf("State = %s, want anonymous", got)
	}
}

func TestContext_Initialize_Idempotent(t *testing.T) {
	var calls atomic.Int32
	client := newMockAuthClient()
	client.getSessionFn = func(ctx context.Context) (*model.AuthSession, error) {
		calls.Add(1)
		return nil, nil
	}
	c := newTestContext(t, client, &mockProfileStore{})

	c.Initialize(context.Background())
	c.Initialize(context.Background())

	if got := calls.Load(); got != 1 {
		t.Errorf("GetSession 呼び出し回数 = %d, want 1", got)
	}
	if client.Len() != 1 {
		t.Errorf("購読数 = %d, want 1", client.Len())
	}
}

// --- 変更通知 ---

func TestContext_ProfileLoadFailureLeavesProfileNil(t *testing.T) {
	client := newMockAuthClient()
	store := &mockProfileStore{
		getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			return nil, errors.New("connection refused")
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())

	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	snap := awaitProfile(t, c)

	if !snap.IsAuthenticated {
		t.Error("プロフィール取得失敗でも認証済みであるべき")
	}
	if snap.Profile != nil {
		t.Errorf("Profile = %+v, want nil", snap.Profile)
	}
	if snap.ProfileLoading {
		t.Error("失敗後もProfileLoadingがtrue")
	}
}

func TestContext_ProfileNotFoundLeavesProfileNil(t *testing.T) {
	client := newMockAuthClient()
	store := &mockProfileStore{
		getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			return nil, nil
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())

	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	snap := awaitProfile(t, c)
	if snap.Profile != nil {
		t.Errorf("Profile = %+v, want nil", snap.Profile)
	}
}

func TestContext_SameUserEventKeepsProfileWhileReloading(t *testing.T) {
	client := newMockAuthClient()
	release := make(chan struct{})
	var loads atomic.Int32
	store := &mockProfileStore{
		getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			if loads.Add(1) > 1 {
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &model.UserProfile{ID: userID, Role: model.RoleAnalyst}, nil
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())

	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	client.Emit(provider.EventTokenRefreshed, sessionFor("user-1"))
	snap := c.Snapshot()
	if snap.Profile == nil {
		t.Fatal("同一ユーザーのイベントでプロフィールが消えた")
	}
	if !snap.ProfileLoading {
		t.Error("再ロード中はProfileLoadingがtrueであるべき")
	}
	close(release)
	awaitProfile(t, c)
}

func TestContext_NewUserEventClearsProfile(t *testing.T) {
	client := newMockAuthClient()
	release := make(chan struct{})
	store := &mockProfileStore{
		getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			if userID == "user-2" {
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &model.UserProfile{ID: userID}, nil
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())

	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	client.Emit(provider.EventSignedIn, sessionFor("user-2"))
	if p := c.Snapshot().Profile; p != nil {
		t.Errorf("別ユーザーのプロフィールが残っている: %+v", p)
	}
	close(release)
	if snap := awaitProfile(t, c); snap.Profile == nil || snap.Profile.ID != "user-2" {
		t.Errorf("Profile = %+v, want user-2", snap.Profile)
	}
}

// TestContext_RapidEventsLastEventWins は(login, logout, login)の連続イベントで
// 遅い最初のロード結果が最終状態を上書きしないことを検証する。
func TestContext_RapidEventsLastEventWins(t *testing.T) {
	tests := []struct {
		name        string
		honorCancel bool
	}{
		{name: "キャンセルに応答するストア", honorCancel: true},
		{name: "キャンセルを無視するストア", honorCancel: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockAuthClient()
			slowRelease := make(chan struct{})
			slowReturned := make(chan struct{})
			store := &mockProfileStore{
				getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
					if userID == "user-a" {
						defer close(slowReturned)
						if tt.honorCancel {
							select {
							case <-slowRelease:
							case <-ctx.Done():
								return nil, ctx.Err()
							}
						} else {
							<-slowRelease
						}
						return &model.UserProfile{ID: "user-a", Role: model.RoleAdmin}, nil
					}
					return &model.UserProfile{ID: userID, Role: model.RoleAnalyst}, nil
				},
			}
			c := newTestContext(t, client, store)
			c.Initialize(context.Background())

			client.Emit(provider.EventSignedIn, sessionFor("user-a"))
			client.Emit(provider.EventSignedOut, nil)
			client.Emit(provider.EventSignedIn, sessionFor("user-b"))

			snap := awaitProfile(t, c)
			if snap.Profile == nil || snap.Profile.ID != "user-b" {
				t.Fatalf("Profile = %+v, want user-b", snap.Profile)
			}

			close(slowRelease)
			<-slowReturned
			c.Close()

			final := c.Snapshot()
			if final.User == nil || final.User.ID != "user-b" {
				t.Errorf("User = %+v, want user-b", final.User)
			}
			if final.Profile == nil || final.Profile.ID != "user-b" {
				t.Errorf("遅いロードで上書きされた: Profile = %+v", final.Profile)
			}
			if final.IsAdmin {
				t.Error("古いプロフィールのロールが反映された")
			}
		})
	}
}

// --- サインアップ ---

func TestContext_SignUp_Validation(t *testing.T) {
	tests := []struct {
		name     string
		input    SignUpInput
		wantCode string
	}{
		{
			name:     "確認用パスワード不一致",
			input:    SignUpInput{Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret2"},
			wantCode: model.ErrCodePasswordMismatch,
		},
		{
			name:     "必須項目の欠落",
			input:    SignUpInput{Email: "", Password: "secret1", ConfirmPassword: "secret1"},
			wantCode: model.ErrCodeValidationFailed,
		},
		{
			name:     "パスワードが短い",
			input:    SignUpInput{Email: "a@example.com", Password: "abc", ConfirmPassword: "abc"},
			wantCode: model.ErrCodeValidationFailed,
		},
		{
			name:     "不正なメールアドレス",
			input:    SignUpInput{Email: "not-an-email", Password: "secret1", ConfirmPassword: "secret1"},
			wantCode: model.ErrCodeValidationFailed,
		},
		{
			name:     "不正なロール",
			input:    SignUpInput{Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret1", Role: "superuser"},
			wantCode: model.ErrCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newMockAuthClient()
			client.signUpFn = func(ctx context.Context, email, password string, meta model.UserMetadata) (*model.AuthResponse, error) {
				calls.Add(1)
				return &model.AuthResponse{}, nil
			}
			c := newTestContext(t, client, &mockProfileStore{})
			c.Initialize(context.Background())

			_, err := c.SignUp(context.Background(), tt.input)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("エラー型 = %T, want *model.APIError", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", apiErr.Code, tt.wantCode)
			}
			if calls.Load() != 0 {
				t.Error("検証エラー時にプロバイダーが呼ばれた")
			}
			if got := c.Snapshot().State; got != StateAnonymous {
				t.Errorf("State = %s, want anonymous", got)
			}
		})
	}
}

func TestContext_SignUp_MetadataDefaults(t *testing.T) {
	var gotMeta model.UserMetadata
	client := newMockAuthClient()
	client.signUpFn = func(ctx context.Context, email, password string, meta model.UserMetadata) (*model.AuthResponse, error) {
		gotMeta = meta
		return &model.AuthResponse{User: &model.AuthUser{ID: "new", Email: email}}, nil
	}
	c := newTestContext(t, client, &mockProfileStore{})
	c.Initialize(context.Background())

	resp, err := c.SignUp(context.Background(), SignUpInput{
		Email:           "jane.doe@example.com",
		Password:        "secret1",
		ConfirmPassword: "secret1",
	})
	if err != nil {
		t.Fatalf("SignUp がエラーを返した: %v", err)
	}
	if resp.User.ID != "new" {
		t.Errorf("User.ID = %s, want new", resp.User.ID)
	}
	want := model.UserMetadata{FullName: "jane.doe", Role: model.RoleRecruiter, Department: "hr"}
	if gotMeta != want {
		t.Errorf("メタデータ = %+v, want %+v", gotMeta, want)
	}
	if c.Snapshot().IsAuthenticated {
		t.Error("サインアップはローカル状態を直接変更してはならない")
	}
}

func TestContext_SignUp_ProviderError(t *testing.T) {
	client := newMockAuthClient()
	client.signUpFn = func(ctx context.Context, email, password string, meta model.UserMetadata) (*model.AuthResponse, error) {
		return nil, &provider.AuthError{Status: 422, Message: "User already registered"}
	}
	c := newTestContext(t, client, &mockProfileStore{})

	_, err := c.SignUp(context.Background(), SignUpInput{Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret1"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmailAlreadyRegistered {
		t.Errorf("エラー = %v, want EMAIL_ALREADY_REGISTERED", err)
	}
}

// --- サインイン/サインアウト（メモリプロバイダー） ---

func newMemoryContext(t *testing.T) (*Context, *memory.Backend) {
	t.Helper()
	backend := memory.NewBackend(memory.Options{BcryptCost: bcrypt.MinCost})
	if err := backend.SeedDemoAccounts(); err != nil {
		t.Fatalf("SeedDemoAccounts がエラーを返した: %v", err)
	}
	client := memory.NewClient(backend, provider.NewMemoryStorage(), "browser", time.Minute)
	c := newTestContext(t, client, backend)
	c.Initialize(context.Background())
	return c, backend
}

func TestContext_SignIn_AdminDemoAccount(t *testing.T) {
	c, _ := newMemoryContext(t)

	resp, err := c.SignIn(context.Background(), "admin@talentstrike.com", "admin123")
	if err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	if resp.Session == nil {
		t.Fatal("セッションがnil")
	}
	if !c.Snapshot().IsAuthenticated {
		t.Error("サインイン後に認証済みになっていない")
	}

	snap := awaitProfile(t, c)
	if snap.Profile == nil {
		t.Fatal("プロフィールがロードされていない")
	}
	if snap.Profile.Role != model.RoleAdmin {
		t.Errorf("Role = %s, want admin", snap.Profile.Role)
	}
	if !snap.IsAdmin || snap.IsRecruiter || snap.IsAnalyst {
		t.Errorf("ロールフラグが不正: %+v", snap)
	}
}

func TestContext_SignIn_RoleFlags(t *testing.T) {
	tests := []struct {
		email, password string
		wantRecruiter   bool
		wantAnalyst     bool
	}{
		{email: "recruiter@talentstrike.com", password: "recruiter123", wantRecruiter: true},
		{email: "analyst@talentstrike.com", password: "analyst123", wantAnalyst: true},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			c, _ := newMemoryContext(t)
			if _, err := c.SignIn(context.Background(), tt.email, tt.password); err != nil {
				t.Fatalf("SignIn がエラーを返した: %v", err)
			}
			snap := awaitProfile(t, c)
			if snap.IsRecruiter != tt.wantRecruiter || snap.IsAnalyst != tt.wantAnalyst || snap.IsAdmin {
				t.Errorf("ロールフラグが不正: %+v", snap)
			}
		})
	}
}

func TestContext_SignIn_InvalidCredentials(t *testing.T) {
	c, _ := newMemoryContext(t)

	_, err := c.SignIn(context.Background(), "admin@talentstrike.com", "wrong")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredentials {
		t.Fatalf("エラー = %v, want INVALID_CREDENTIALS", err)
	}
	if c.Snapshot().IsAuthenticated {
		t.Error("失敗したサインインで認証済みになった")
	}
}

func TestContext_SignIn_RequiresFields(t *testing.T) {
	var calls atomic.Int32
	client := newMockAuthClient()
	client.signInFn = func(ctx context.Context, email, password string) (*model.AuthResponse, error) {
		calls.Add(1)
		return &model.AuthResponse{}, nil
	}
	c := newTestContext(t, client, &mockProfileStore{})

	if _, err := c.SignIn(context.Background(), " ", "pw"); err == nil {
		t.Error("空のメールアドレスでエラーにならない")
	}
	if calls.Load() != 0 {
		t.Error("検証エラー時にプロバイダーが呼ばれた")
	}
}

func TestContext_SignOut_ClearsImmediately(t *testing.T) {
	client := newMockAuthClient()
	c := newTestContext(t, client, &mockProfileStore{})
	c.Initialize(context.Background())

	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	// 変更通知を送らないプロバイダーでも即座にクリアされる
	client.signOutFn = func(ctx context.Context) error { return nil }

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut がエラーを返した: %v", err)
	}
	snap := c.Snapshot()
	if snap.IsAuthenticated || snap.Profile != nil || snap.User != nil {
		t.Errorf("サインアウト直後の状態が不正: %+v", snap)
	}
	if snap.State != StateAnonymous {
		t.Errorf("State = %s, want anonymous", snap.State)
	}
}

func TestContext_SignOut_WithMemoryProvider(t *testing.T) {
	c, _ := newMemoryContext(t)
	if _, err := c.SignIn(context.Background(), "admin@talentstrike.com", "admin123"); err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	awaitProfile(t, c)

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut がエラーを返した: %v", err)
	}
	snap := c.Snapshot()
	if snap.IsAuthenticated || snap.Profile != nil {
		t.Errorf("サインアウト後の状態が不正: %+v", snap)
	}
}

func TestContext_SignOut_Failure(t *testing.T) {
	tests := []struct {
		name              string
		providerSession   *model.AuthSession
		wantAuthenticated bool
	}{
		{name: "プロバイダーにセッションが残っている", providerSession: sessionFor("user-1"), wantAuthenticated: true},
		{name: "プロバイダー側では既に無効", providerSession: nil, wantAuthenticated: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockAuthClient()
			c := newTestContext(t, client, &mockProfileStore{})
			c.Initialize(context.Background())
			client.Emit(provider.EventSignedIn, sessionFor("user-1"))
			awaitProfile(t, c)

			client.signOutFn = func(ctx context.Context) error {
				return provider.ErrUnavailable
			}
			client.getSessionFn = func(ctx context.Context) (*model.AuthSession, error) {
				return tt.providerSession, nil
			}

			err := c.SignOut(context.Background())
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProviderUnavailable {
				t.Fatalf("エラー = %v, want PROVIDER_UNAVAILABLE", err)
			}
			if got := c.Snapshot().IsAuthenticated; got != tt.wantAuthenticated {
				t.Errorf("IsAuthenticated = %v, want %v", got, tt.wantAuthenticated)
			}
		})
	}
}

// --- プロフィール更新 ---

func TestContext_UpdateProfile_NoActiveUser(t *testing.T) {
	client := newMockAuthClient()
	store := &mockProfileStore{}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())

	name := "New Name"
	before := c.Snapshot()
	_, err := c.UpdateProfile(context.Background(), model.ProfileUpdate{FullName: &name})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNoActiveUser {
		t.Fatalf("エラー = %v, want NO_ACTIVE_USER", err)
	}
	if apiErr.Message != "No user logged in" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if store.updates.Load() != 0 {
		t.Error("ユーザー不在でストアが呼ばれた")
	}
	after := c.Snapshot()
	if after.Profile != before.Profile || after.State != before.State {
		t.Errorf("状態が変更された: before=%+v after=%+v", before, after)
	}
}

func TestContext_UpdateProfile_ReplacesWithStoreRow(t *testing.T) {
	c, _ := newMemoryContext(t)
	if _, err := c.SignIn(context.Background(), "recruiter@talentstrike.com", "recruiter123"); err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	awaitProfile(t, c)

	phone := "+81-90-1234-5678"
	dept := "engineering"
	update := model.ProfileUpdate{Phone: &phone, Department: &dept}

	first, err := c.UpdateProfile(context.Background(), update)
	if err != nil {
		t.Fatalf("UpdateProfile がエラーを返した: %v", err)
	}
	snap := c.Snapshot()
	if snap.Profile == nil || *snap.Profile != *first {
		t.Errorf("ローカル状態がストアの行と一致しない: local=%+v row=%+v", snap.Profile, first)
	}

	second, err := c.UpdateProfile(context.Background(), update)
	if err != nil {
		t.Fatalf("2回目の UpdateProfile がエラーを返した: %v", err)
	}
	snap = c.Snapshot()
	if *snap.Profile != *second {
		t.Errorf("ローカル状態がストアの行と一致しない: local=%+v row=%+v", snap.Profile, second)
	}
	if second.Phone != first.Phone || second.Department != first.Department || second.Role != first.Role {
		t.Errorf("同じ更新の繰り返しで結果が変わった: first=%+v second=%+v", first, second)
	}
}

func TestContext_UpdateProfile_SupersedesInFlightLoad(t *testing.T) {
	client := newMockAuthClient()
	release := make(chan struct{})
	var loads atomic.Int32
	store := &mockProfileStore{
		getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			if loads.Add(1) == 2 {
				<-release
			}
			return &model.UserProfile{ID: userID, FullName: "Old Name"}, nil
		},
		updateFn: func(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error) {
			return &model.UserProfile{ID: userID, FullName: *update.FullName}, nil
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())
	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	// 2回目のロードを実行中にしておく
	client.Emit(provider.EventTokenRefreshed, sessionFor("user-1"))

	name := "New Name"
	if _, err := c.UpdateProfile(context.Background(), model.ProfileUpdate{FullName: &name}); err != nil {
		t.Fatalf("UpdateProfile がエラーを返した: %v", err)
	}
	close(release)
	c.Close()

	if got := c.Snapshot().Profile.FullName; got != "New Name" {
		t.Errorf("FullName = %q, want New Name", got)
	}
}

func TestContext_UpdateProfile_TokenRefreshDuringUpdateKeepsStoreRow(t *testing.T) {
	client := newMockAuthClient()
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &mockProfileStore{
		getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			return &model.UserProfile{ID: userID, Department: "hr"}, nil
		},
		updateFn: func(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error) {
			close(entered)
			<-release
			return &model.UserProfile{ID: userID, Department: *update.Department}, nil
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())
	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	type result struct {
		profile *model.UserProfile
		err     error
	}
	done := make(chan result, 1)
	dept := "engineering"
	go func() {
		p, err := c.UpdateProfile(context.Background(), model.ProfileUpdate{Department: &dept})
		done <- result{p, err}
	}()

	<-entered
	// 更新中に同じユーザーのトークン更新が届き、古い行を再ロードする
	client.Emit(provider.EventTokenRefreshed, sessionFor("user-1"))
	if snap := awaitProfile(t, c); snap.Profile == nil || snap.Profile.Department != "hr" {
		t.Fatalf("再ロード後のプロフィール = %+v", snap.Profile)
	}
	close(release)

	res := <-done
	if res.err != nil {
		t.Fatalf("UpdateProfile がエラーを返した: %v", res.err)
	}
	got := c.Snapshot().Profile
	if got == nil || got.Department != res.profile.Department {
		t.Errorf("ローカルのプロフィール = %+v, want store row %+v", got, res.profile)
	}
}

func TestContext_UpdateProfile_SignOutDuringUpdateDiscardsRow(t *testing.T) {
	client := newMockAuthClient()
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &mockProfileStore{
		updateFn: func(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error) {
			close(entered)
			<-release
			return &model.UserProfile{ID: userID, Department: *update.Department}, nil
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())
	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	errCh := make(chan error, 1)
	dept := "engineering"
	go func() {
		_, err := c.UpdateProfile(context.Background(), model.ProfileUpdate{Department: &dept})
		errCh <- err
	}()

	<-entered
	client.Emit(provider.EventSignedOut, nil)
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("UpdateProfile がエラーを返した: %v", err)
	}
	if snap := c.Snapshot(); snap.Profile != nil || snap.IsAuthenticated {
		t.Errorf("サインアウト後にプロフィールが残っている: %+v", snap)
	}
}

func TestContext_UpdateProfile_EmptyUpdate(t *testing.T) {
	client := newMockAuthClient()
	store := &mockProfileStore{}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())
	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	_, err := c.UpdateProfile(context.Background(), model.ProfileUpdate{})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Errorf("エラー = %v, want VALIDATION_FAILED", err)
	}
	if store.updates.Load() != 0 {
		t.Error("空の更新でストアが呼ばれた")
	}
}

// --- パスワード ---

func TestContext_UpdatePassword(t *testing.T) {
	client := newMockAuthClient()
	var got string
	client.updatePasswdFn = func(ctx context.Context, password string) (*model.AuthUser, error) {
		got = password
		return &model.AuthUser{ID: "user-1"}, nil
	}
	c := newTestContext(t, client, &mockProfileStore{})
	c.Initialize(context.Background())

	if err := c.UpdatePassword(context.Background(), "newpass", "newpass"); err == nil {
		t.Error("未ログインでエラーにならない")
	}

	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	awaitProfile(t, c)

	if err := c.UpdatePassword(context.Background(), "newpass", "other"); err == nil {
		t.Error("確認用パスワード不一致でエラーにならない")
	}
	if err := c.UpdatePassword(context.Background(), "newpass", "newpass"); err != nil {
		t.Fatalf("UpdatePassword がエラーを返した: %v", err)
	}
	if got != "newpass" {
		t.Errorf("プロバイダーに渡したパスワード = %q", got)
	}
}

func TestContext_ResetPassword(t *testing.T) {
	c, backend := newMemoryContext(t)

	if err := c.ResetPassword(context.Background(), "", ""); err == nil {
		t.Error("空のメールアドレスでエラーにならない")
	}
	if err := c.ResetPassword(context.Background(), "analyst@talentstrike.com", "https://app.example.com/reset"); err != nil {
		t.Fatalf("ResetPassword がエラーを返した: %v", err)
	}
	if got := backend.Recoveries(); len(got) != 1 {
		t.Errorf("Recoveries = %v", got)
	}
}

// --- 終了処理 ---

func TestContext_Close(t *testing.T) {
	client := newMockAuthClient()
	blocked := make(chan struct{})
	store := &mockProfileStore{
		getFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			close(blocked)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := newTestContext(t, client, store)
	c.Initialize(context.Background())
	client.Emit(provider.EventSignedIn, sessionFor("user-1"))
	<-blocked

	c.Close()

	if client.Len() != 0 {
		t.Errorf("Close後も購読が残っている: %d", client.Len())
	}
	if !client.closed.Load() {
		t.Error("クライアントが閉じられていない")
	}

	// Close後のイベントは無視される
	client.Emit(provider.EventSignedOut, nil)
	if !c.Snapshot().IsAuthenticated {
		t.Error("Close後のイベントで状態が変わった")
	}

	// 2回目のCloseは安全
	c.Close()
}

func TestContext_ConcurrentAccess(t *testing.T) {
	client := newMockAuthClient()
	c := newTestContext(t, client, &mockProfileStore{})
	c.Initialize(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				client.Emit(provider.EventSignedIn, sessionFor("user-1"))
			} else {
				client.Emit(provider.EventSignedOut, nil)
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	client.Emit(provider.EventSignedIn, sessionFor("user-9"))
	snap := awaitProfile(t, c)
	if snap.Profile == nil || snap.Profile.ID != "user-9" {
		t.Errorf("Profile = %+v, want user-9", snap.Profile)
	}
}
