package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/session"
)

func TestSessionMiddleware_ValidCookie_InjectsSession(t *testing.T) {
	registry := newTestRegistry(t)
	key := signedInKey(t, registry, "recruiter@talentstrike.com", "recruiter123")

	var snap session.Snapshot
	var gotKey string
	handler := NewSessionMiddleware(registry)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatal("Session Contextが注入されていない")
		}
		snap = sc.Snapshot()
		gotKey, _ = SessionKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: key})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !snap.IsAuthenticated || !snap.IsRecruiter {
		t.Errorf("snapshot = %+v", snap)
	}
	if gotKey != key {
		t.Errorf("key = %q, want %q", gotKey, key)
	}
}

func TestSessionMiddleware_MissingOrInvalidCookie_PassesThroughWithoutSession(t *testing.T) {
	registry := newTestRegistry(t)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "Cookieなし"},
		{name: "空のCookie", cookie: &http.Cookie{Name: SessionCookieName, Value: ""}},
		{name: "不正な形式", cookie: &http.Cookie{Name: SessionCookieName, Value: "not-a-session-key"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewSessionMiddleware(registry)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if _, ok := SessionFromContext(r.Context()); ok {
					t.Error("Session Contextが注入されてはならない")
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Error("next handler should be called")
			}
		})
	}
	if registry.Len() != 0 {
		t.Errorf("Registry.Len = %d, want 0", registry.Len())
	}
}

// 形式が正しくても保存済みセッションのないキーはContextを登録せずに通過させる
func TestSessionMiddleware_UnknownKeys_DoNotGrowRegistry(t *testing.T) {
	registry := newTestRegistry(t)

	handler := NewSessionMiddleware(registry)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); ok {
			t.Error("Session Contextが注入されてはならない")
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 50; i++ {
		key, err := session.NewKey()
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: key})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
	}

	if registry.Len() != 0 {
		t.Errorf("Registry.Len = %d, want 0", registry.Len())
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	registry := newTestRegistry(t)
	key := signedInKey(t, registry, "analyst@talentstrike.com", "analyst123")
	anonKey, _, err := registry.Create(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	var gotUserID string
	chain := NewSessionMiddleware(registry)(NewRequireAuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "認証済み", key: key, wantStatus: http.StatusOK},
		{name: "匿名のContext", key: anonKey, wantStatus: http.StatusUnauthorized},
		{name: "Cookieなし", key: "", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUserID = ""
			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if tt.key != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.key})
			}
			w := httptest.NewRecorder()
			chain.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotUserID == "" {
				t.Error("ユーザーIDが注入されていない")
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var body ErrorResponseBody
				json.NewDecoder(w.Body).Decode(&body)
				if body.Code != model.ErrCodeNoActiveUser {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNoActiveUser)
				}
			}
		})
	}
}

func TestRequireRoleMiddleware(t *testing.T) {
	registry := newTestRegistry(t)
	adminKey := signedInKey(t, registry, "admin@talentstrike.com", "admin123")
	analystKey := signedInKey(t, registry, "analyst@talentstrike.com", "analyst123")

	chain := NewSessionMiddleware(registry)(NewRequireAuthMiddleware()(
		NewRequireRoleMiddleware(time.Second, model.RoleAdmin, model.RoleHRManager, model.RoleRecruiter)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			}))))

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "adminは許可", key: adminKey, wantStatus: http.StatusCreated},
		{name: "analystは拒否", key: analystKey, wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.key})
			w := httptest.NewRecorder()
			chain.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				json.NewDecoder(w.Body).Decode(&body)
				if body.Code != model.ErrCodeForbiddenRole {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeForbiddenRole)
				}
			}
		})
	}
}

func TestEnsureSession_CreatesAndSetsCookie(t *testing.T) {
	registry := newTestRegistry(t)
	cfg := SessionCookieConfig{Secure: true, MaxAge: 3600}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
	sc, key, err := EnsureSession(w, req, registry, cfg)
	if err != nil {
		t.Fatalf("EnsureSession がエラーを返した: %v", err)
	}
	if sc == nil || !session.ValidKey(key) {
		t.Fatalf("EnsureSession = (%v, %q)", sc, key)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("セッションCookieが設定されていない")
	}
	if cookie.Value != key || !cookie.HttpOnly || !cookie.Secure || cookie.MaxAge != 3600 || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie = %+v", cookie)
	}
}

func TestEnsureSession_ReusesExisting(t *testing.T) {
	registry := newTestRegistry(t)
	key, sc, err := registry.Create(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
	req = req.WithContext(ContextWithSession(req.Context(), key, sc))

	got, gotKey, err := EnsureSession(w, req, registry, SessionCookieConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if got != sc || gotKey != key {
		t.Error("既存のSession Contextを返すべき")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("既存セッションではCookieを再設定しない")
	}
	if registry.Len() != 1 {
		t.Errorf("Registry.Len = %d, want 1", registry.Len())
	}
}

func TestClearSessionCookie(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSessionCookie(w, SessionCookieConfig{Domain: "example.com"})

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName || cookies[0].MaxAge >= 0 {
		t.Errorf("cookies = %+v", cookies)
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(t.Context()); err == nil {
		t.Error("expected error when user ID is not in context")
	}
}

func TestUserIDFromContext_ValidValue_ReturnsUserID(t *testing.T) {
	ctx := ContextWithUserID(t.Context(), "user-456")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userID != "user-456" {
		t.Errorf("userID = %q, want %q", userID, "user-456")
	}
}
