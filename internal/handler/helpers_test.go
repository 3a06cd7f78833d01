package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/talentstrike/internal/middleware"
	"github.com/hitoshi/talentstrike/internal/provider"
	"github.com/hitoshi/talentstrike/internal/provider/memory"
	"github.com/hitoshi/talentstrike/internal/realtime"
	"github.com/hitoshi/talentstrike/internal/session"
)

// --- テストヘルパー ---

// newTestRegistry はデモアカウント入りのメモリプロバイダーを使うRegistryを返す。
func newTestRegistry(t *testing.T, opts memory.Options) *session.Registry {
	t.Helper()
	opts.BcryptCost = bcrypt.MinCost
	backend := memory.NewBackend(opts)
	if err := backend.SeedDemoAccounts(); err != nil {
		t.Fatalf("SeedDemoAccounts がエラーを返した: %v", err)
	}
	factory := memory.NewFactory(backend, provider.NewMemoryStorage(), time.Minute)
	registry := session.NewRegistry(factory, backend, session.RegistryConfig{})
	t.Cleanup(registry.Stop)
	return registry
}

// newTestDeps はテスト用のRouterDepsを返す。レート制限は実質無制限。
func newTestDeps(t *testing.T, registry *session.Registry) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(10000, 10000))
	t.Cleanup(rl.Stop)
	return &RouterDeps{
		Sessions:         registry,
		RateLimiter:      rl,
		RoleCheckTimeout: time.Second,
		Auth: AuthHandlerConfig{
			BaseURL:     "http://localhost:3000",
			Cookie:      middleware.SessionCookieConfig{MaxAge: 3600},
			ProfileWait: 2 * time.Second,
		},
		Recruitment: &mockRecruitmentService{},
		Dashboard:   &mockOverviewService{},
	}
}

// testClient はCookieとCSRFトークンを保持してルーターへリクエストを送る。
type testClient struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
	csrf    string
}

func newTestClient(t *testing.T, handler http.Handler) *testClient {
	t.Helper()
	c := &testClient{t: t, handler: handler, cookies: make(map[string]*http.Cookie)}

	w := c.do(http.MethodGet, "/api/csrf-token", nil)
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode csrf token: %v", err)
	}
	c.csrf = body["token"]
	return c
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to encode request: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return w
}

func (c *testClient) signIn(email, password string) {
	c.t.Helper()
	w := c.do(http.MethodPost, "/auth/signin", signInRequest{Email: email, Password: password})
	if w.Code != http.StatusOK {
		c.t.Fatalf("sign in as %s: status = %d, body = %s", email, w.Code, w.Body.String())
	}
}

// decodeBody はレスポンスボディをvにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body=%q)", err, w.Body.String())
	}
}

// errorCode はエラーレスポンスのcodeを返す。
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body.Code
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return httptest.NewRequest(method, path, bytes.NewReader(b))
}

// newRateLimiterForTest は認証試行だけをauthPerMinuteに制限するRateLimiterを返す。
func newRateLimiterForTest(t *testing.T, authPerMinute int) *middleware.RateLimiter {
	t.Helper()
	cfg := middleware.NewRateLimiterConfig(10000, authPerMinute)
	rl := middleware.NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func newTestHub(t *testing.T) *realtime.Hub {
	t.Helper()
	hub := realtime.NewHub(nil, nil)
	t.Cleanup(hub.Close)
	return hub
}
