package middleware

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/talentstrike/internal/provider"
	"github.com/hitoshi/talentstrike/internal/provider/memory"
	"github.com/hitoshi/talentstrike/internal/session"
)

// newTestRegistry はデモアカウント入りのメモリプロバイダーを使うRegistryを返す。
func newTestRegistry(t *testing.T) *session.Registry {
	t.Helper()
	backend := memory.NewBackend(memory.Options{BcryptCost: bcrypt.MinCost})
	if err := backend.SeedDemoAccounts(); err != nil {
		t.Fatalf("SeedDemoAccounts がエラーを返した: %v", err)
	}
	factory := memory.NewFactory(backend, provider.NewMemoryStorage(), time.Minute)
	registry := session.NewRegistry(factory, backend, session.RegistryConfig{})
	t.Cleanup(registry.Stop)
	return registry
}

// signedInKey はサインイン済みのSession Contextを作り、そのキーを返す。
// プロフィールのロード完了まで待つ。
func signedInKey(t *testing.T, registry *session.Registry, email, password string) string {
	t.Helper()
	ctx := context.Background()
	key, sc, err := registry.Create(ctx)
	if err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}
	if _, err := sc.SignIn(ctx, email, password); err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if snap, err := sc.AwaitProfile(waitCtx); err != nil || snap.Profile == nil {
		t.Fatalf("プロフィールがロードされない: %v", err)
	}
	return key
}
