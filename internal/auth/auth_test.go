package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coffre/coffre/internal/vfs"
)

func newTestProvider() *Provider {
	return New(NewMemoryStore(), "test-secret", time.Hour)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	if err := p.Register(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Register(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate Register = %v, want ErrUserExists", err)
	}

	id, err := p.Authenticate(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Subject != "alice" || id.Admin {
		t.Errorf("identity = %+v, want non-admin alice", id)
	}

	if _, err := p.Authenticate(ctx, "alice", "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
	if _, err := p.Authenticate(ctx, "nobody", "s3cret"); err == nil {
		t.Error("unknown user accepted")
	}
}

func TestUnregisterFreesName(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	if err := p.Register(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Unregister(ctx, "alice"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := p.Authenticate(ctx, "alice", "s3cret"); err == nil {
		t.Error("removed account still authenticates")
	}
	if err := p.Register(ctx, "alice", "again"); err != nil {
		t.Errorf("re-register after Unregister: %v", err)
	}

	// Removing an absent account is not an error.
	if err := p.Unregister(ctx, "nobody"); err != nil {
		t.Errorf("Unregister of absent user: %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	p := newTestProvider()

	token, err := p.IssueToken(vfs.Identity{Subject: "alice", Admin: true})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	id, err := p.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.Subject != "alice" || !id.Admin {
		t.Errorf("identity = %+v, want admin alice", id)
	}
}

func TestVerifyTokenRejectsForgedSignature(t *testing.T) {
	p := newTestProvider()
	other := New(NewMemoryStore(), "other-secret", time.Hour)

	token, err := other.IssueToken(vfs.Identity{Subject: "mallory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.VerifyToken(token); err == nil {
		t.Error("token signed with another secret accepted")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	p := New(NewMemoryStore(), "test-secret", time.Hour)

	claims := &Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    "coffre",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.VerifyToken(signed); err == nil {
		t.Error("expired token accepted")
	}
}

func TestMiddleware(t *testing.T) {
	p := newTestProvider()

	var gotIdentity vfs.Identity
	var called bool
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotIdentity, _ = GetIdentity(r.Context())
	}))

	// Missing token: 401, handler not reached.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/list/alice/assets", nil))
	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("missing token: status=%d called=%v, want 401 and not called", rec.Code, called)
	}

	// Garbage token: 403.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/list/alice/assets", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || called {
		t.Fatalf("bad token: status=%d called=%v, want 403 and not called", rec.Code, called)
	}

	// Valid token: identity lands in context.
	token, err := p.IssueToken(vfs.Identity{Subject: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/list/alice/assets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if !called {
		t.Fatal("handler not called with valid token")
	}
	if gotIdentity.Subject != "alice" {
		t.Errorf("identity = %+v, want alice", gotIdentity)
	}
}

func TestEnsureDefaultAdmin(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	if err := p.EnsureDefaultAdmin(ctx); err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	id, err := p.Authenticate(ctx, "admin", "admin")
	if err != nil {
		t.Fatalf("default admin login: %v", err)
	}
	if !id.Admin {
		t.Error("default admin is not an admin")
	}

	// A populated store is left alone.
	if err := p.EnsureDefaultAdmin(ctx); err != nil {
		t.Fatalf("second EnsureDefaultAdmin: %v", err)
	}
	n, _ := p.store.(*MemoryStore).Count(ctx)
	if n != 1 {
		t.Errorf("user count = %d, want 1", n)
	}
}
