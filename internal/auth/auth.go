// Package auth provides user registration, login, and JWT middleware over a
// pluggable UserStore.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/coffre/coffre/internal/logging"
	"github.com/coffre/coffre/internal/metrics"
	"github.com/coffre/coffre/internal/protocol"
	"github.com/coffre/coffre/internal/vfs"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Claims holds JWT token claims. The canonical identity field is userId;
// nothing else identifies a caller.
type Claims struct {
	UserID  string `json:"userId"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Provider issues and verifies tokens and owns credential checks. It is the
// only component that touches passwords.
type Provider struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
}

// New creates a Provider over the given store.
func New(store UserStore, jwtSecret string, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Provider{
		store:  store,
		secret: []byte(jwtSecret),
		ttl:    ttl,
	}
}

// Register creates a new user account.
func (p *Provider) Register(ctx context.Context, userID, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := p.store.Insert(ctx, User{ID: userID, Password: string(hashed)}); err != nil {
		return err
	}
	logging.Info("user registered", zap.String("user_id", userID))
	return nil
}

// Unregister removes an account. Used to roll back a registration whose
// namespace provisioning failed.
func (p *Provider) Unregister(ctx context.Context, userID string) error {
	return p.store.Delete(ctx, userID)
}

// Authenticate verifies credentials and returns the caller's identity.
func (p *Provider) Authenticate(ctx context.Context, userID, password string) (vfs.Identity, error) {
	u, err := p.store.Lookup(ctx, userID)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		return vfs.Identity{}, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: invalid password", zap.String("user_id", userID))
		return vfs.Identity{}, fmt.Errorf("invalid credentials")
	}
	metrics.RecordAuthAttempt(true)
	return vfs.Identity{Subject: u.ID, Admin: u.IsAdmin}, nil
}

// IssueToken signs a JWT for a verified identity.
func (p *Provider) IssueToken(id vfs.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  id.Subject,
		IsAdmin: id.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "coffre",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a bearer token.
func (p *Provider) VerifyToken(tokenStr string) (vfs.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return vfs.Identity{}, err
	}
	if !token.Valid || claims.UserID == "" {
		return vfs.Identity{}, fmt.Errorf("invalid token")
	}
	return vfs.Identity{Subject: claims.UserID, Admin: claims.IsAdmin}, nil
}

// EnsureDefaultAdmin creates a default admin account when the store is empty.
func (p *Provider) EnsureDefaultAdmin(ctx context.Context) error {
	n, err := p.store.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	logging.Warn("no users found, creating default admin (admin/admin)")
	logging.Warn("** change the default password immediately! **")
	hashed, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return p.store.Insert(ctx, User{ID: "admin", Password: string(hashed), IsAdmin: true})
}

// Middleware returns HTTP middleware that validates bearer tokens and
// stores the verified identity in the request context. A missing token is
// 401; a token that fails verification is 403.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		id, err := p.VerifyToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusForbidden, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// GetIdentity extracts the verified identity from the request context.
func GetIdentity(ctx context.Context) (vfs.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(vfs.Identity)
	return id, ok
}

// WithIdentity injects an identity into a context.
func WithIdentity(ctx context.Context, id vfs.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
