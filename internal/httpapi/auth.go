package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
)

const tokenIssuer = "stockroom"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	errAccountDisabled    = errors.New("account is disabled")
	errTokenExpired       = errors.New("access token expired")
	errTokenRejected      = errors.New("access token rejected")
)

// UserStore is the slice of the service the auth layer reads and writes.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues HS256 access tokens and keeps an in-memory view of every
// account so role checks never wait on storage.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts UserStore
	now      func() time.Time

	mu         sync.RWMutex
	principals map[string]principal
}

type principal struct {
	hash   string
	role   string
	active bool
}

type accessClaims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, accounts UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		accounts:   accounts,
		now:        time.Now,
		principals: map[string]principal{},
	}
	a.Refresh(ctx)
	return a
}

func canonicalUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (a *AuthManager) lookup(username string) (principal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.principals[username]
	return p, ok
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.Refresh(ctx)

	username := canonicalUsername(req.Username)
	p, ok := a.lookup(username)
	if !ok || !passwordMatches(p.hash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !p.active {
		return domain.LoginResponse{}, errAccountDisabled
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	signed, err := a.sign(username, p.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.LoginResponse{AccessToken: signed, Role: p.role, ExpiresAt: expiresAt.Format(time.RFC3339)}, nil
}

// ParseToken verifies signature, issuer and expiry and returns the actor the
// token was issued to. The role inside the token is advisory; see CurrentRole.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims accessClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims,
		func(*jwtlib.Token) (any, error) { return a.secret, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(a.now),
	)
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return domain.Actor{}, errTokenExpired
	case err != nil:
		return domain.Actor{}, errTokenRejected
	case claims.Subject == "":
		return domain.Actor{}, errTokenRejected
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

// CurrentRole reports the cached role for username. Role changes take effect
// on the next request without waiting for the token to expire.
func (a *AuthManager) CurrentRole(username string) (string, bool) {
	p, ok := a.lookup(username)
	if !ok || !p.active {
		return "", false
	}
	return p.role, true
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := accessClaims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

func validateNewUser(req domain.UserCreateRequest) (username string, role string, err error) {
	username = canonicalUsername(req.Username)
	role = req.Role
	if role == "" {
		role = domain.RoleSales
	}
	switch {
	case len(username) < 3:
		err = errors.New("username must be at least 3 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		err = errors.New("username must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < 6:
		err = errors.New("password must be at least 6 characters")
	case role != domain.RoleSales && role != domain.RoleManager:
		err = fmt.Errorf("unknown role %q", role)
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return username, role, nil
}

// CreateUser stores a new active account with a bcrypt hash. Duplicates
// surface the store's error unchanged.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	username, role, err := validateNewUser(req)
	if err != nil {
		return domain.User{}, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	account := domain.UserAccount{Username: username, Password: hash, Role: role, Active: true, CreatedAt: a.now().UTC()}
	if err := a.accounts.CreateUser(ctx, account); err != nil {
		return domain.User{}, err
	}

	a.mu.Lock()
	a.principals[username] = principal{hash: hash, role: role, active: true}
	a.mu.Unlock()

	return domain.User{Username: username, Role: role, Active: true, CreatedAt: account.CreatedAt}, nil
}

// Refresh reloads every account. Passwords still stored in plain text are
// rehashed and written back.
func (a *AuthManager) Refresh(ctx context.Context) {
	if a.accounts == nil {
		return
	}
	list, err := a.accounts.ListUsers(ctx)
	if err != nil || len(list) == 0 {
		return
	}

	loaded := make(map[string]principal, len(list))
	for _, account := range list {
		username := canonicalUsername(account.Username)
		if username == "" {
			continue
		}
		hash := account.Password
		if !isPasswordHash(hash) {
			upgraded, err := HashPassword(hash)
			if err != nil {
				continue
			}
			hash = upgraded
			_ = a.accounts.UpdateUserPassword(ctx, username, upgraded)
		}
		loaded[username] = principal{hash: hash, role: account.Role, active: account.Active}
	}

	a.mu.Lock()
	for username, p := range loaded {
		a.principals[username] = p
	}
	a.mu.Unlock()
}

func passwordMatches(hash string, input string) bool {
	if !isPasswordHash(hash) || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isPasswordHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
