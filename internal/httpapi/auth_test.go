package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	if _, ok := s.users[user.Username]; ok {
		return fmt.Errorf("user %q exists", user.Username)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleManager,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)
	if users.updates == 0 {
		t.Fatalf("expected legacy password to be upgraded")
	}
	if !isPasswordHash(users.users["admin"].Password) {
		t.Fatalf("expected stored password to be a bcrypt hash")
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login with upgraded password: %v", err)
	}
	if resp.Role != domain.RoleManager {
		t.Fatalf("expected manager role, got %q", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccounts(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.UserAccount{
		"ama": {Username: "ama", Password: "sales123", Role: domain.RoleSales, Active: false},
	}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ama", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ama", Password: "sales123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
	if _, ok := manager.CurrentRole("ama"); ok {
		t.Fatalf("inactive accounts have no current role")
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)

	user, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "  Kofi ",
		Password: "secret123",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Username != "kofi" || user.Role != domain.RoleSales {
		t.Fatalf("unexpected user %+v", user)
	}

	stored := users.users["kofi"]
	if stored.Password == "secret123" || !isPasswordHash(stored.Password) {
		t.Fatalf("expected hashed password, got %q", stored.Password)
	}
	if role, ok := manager.CurrentRole("kofi"); !ok || role != domain.RoleSales {
		t.Fatalf("expected cached sales role, got %q %v", role, ok)
	}
}

func TestCreateUserValidation(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, &userStoreStub{})
	cases := []domain.UserCreateRequest{
		{Username: "ab", Password: "secret123"},
		{Username: "with space", Password: "secret123"},
		{Username: "kofi", Password: "123"},
		{Username: "kofi", Password: "secret123", Role: "owner"},
	}
	for _, req := range cases {
		if _, err := manager.CreateUser(context.Background(), req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("CreateUser(%+v): expected ErrValidation, got %v", req, err)
		}
	}
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager(context.Background(), "test-secret", time.Minute, users)
	token, err := manager.sign("kofi", domain.RoleSales, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	other := NewAuthManager(context.Background(), "another-secret", time.Minute, users)
	if _, err := other.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := manager.ParseToken(token); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired token error, got %v", err)
	}
}
