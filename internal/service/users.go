package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/fanout"
	"stockroom/backend/internal/store"
)

// AdminUsername is the bootstrap account. Its role never changes.
const AdminUsername = "admin"

const (
	AnnouncePromoted = "manager-promoted"
	AnnounceDemoted  = "manager-demoted"
)

type announcer interface {
	Announce(kind string, username string, message string)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users, _, err := store.LoadList[domain.UserAccount](ctx, s.records, store.Users)
	return users, err
}

// CreateUser stores an account whose password is already hashed.
func (s *Service) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = normalizeUsername(user.Username)
	if user.Username == "" {
		return validation("username is required")
	}
	if user.Role == "" {
		user.Role = domain.RoleSales
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, rev, err := store.LoadList[domain.UserAccount](ctx, s.records, store.Users)
	if err != nil {
		return err
	}
	if findUser(users, user.Username) >= 0 {
		return fmt.Errorf("%w: user %q", ErrDuplicate, user.Username)
	}
	_, err = store.SaveList(ctx, s.records, store.Users, append(users, user), rev)
	return err
}

func (s *Service) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, rev, err := store.LoadList[domain.UserAccount](ctx, s.records, store.Users)
	if err != nil {
		return err
	}
	i := findUser(users, username)
	if i < 0 {
		return notFound("user %q", username)
	}
	users[i].Password = password
	_, err = store.SaveList(ctx, s.records, store.Users, users, rev)
	return err
}

// EnsureAdminUser creates the admin account when it does not exist yet.
func (s *Service) EnsureAdminUser(ctx context.Context, passwordHash string) (bool, error) {
	err := s.CreateUser(ctx, domain.UserAccount{
		Username: AdminUsername,
		Password: passwordHash,
		Role:     domain.RoleManager,
		Active:   true,
	})
	switch {
	case err == nil:
		s.log.Infow("created admin account", "username", AdminUsername)
		return true, nil
	case isDuplicate(err):
		return false, nil
	default:
		return false, err
	}
}

// ListUserViews lists accounts without their password hashes.
func (s *Service) ListUserViews(ctx context.Context) ([]domain.User, error) {
	accounts, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(accounts))
	for _, a := range accounts {
		if a.IsOpaque() {
			continue
		}
		out = append(out, userView(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// ChangeRole promotes a sales associate to manager or demotes a manager to
// sales, then announces it to every connected client.
func (s *Service) ChangeRole(ctx context.Context, username string, role string) (domain.User, error) {
	if role != domain.RoleManager && role != domain.RoleSales {
		return domain.User{}, validation("role must be %q or %q", domain.RoleManager, domain.RoleSales)
	}
	username = normalizeUsername(username)

	s.mu.Lock()
	users, rev, err := store.LoadList[domain.UserAccount](ctx, s.records, store.Users)
	if err != nil {
		s.mu.Unlock()
		return domain.User{}, err
	}
	i := findUser(users, username)
	if i < 0 {
		s.mu.Unlock()
		return domain.User{}, notFound("user %q", username)
	}
	if users[i].Username == AdminUsername {
		s.mu.Unlock()
		return domain.User{}, fmt.Errorf("%w: the admin account role cannot change", ErrForbidden)
	}

	user := users[i]
	var kind, message string
	switch {
	case role == domain.RoleManager && user.Role == domain.RoleSales:
		now := s.now().UTC()
		user.PromotionDate = &now
		kind = AnnouncePromoted
		message = fmt.Sprintf("%s has been promoted to Manager!", user.Username)
	case role == domain.RoleSales && user.Role == domain.RoleManager:
		user.PromotionDate = nil
		kind = AnnounceDemoted
		message = fmt.Sprintf("%s has been demoted to Sales Associate.", user.Username)
	default:
		s.mu.Unlock()
		return domain.User{}, fmt.Errorf("%w: cannot change %s from %q to %q", ErrForbidden, user.Username, user.Role, role)
	}
	user.Role = role
	users[i] = user
	_, err = store.SaveList(ctx, s.records, store.Users, users, rev)
	s.mu.Unlock()
	if err != nil {
		return domain.User{}, err
	}

	s.announce(kind, user.Username, message)
	s.log.Infow("role changed", "username", user.Username, "role", role)
	return userView(user), nil
}

func (s *Service) announce(kind string, username string, message string) {
	if a, ok := s.hub.(announcer); ok {
		a.Announce(kind, username, message)
		return
	}
	s.hub.Broadcast(fanout.Event{Type: fanout.EventSystemAnnouncement, Data: map[string]any{
		"event":     kind,
		"username":  username,
		"message":   message,
		"timestamp": s.timestamp(),
	}})
}

func findUser(users []domain.UserAccount, username string) int {
	want := normalizeUsername(username)
	for i, u := range users {
		if normalizeUsername(u.Username) == want {
			return i
		}
	}
	return -1
}

func userView(a domain.UserAccount) domain.User {
	return domain.User{
		Username:      a.Username,
		Role:          a.Role,
		Active:        a.Active,
		CreatedAt:     a.CreatedAt,
		PromotionDate: a.PromotionDate,
	}
}
