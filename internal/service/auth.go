package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

const (
	minPasswordLength = 8
	// bcrypt only reads the first 72 bytes.
	maxPasswordLength = 72
)

var errInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)

// Authenticate checks a username and password and returns the resolved actor.
// Every failure looks the same to the caller; the reason goes to the audit log.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.Actor, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Actor{}, errInvalidCredentials
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.burnPasswordCheck(password)
			s.logAudit(ctx, "login_failed", "user", "", "username="+username+",reason=unknown_user")
			return domain.Actor{}, errInvalidCredentials
		}
		return domain.Actor{}, err
	}
	if user.IsSystem || !user.Active {
		s.burnPasswordCheck(password)
		s.logAudit(ctx, "login_failed", "user", user.ID, "reason=inactive")
		return domain.Actor{}, errInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logAudit(ctx, "login_failed", "user", user.ID, "reason=bad_password")
		return domain.Actor{}, errInvalidCredentials
	}

	actor, err := s.actorFor(ctx, *user)
	if err != nil {
		return domain.Actor{}, err
	}
	s.logAudit(WithActor(ctx, actor), "login", "user", user.ID, "")
	return actor, nil
}

// ResolveActor loads the user and role behind a session. It runs on every
// authenticated request so role edits and deactivation apply immediately.
func (s *Service) ResolveActor(ctx context.Context, userID string) (domain.Actor, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, ErrUnauthenticated
		}
		return domain.Actor{}, err
	}
	if user.IsSystem || !user.Active {
		return domain.Actor{}, ErrUnauthenticated
	}
	return s.actorFor(ctx, *user)
}

func (s *Service) actorFor(ctx context.Context, user domain.User) (domain.Actor, error) {
	role, err := s.repo.GetRole(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, ErrUnauthenticated
		}
		return domain.Actor{}, err
	}
	return domain.Actor{
		UserID:      user.ID,
		Username:    user.Username,
		Name:        user.Name,
		RoleID:      role.ID,
		RoleName:    role.Name,
		Permissions: role.Permissions,
	}, nil
}

// Session describes the caller with the permissions in force right now.
func (s *Service) Session(ctx context.Context) (domain.SessionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.SessionResponse{}, ErrUnauthenticated
	}
	perms := actor.Permissions.Expand()
	if isSuperAdmin(actor) {
		perms = permission.Full()
	}
	return domain.SessionResponse{
		UserID:      actor.UserID,
		Name:        actor.Name,
		Username:    actor.Username,
		RoleName:    actor.RoleName,
		Permissions: perms,
	}, nil
}

// NeedsSetup reports whether first-run initialization is still open.
func (s *Service) NeedsSetup(ctx context.Context) (bool, error) {
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", store.ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return "", fmt.Errorf("%w: password must be at most %d bytes", store.ErrInvalidInput, maxPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// burnPasswordCheck spends the same bcrypt work as a real comparison so a
// failed login takes as long whether or not the account exists.
func (s *Service) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("cidpos-unknown-account"), s.bcryptCost)
		if err != nil {
			s.log.Warn("failed to prepare dummy password hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
	}
}
