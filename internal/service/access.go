package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

// Roles and users are administered under settings.edit.

func (s *Service) ListRoles(ctx context.Context) ([]domain.Role, error) {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit); err != nil {
		return nil, err
	}
	return s.repo.ListRoles(ctx)
}

func (s *Service) CreateRole(ctx context.Context, in domain.RoleInput) (*domain.Role, error) {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit); err != nil {
		return nil, err
	}
	name, perms, err := roleFromInput(in)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	created, err := s.repo.CreateRole(ctx, domain.Role{
		ID:          xid.New("role"),
		Name:        name,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "role_create", "role", created.ID, "name="+created.Name)
	return created, nil
}

// UpdateRole replaces the whole matrix. System roles keep their names, since
// the Super Admin bypass is keyed on the name.
func (s *Service) UpdateRole(ctx context.Context, id string, in domain.RoleInput) (*domain.Role, error) {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit); err != nil {
		return nil, err
	}
	name, perms, err := roleFromInput(in)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem && name != existing.Name {
		return nil, fmt.Errorf("%w: system roles cannot be renamed", store.ErrConflict)
	}
	existing.Name = name
	existing.Permissions = perms
	existing.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateRole(ctx, *existing)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "role_update", "role", saved.ID, "name="+saved.Name)
	return saved, nil
}

func (s *Service) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit); err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "role_delete", "role", id, "")
	return nil
}

func roleFromInput(in domain.RoleInput) (string, permission.Matrix, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: role name is required", store.ErrInvalidInput)
	}
	if err := in.Permissions.Validate(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	perms := in.Permissions.Clone()
	if perms == nil {
		perms = permission.Matrix{}
	}
	return name, perms, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (*domain.User, error) {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if name == "" || username == "" {
		return nil, fmt.Errorf("%w: name and username are required", store.ErrInvalidInput)
	}
	if strings.TrimSpace(req.RoleID) == "" {
		return nil, fmt.Errorf("%w: role is required", store.ErrInvalidInput)
	}
	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	created, err := s.repo.CreateUser(ctx, domain.User{
		ID:           xid.New("user"),
		Name:         name,
		Username:     username,
		PasswordHash: hash,
		RoleID:       strings.TrimSpace(req.RoleID),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "user_create", "user", created.ID, "username="+created.Username)
	return created, nil
}

// UpdateUser applies the fields that are present. Protected users and the
// caller themselves cannot be deactivated.
func (s *Service) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (*domain.User, error) {
	actor, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem {
		return nil, fmt.Errorf("%w: the system user cannot be changed", store.ErrConflict)
	}

	next := *existing
	next.PasswordHash = ""
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
		if next.Name == "" {
			return nil, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
		}
	}
	if req.RoleID != nil {
		next.RoleID = strings.TrimSpace(*req.RoleID)
		if existing.Protected && next.RoleID != existing.RoleID {
			return nil, fmt.Errorf("%w: the owner account keeps its role", store.ErrConflict)
		}
	}
	if req.Active != nil {
		next.Active = *req.Active
		if !next.Active && (existing.Protected || existing.ID == actor.UserID) {
			return nil, fmt.Errorf("%w: this account cannot be deactivated", store.ErrConflict)
		}
	}
	if req.Password != nil {
		if next.PasswordHash, err = s.hashPassword(*req.Password); err != nil {
			return nil, err
		}
	}
	next.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateUser(ctx, next)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "user_update", "user", saved.ID,
		fmt.Sprintf("role=%s,active=%t,password_changed=%t", saved.RoleID, saved.Active, req.Password != nil))
	return saved, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	actor, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit)
	if err != nil {
		return err
	}
	if id == actor.UserID {
		return fmt.Errorf("%w: you cannot delete your own account", store.ErrConflict)
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "user_delete", "user", id, "")
	return nil
}
