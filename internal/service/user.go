package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/college-resources/internal/apperror"
	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/repository"
)

// UserService is the admin side of account management.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// ListStudents returns every non-admin account, newest first.
func (s *UserService) ListStudents(ctx context.Context) ([]model.User, error) {
	users, err := s.users.ListNonAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return nonNil(users), nil
}

// ChangeRole promotes or demotes a user.
func (s *UserService) ChangeRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, apperror.ValidationFailed("role", "role must be student or admin")
	}
	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		return nil, fmt.Errorf("changing role: %w", err)
	}

	s.logger.Info("user role changed", slog.String("user_id", id), slog.String("role", string(role)))
	return s.reload(ctx, id)
}

// ChangeStatus activates or deactivates a user. Admin accounts can't be
// deactivated this way; demote them first.
func (s *UserService) ChangeStatus(ctx context.Context, id string, status model.Status) (*model.User, error) {
	if !status.Valid() {
		return nil, apperror.ValidationFailed("status", "status must be active or inactive")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("changing status: %w", err)
	}
	if user.IsAdmin() {
		return nil, apperror.Forbidden("cannot change status of an admin")
	}

	if err := s.users.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("changing status: %w", err)
	}

	s.logger.Info("user status changed", slog.String("user_id", id), slog.String("status", string(status)))
	return s.reload(ctx, id)
}

func (s *UserService) reload(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reloading user %s: %w", id, err)
	}
	return user, nil
}

// PromoteAdmins grants admin to each listed account that exists and isn't
// an admin yet. It runs at startup so the first admin can be bootstrapped
// from config: register as a student, list the email, restart. Unknown
// emails are logged and skipped.
func (s *UserService) PromoteAdmins(ctx context.Context, emails []string) error {
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}

		user, err := s.users.GetByEmail(ctx, email)
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("configured admin has no account yet", slog.String("email", email))
			continue
		}
		if err != nil {
			return fmt.Errorf("promoting %s: %w", email, err)
		}
		if user.IsAdmin() {
			continue
		}

		if err := s.users.UpdateRole(ctx, user.ID, model.RoleAdmin); err != nil {
			return fmt.Errorf("promoting %s: %w", email, err)
		}
		s.logger.Info("user promoted from config", slog.String("user_id", user.ID))
	}
	return nil
}
