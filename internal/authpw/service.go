// Package authpw provides email/password authentication for member and
// admin accounts.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"skillswap/api/internal/auth"
	"skillswap/api/internal/store"
	"skillswap/api/internal/util"
)

var (
	// ErrInvalidCredentials covers unknown emails and bad passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountDisabled is returned for banned members and deactivated admins.
	ErrAccountDisabled = errors.New("account disabled")
)

// UserStore defines the storage interface for member auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error)
}

// AdminStore defines the storage interface for admin console auth
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (store.Admin, error)
	TouchAdminLogin(ctx context.Context, adminID string) error
}

// Service provides email/password authentication
type Service struct {
	users    UserStore
	admins   AdminStore
	resetTTL time.Duration
}

// NewService creates a new auth service
func NewService(users UserStore, admins AdminStore, resetTTL time.Duration) *Service {
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &Service{users: users, admins: admins, resetTTL: resetTTL}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Name         string
	Email        string
	Password     string
	Location     string
	Availability string
}

// SignUp creates a new member account. The account is usable immediately.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return store.User{}, errors.New("name, email, and password are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.users.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	availability := strings.TrimSpace(req.Availability)
	if availability == "" {
		availability = "weekends"
	}
	user := store.User{
		ID:           util.NewID("usr"),
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hash),
		Location:     strings.TrimSpace(req.Location),
		Availability: availability,
		IsPublic:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a member account.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if user.IsBanned {
		return store.User{}, ErrAccountDisabled
	}
	return user, nil
}

// AdminSignIn authenticates an admin console account and records the login.
func (s *Service) AdminSignIn(ctx context.Context, email, password string) (store.Admin, error) {
	if email == "" || password == "" {
		return store.Admin{}, ErrInvalidCredentials
	}

	admin, err := s.admins.GetAdminByEmail(ctx, email)
	if err != nil {
		return store.Admin{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return store.Admin{}, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return store.Admin{}, ErrAccountDisabled
	}

	if err := s.admins.TouchAdminLogin(ctx, admin.ID); err != nil {
		return store.Admin{}, fmt.Errorf("record admin login: %w", err)
	}
	return admin, nil
}

// RequestPasswordReset creates a reset token for the account behind email.
// The empty return for unknown emails keeps account existence private.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token := util.NewToken()
	expiresAt := time.Now().Add(s.resetTTL)
	if err := s.users.CreatePasswordReset(ctx, auth.HashToken(token), user.ID, expiresAt); err != nil {
		return "", fmt.Errorf("create password reset: %w", err)
	}
	return token, nil
}

// ResetPassword sets a new password using a reset token. Tokens are
// single-use; consuming one marks it used atomically.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return errors.New("token and new password are required")
	}
	if len(newPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	userID, err := s.users.ConsumePasswordReset(ctx, auth.HashToken(token))
	if err != nil {
		return errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
