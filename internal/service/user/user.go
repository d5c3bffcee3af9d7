// Package user handles account registration and token issuance.
package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"neurovision/internal/auth"
	"neurovision/internal/dto"
	"neurovision/internal/logger"
	"neurovision/internal/model"
	"neurovision/internal/repository"
)

const minPasswordLength = 8

var ErrInvalidRegistration = errors.New("invalid registration data")

type Service struct {
	users  repository.UserRepository
	jwt    *auth.JWTManager
	logger *logger.Logger
}

func NewService(users repository.UserRepository, jwt *auth.JWTManager, logger *logger.Logger) *Service {
	return &Service{users: users, jwt: jwt, logger: logger}
}

// Register creates an account. It returns repository.ErrEmailTaken for a
// duplicate email.
func (s *Service) Register(ctx context.Context, req dto.RegisterRequest) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidRegistration)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &model.User{Email: email, PasswordHash: hash, FullName: strings.TrimSpace(req.FullName)}
	if _, err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("Registered user %d", u.ID)
	return u, nil
}

// Login checks the credentials and issues an access and a refresh token.
func (s *Service) Login(ctx context.Context, req dto.LoginRequest) (*dto.TokenPair, error) {
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, auth.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		s.logger.Warning("Failed login for user %d", u.ID)
		return nil, err
	}

	return s.issue(u, true)
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*dto.TokenPair, error) {
	claims, err := s.jwt.ValidateToken(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, auth.ErrInvalidToken
	}

	return s.issue(u, false)
}

func (s *Service) issue(u *model.User, withRefresh bool) (*dto.TokenPair, error) {
	access, _, err := s.jwt.GenerateToken(u.ID, u.Email, auth.TokenAccess)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	pair := &dto.TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwt.AccessExpiry().Seconds()),
	}

	if withRefresh {
		refresh, _, err := s.jwt.GenerateToken(u.ID, u.Email, auth.TokenRefresh)
		if err != nil {
			return nil, fmt.Errorf("failed to sign refresh token: %w", err)
		}
		pair.RefreshToken = refresh
	}

	return pair, nil
}
