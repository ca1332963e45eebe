package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/repository"
	"bookreview/bookreview-service/internal/app/bookreview/util"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"
)

// AuthService обрабатывает регистрацию, вход и проверку токенов
type AuthService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.TokenRepository
	jwtManager *util.JWTManager
	validator  *Validator
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	jwtManager *util.JWTManager,
	validator *Validator,
) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		jwtManager: jwtManager,
		validator:  validator,
	}
}

// Register регистрирует пользователя и сразу выдает токен.
// Повтор email отсекает уникальный индекс, а не предварительная проверка.
func (s *AuthService) Register(ctx context.Context, req *entity.RegisterRequest) (*entity.AuthResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	passwordHash, err := util.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &entity.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: passwordHash,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	metrics.AuthRegistrations.Inc()
	logger.Info().
		Str("user_id", user.ID.Hex()).
		Str("email", user.Email).
		Msg("User registered")

	return s.authResult(user)
}

// Login проверяет пароль; неизвестный email и неверный пароль неразличимы для клиента
func (s *AuthService) Login(ctx context.Context, req *entity.LoginRequest) (*entity.AuthResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			metrics.AuthLogins.WithLabelValues("failed").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !util.CheckPassword(req.Password, user.PasswordHash) {
		metrics.AuthLogins.WithLabelValues("failed").Inc()
		return nil, ErrInvalidCredentials
	}

	metrics.AuthLogins.WithLabelValues("success").Inc()
	return s.authResult(user)
}

// GetCurrentUser получает информацию о текущем пользователе
func (s *AuthService) GetCurrentUser(ctx context.Context, userID string) (*entity.UserInfo, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, repository.ErrInvalidID) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	info := userInfo(user)
	return &info, nil
}

// Logout добавляет токен в черный список до истечения его срока
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		// Невалидный токен и так не пройдет проверку
		return nil
	}

	if err := s.tokenRepo.AddToBlacklist(ctx, token, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	return nil
}

// ValidateToken возвращает id пользователя из действующего токена
func (s *AuthService) ValidateToken(ctx context.Context, token string) (string, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return "", ErrUnauthorized
	}

	blacklisted, err := s.tokenRepo.IsBlacklisted(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to check token blacklist: %w", err)
	}
	if blacklisted {
		return "", ErrUnauthorized
	}

	return claims.UserID, nil
}

func (s *AuthService) authResult(user *entity.User) (*entity.AuthResult, error) {
	token, err := s.jwtManager.GenerateToken(user.ID.Hex(), user.Email, user.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &entity.AuthResult{Token: token, User: userInfo(user)}, nil
}

func userInfo(user *entity.User) entity.UserInfo {
	return entity.UserInfo{
		ID:    user.ID.Hex(),
		Name:  user.Name,
		Email: user.Email,
	}
}
