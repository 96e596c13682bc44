package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophchat/internal/crypto"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/jwt"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/internal/validation"
)

var (
	// ErrInvalidCredentials неверная пара username/password (без уточнения причины)
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken username уже зарегистрирован
	ErrUsernameTaken = errors.New("username is already taken")
	// ErrUnauthenticated токен отсутствует, недействителен или аккаунт удален
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidInput данные регистрации не прошли валидацию
	ErrInvalidInput = errors.New("invalid input")
)

// TokenCodec выпускает и проверяет токены
type TokenCodec interface {
	Issue(subject string) (string, *jwt.Claims, error)
	Verify(token string) (*jwt.Claims, error)
	TTL() time.Duration
}

// LoginResult результат успешного входа
type LoginResult struct {
	Identity  *Identity
	Token     string
	ExpiresIn int64 // секунды
}

// Service регистрация, вход и разрешение identity по bearer токену
type Service struct {
	logger *slog.Logger
	users  storage.UserStorage
	hasher crypto.PasswordHasher
	tokens TokenCodec
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService создает сервис аутентификации
func NewService(logger *slog.Logger, users storage.UserStorage, hasher crypto.PasswordHasher, tokens TokenCodec) *Service {
	return &Service{
		logger: logger,
		users:  users,
		hasher: hasher,
		tokens: tokens,
		now:    time.Now,
	}
}

// Register создает пользователя с хешированным паролем
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	creds := validation.Credentials{Username: username, Password: password}
	if err := validation.ValidateCredentials(creds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	_, err := s.users.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, ErrUsernameTaken
	case !errors.Is(err, storage.ErrUserNotFound):
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	// Уникальность гарантирует хранилище: проверка выше не защищает от гонки
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("username", username),
		slog.String("user_id", user.ID))

	return user, nil
}

// Login проверяет пароль и выпускает токен.
// Любая ошибка поиска или несовпадение пароля дают ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			s.logger.ErrorContext(ctx, "login: user lookup failed", slog.Any("error", err))
		}
		// Выравниваем время ответа с веткой проверки пароля
		s.hasher.Verify(password, s.dummy())
		s.logger.WarnContext(ctx, "login failed", slog.String("username", username))
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.WarnContext(ctx, "login failed", slog.String("username", username))
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.tokens.Issue(user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.WarnContext(ctx, "failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("username", user.Username))

	return &LoginResult{
		Token:     token,
		ExpiresIn: int64(s.tokens.TTL().Seconds()),
		Identity: &Identity{
			Subject:   claims.Subject,
			UserID:    user.ID,
			IssuedAt:  claims.IssuedAt,
			ExpiresAt: claims.ExpiresAt,
		},
	}, nil
}

// Authenticate разрешает identity из значения заголовка Authorization.
// Общая точка для HTTP запросов и STOMP CONNECT; любая ошибка оборачивает ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	// Аккаунт должен существовать на момент запроса
	user, err := s.users.GetUserByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	return &Identity{
		Subject:   user.Username,
		UserID:    user.ID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.New().String())
		if err != nil {
			s.logger.Error("failed to prepare dummy hash", slog.Any("error", err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
