package jwt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL время жизни токена по умолчанию
const DefaultTTL = 10 * time.Hour

// DefaultIssuer значение claim iss по умолчанию
const DefaultIssuer = "gophchat"

var (
	// ErrTokenExpired срок действия токена истек
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid подпись, формат или claims токена неверны
	ErrTokenInvalid = errors.New("token invalid")
)

// Config настройки сервиса токенов
type Config struct {
	Now    func() time.Time
	Issuer string
	Secret []byte
	TTL    time.Duration
}

// Claims проверенные данные токена
type Claims struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Subject   string
	ID        string
}

// Service выпускает и проверяет HS256 токены.
// После создания только читается, безопасен для конкурентного использования.
type Service struct {
	now    func() time.Time
	parser *jwtlib.Parser
	issuer string
	secret []byte
	ttl    time.Duration
}

// NewService создает сервис токенов
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("jwt ttl must be positive, got %s", cfg.TTL)
	}

	s := &Service{
		now:    cfg.Now,
		issuer: cfg.Issuer,
		secret: cfg.Secret,
		ttl:    cfg.TTL,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.ttl == 0 {
		s.ttl = DefaultTTL
	}

	s.parser = jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(s.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithTimeFunc(s.now),
	)

	return s, nil
}

// TTL возвращает время жизни выпускаемых токенов
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue выпускает токен для subject
func (s *Service) Issue(subject string) (string, *Claims, error) {
	if subject == "" {
		return "", nil, fmt.Errorf("subject cannot be empty")
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	registered := jwtlib.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		ID:        uuid.New().String(),
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(expiresAt),
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, registered)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, claimsFrom(&registered), nil
}

// Verify проверяет подпись, затем срок действия.
// Токен недействителен начиная с момента exp включительно.
func (s *Service) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	registered := &jwtlib.RegisteredClaims{}
	parsed, err := s.parser.ParseWithClaims(token, registered, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if !parsed.Valid || registered.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claimsFrom(registered), nil
}

// GenerateSecret создает случайный 32-байтный ключ подписи
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	return secret, nil
}

func claimsFrom(rc *jwtlib.RegisteredClaims) *Claims {
	c := &Claims{
		Subject: rc.Subject,
		ID:      rc.ID,
	}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c
}
