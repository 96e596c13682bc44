package crypto

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher хеширует и проверяет пароли пользователей.
// Открытый пароль нельзя логировать и сохранять.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// BcryptHasher реализация PasswordHasher на bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher создает hasher с заданной стоимостью.
// Значения вне диапазона bcrypt приводятся к ближайшей границе, 0 означает DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost возвращает используемую стоимость bcrypt
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash возвращает bcrypt хеш пароля (со случайной солью)
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(b), nil
}

// Verify сравнивает пароль с хешем за константное время.
// Поврежденный хеш считается несовпадением.
func (h *BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
