package api

import "time"

// RegisterRequest представляет запрос на регистрацию нового пользователя
type RegisterRequest struct {
	Username string `json:"username"` // username пользователя
	Password string `json:"password"` // пароль в открытом виде (только по TLS)
}

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse представляет ответ с токеном доступа
type TokenResponse struct {
	Token     string `json:"token"`      // JWT bearer token
	ExpiresIn int64  `json:"expires_in"` // время жизни токена в секундах
}

// MessageResponse представляет ответ с текстовым сообщением
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// UserResponse публичные данные пользователя
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MeResponse данные текущего аутентифицированного пользователя
type MeResponse struct {
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	UserID    string    `json:"user_id"`
}

// Тексты ответов регистрации, на которые опирается веб-клиент
const (
	RegisterSuccessMessage = "User registered successfully!"
	UsernameTakenMessage   = "Error: Username is already taken!"
)
