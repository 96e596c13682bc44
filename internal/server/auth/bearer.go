package auth

import "strings"

const bearerScheme = "bearer"

// BearerToken извлекает токен из значения заголовка Authorization.
// Схема сравнивается без учета регистра (RFC 7235).
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	return token, true
}
