package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// UsernamePattern определяет допустимый формат username
// Только латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_)
// Длина: 3-32 символа
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

const (
	// MinUsernameLen минимальная длина username
	MinUsernameLen = 3
	// MaxUsernameLen максимальная длина username
	MaxUsernameLen = 32
	// MaxPasswordBytes максимальная длина пароля, которую принимает bcrypt
	MaxPasswordBytes = 72
)

// Credentials пара username/password из запросов регистрации и логина
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=32,username"`
	Password string `json:"password" validate:"required"`
}

var (
	validate = newValidator()

	usernameRule = fmt.Sprintf("required,min=%d,max=%d,username", MinUsernameLen, MaxUsernameLen)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// В сообщениях используем json имена полей
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return UsernamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("validation: register username rule: %v", err))
	}

	return v
}

// ValidateUsername проверяет, что username соответствует требованиям
// Формат: только латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_)
// Длина: 3-32 символа
func ValidateUsername(username string) error {
	err := validate.Var(username, usernameRule)
	return describe("username", err)
}

// ValidatePassword проверяет пароль: не пустой и не длиннее лимита bcrypt
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("password must not exceed %d bytes", MaxPasswordBytes)
	}

	return nil
}

// ValidateCredentials проверяет пару username/password целиком
func ValidateCredentials(c Credentials) error {
	if err := describe("", validate.Struct(c)); err != nil {
		return err
	}
	return ValidatePassword(c.Password)
}

// describe превращает ошибки validator в короткое сообщение для клиента
func describe(field string, err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	name := fe.Field()
	if name == "" {
		name = field
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s cannot be empty", name)
	case "min":
		return fmt.Errorf("%s must be at least %s characters long", name, fe.Param())
	case "max":
		return fmt.Errorf("%s must not exceed %s characters", name, fe.Param())
	case "username":
		return fmt.Errorf("%s can only contain letters (a-z, A-Z), numbers (0-9), and underscores (_)", name)
	default:
		return fmt.Errorf("%s is invalid", name)
	}
}
