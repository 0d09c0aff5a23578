package handler

import (
	"github.com/go-playground/validator/v10"

	"github.com/99minutos/storefront-gateway/internal/core/service"
)

// echoValidator wraps go-playground/validator so Echo can call c.Validate(req).
type echoValidator struct {
	v *validator.Validate
}

// NewValidator returns an echoValidator ready to be assigned to echo.Echo.Validator.
func NewValidator() *echoValidator {
	return &echoValidator{v: service.NewValidator()}
}

// Validate satisfies the echo.Validator interface. Failures are returned as
// *domain.ValidationError so the error handler can render per-field messages.
func (ev *echoValidator) Validate(i any) error {
	return service.ToValidationError(ev.v.Struct(i))
}
