package adminhttp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/venturedeck/venturedeck/internal/platform/httpx"
	"github.com/venturedeck/venturedeck/internal/rbac"
)

type roleRequest struct {
	Role string `json:"role" validate:"required,catalog_role"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended banned"`
	Reason string `json:"reason" validate:"omitempty,min=10,max=500"`
}

type sessionResponse struct {
	Authenticated  bool   `json:"authenticated"`
	IsAdmin        bool   `json:"isAdmin"`
	Impersonating  bool   `json:"impersonating"`
	User           any    `json:"user"`
	ImpersonatedBy string `json:"impersonatedBy,omitempty"`
}

type userRolesResponse struct {
	UserID      string            `json:"userId"`
	Roles       []string          `json:"roles"`
	Assignments []rbac.UserRole   `json:"assignments"`
	Permissions []rbac.Permission `json:"permissions"`
}

type machineAuditResponse struct {
	OK     bool `json:"ok"`
	Report any  `json:"report"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("catalog_role", func(fl validator.FieldLevel) bool {
		return rbac.IsKnownRole(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// validationError flattens validator output into an httpx validation error.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, strings.ToLower(fe.Field())+" is required")
		case "catalog_role":
			msgs = append(msgs, "unknown role")
		case "oneof":
			msgs = append(msgs, strings.ToLower(fe.Field())+" must be one of "+fe.Param())
		default:
			msgs = append(msgs, strings.ToLower(fe.Field())+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(msgs, "; "))
}
