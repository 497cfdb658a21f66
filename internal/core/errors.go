// AngelaMos | 2026
// errors.go

package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenRevoked  = errors.New("token revoked")
	ErrTokenInvalid  = errors.New("token invalid")
	ErrInternalError = errors.New("internal error")
	ErrRateLimited   = errors.New("rate limited")
)

// Authorization and tenancy failures. Each maps to its own response code so
// operators can tell billing problems from access-control problems.
var (
	ErrTenantInactive     = errors.New("tenant inactive")
	ErrActionDenied       = fmt.Errorf("action denied: %w", ErrForbidden)
	ErrModuleDenied       = fmt.Errorf("module denied: %w", ErrForbidden)
	ErrRoleHierarchy      = fmt.Errorf("role hierarchy violation: %w", ErrForbidden)
	ErrPlanLimitExceeded  = errors.New("plan limit exceeded")
	ErrDataAccess         = errors.New("data access failure")
	ErrTenantContextUnset = errors.New("tenant context not resolved")
)

const (
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeTenantInactive         = "TENANT_INACTIVE"
	CodeActionDenied           = "ACTION_DENIED"
	CodeModuleDenied           = "MODULE_DENIED"
	CodeRoleHierarchyViolation = "ROLE_HIERARCHY_VIOLATION"
	CodePlanLimitExceeded      = "PLAN_LIMIT_EXCEEDED"
	CodeDataAccessFailure      = "DATA_ACCESS_FAILURE"
	CodeTenantContextMissing   = "TENANT_CONTEXT_MISSING"
	CodeRateLimited            = "RATE_LIMITED"
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
	Code       string
	Details    map[string]any
	Timestamp  time.Time
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(err error, message string, status int, code string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: status,
		Code:       code,
		Timestamp:  time.Now().UTC(),
	}
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func UnauthorizedError(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return NewAppError(
		ErrUnauthorized,
		message,
		http.StatusUnauthorized,
		CodeAuthenticationRequired,
	)
}

func ForbiddenError(message string) *AppError {
	if message == "" {
		message = "insufficient permissions"
	}
	return NewAppError(ErrForbidden, message, http.StatusForbidden, "FORBIDDEN")
}

func NotFoundError(resource string) *AppError {
	return NewAppError(
		ErrNotFound,
		resource+" not found",
		http.StatusNotFound,
		"NOT_FOUND",
	)
}

func DuplicateError(field string) *AppError {
	return NewAppError(
		ErrDuplicateKey,
		field+" already exists",
		http.StatusConflict,
		"DUPLICATE",
	)
}

func BadRequestError(message string) *AppError {
	return NewAppError(
		ErrInvalidInput,
		message,
		http.StatusBadRequest,
		"BAD_REQUEST",
	)
}

func TokenExpiredError() *AppError {
	return NewAppError(
		ErrTokenExpired,
		"token has expired",
		http.StatusUnauthorized,
		"TOKEN_EXPIRED",
	)
}

func TokenRevokedError() *AppError {
	return NewAppError(
		ErrTokenRevoked,
		"token has been revoked",
		http.StatusUnauthorized,
		"TOKEN_REVOKED",
	)
}

func TokenInvalidError() *AppError {
	return NewAppError(
		ErrTokenInvalid,
		"invalid token",
		http.StatusUnauthorized,
		"TOKEN_INVALID",
	)
}

func TenantInactiveError() *AppError {
	return NewAppError(
		ErrTenantInactive,
		"company account is not active",
		http.StatusForbidden,
		CodeTenantInactive,
	)
}

func ActionDeniedError() *AppError {
	return NewAppError(
		ErrActionDenied,
		"insufficient permissions",
		http.StatusForbidden,
		CodeActionDenied,
	)
}

func ModuleDeniedError() *AppError {
	return NewAppError(
		ErrModuleDenied,
		"module not available",
		http.StatusForbidden,
		CodeModuleDenied,
	)
}

func RoleHierarchyError() *AppError {
	return NewAppError(
		ErrRoleHierarchy,
		"insufficient permissions",
		http.StatusForbidden,
		CodeRoleHierarchyViolation,
	)
}

func PlanLimitError(limit string, current, ceiling int64, plan string) *AppError {
	return NewAppError(
		ErrPlanLimitExceeded,
		"plan limit exceeded",
		http.StatusForbidden,
		CodePlanLimitExceeded,
	).WithDetails(map[string]any{
		"limit_name": limit,
		"current":    current,
		"limit":      ceiling,
		"plan":       plan,
	})
}

func DataAccessError() *AppError {
	return NewAppError(
		ErrDataAccess,
		"an internal error occurred",
		http.StatusInternalServerError,
		CodeDataAccessFailure,
	)
}

func TenantContextMissingError() *AppError {
	return NewAppError(
		ErrTenantContextUnset,
		"an internal error occurred",
		http.StatusInternalServerError,
		CodeTenantContextMissing,
	)
}

// FromError maps err onto its public AppError form. Errors that know their
// own AppError form are asked for it; unknown errors become a generic
// internal error.
func FromError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	var convertible interface{ AppError() *AppError }
	if errors.As(err, &convertible) {
		return convertible.AppError()
	}

	switch {
	case errors.Is(err, ErrTenantInactive):
		return TenantInactiveError()
	case errors.Is(err, ErrActionDenied):
		return ActionDeniedError()
	case errors.Is(err, ErrModuleDenied):
		return ModuleDeniedError()
	case errors.Is(err, ErrRoleHierarchy):
		return RoleHierarchyError()
	case errors.Is(err, ErrPlanLimitExceeded):
		return NewAppError(
			ErrPlanLimitExceeded,
			"plan limit exceeded",
			http.StatusForbidden,
			CodePlanLimitExceeded,
		)
	case errors.Is(err, ErrDataAccess):
		return DataAccessError()
	case errors.Is(err, ErrTenantContextUnset):
		return TenantContextMissingError()
	case errors.Is(err, ErrUnauthorized):
		return UnauthorizedError("")
	case errors.Is(err, ErrForbidden):
		return ForbiddenError("")
	case errors.Is(err, ErrNotFound):
		return NotFoundError("resource")
	case errors.Is(err, ErrDuplicateKey):
		return DuplicateError("resource")
	case errors.Is(err, ErrInvalidInput):
		return BadRequestError("invalid input")
	default:
		return NewAppError(
			ErrInternalError,
			"an internal error occurred",
			http.StatusInternalServerError,
			"INTERNAL_ERROR",
		)
	}
}
