package dto

import (
	"net/http"

	"github.com/stallmarket/backend/internal/domain/shared"
)

// Transport-level error codes. Domain errors keep their own codes.
const (
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeTokenExpired    = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid    = "INVALID_TOKEN"
	ErrCodeTokenRevoked    = "TOKEN_REVOKED"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// kindStatus maps domain error kinds to HTTP status codes
var kindStatus = map[shared.ErrorKind]int{
	shared.KindValidation:       http.StatusBadRequest,
	shared.KindAuthorization:    http.StatusForbidden,
	shared.KindNotFound:         http.StatusNotFound,
	shared.KindStateConflict:    http.StatusConflict,
	shared.KindIntegrity:        http.StatusUnprocessableEntity,
	shared.KindTransientGateway: http.StatusServiceUnavailable,
	shared.KindPermanentGateway: http.StatusBadGateway,
	shared.KindInternal:         http.StatusInternalServerError,
}

// StatusForKind returns the HTTP status for an error kind, 500 when unknown
func StatusForKind(kind shared.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}
