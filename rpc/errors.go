package rpc

import (
	"errors"
	"net/http"

	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
)

// statusForError maps the engine's failure taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrDustDeposit),
		errors.Is(err, lending.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrPoolExists),
		errors.Is(err, lending.ErrNoDebt),
		errors.Is(err, lending.ErrInsufficientLiquidity):
		return http.StatusConflict
	case errors.Is(err, lending.ErrReentrancy),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
