package rpcapi

import (
	"errors"
	"fmt"

	"github.com/conductorhq/sessioncore/internal/store"
)

// ErrorCode is one of the closed set of RPC error codes (spec §6.2).
type ErrorCode string

const (
	CodeInvalidParams  ErrorCode = "INVALID_PARAMS"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeEventNotFound  ErrorCode = "EVENT_NOT_FOUND"
	CodeSessionEnded   ErrorCode = "SESSION_ENDED"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
)

// Error is the typed RPC error returned to a dispatcher caller. It carries
// no internal detail beyond a human-readable message, matching tarsy's
// pkg/services ValidationError convention of a small, deliberately shallow
// error type at the service boundary.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// translateStoreError maps a store-layer sentinel error to an RPC Error.
// Internal packages never return RPC error codes themselves (SPEC_FULL.md
// §0); this is the one place that mapping happens.
func translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return newError(CodeSessionNotFound, "%v", err)
	case errors.Is(err, store.ErrEventNotFound), errors.Is(err, store.ErrParentNotFound):
		return newError(CodeEventNotFound, "%v", err)
	case errors.Is(err, store.ErrSessionEnded):
		return newError(CodeSessionEnded, "%v", err)
	case errors.Is(err, store.ErrInvalidDeleteTarget), errors.Is(err, store.ErrWorkspaceNotFound):
		return newError(CodeValidationError, "%v", err)
	default:
		return err
	}
}
