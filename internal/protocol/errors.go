package protocol

import (
	"errors"
	"fmt"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrUnauthorized    = "E_UNAUTHORIZED"

	// World routing.
	ErrWorldMismatch = "E_WORLD_MISMATCH"

	// Event layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRejected   = "E_REJECTED"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrUnauthorized:    {},
	ErrWorldMismatch:   {},
	ErrBadRequest:      {},
	ErrRejected:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeError carries a wire error code alongside the cause.
type CodeError struct {
	Code string
	Err  error
}

func (e *CodeError) Error() string { return e.Code + ": " + e.Err.Error() }
func (e *CodeError) Unwrap() error { return e.Err }

func codeErr(code, format string, args ...any) error {
	return &CodeError{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the wire code of err, defaulting to ErrInternal.
func CodeOf(err error) string {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternal
}
