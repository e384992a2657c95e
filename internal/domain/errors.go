package domain

import (
	"errors"
	"net/http"
)

// ─── Error Codes ────────────────────────────────────────────────────────────
// Numeric codes are part of the wire contract with callers and the
// controller. Do not renumber.

// ErrorCode is the numeric error taxonomy carried by error events.
type ErrorCode int

const (
	CodeValidation ErrorCode = 40001

	CodeInvalidAuthKey   ErrorCode = 40101
	CodeIncorrectAuthKey ErrorCode = 40102
	CodeNoPermission     ErrorCode = 40103

	CodeInvalidModel    ErrorCode = 40301
	CodeParamOutOfRange ErrorCode = 40302
	CodeContextOverflow ErrorCode = 40303

	CodeRateLimit        ErrorCode = 42901
	CodeQuotaExceeded    ErrorCode = 42902
	CodeEngineOverloaded ErrorCode = 42903

	CodeInternal    ErrorCode = 50001
	CodeOutOfMemory ErrorCode = 50002
)

// String returns the upper-case name of the code.
func (c ErrorCode) String() string {
	switch c {
	case CodeValidation:
		return "VALIDATION_TYPE_ERROR"
	case CodeInvalidAuthKey:
		return "INVALID_AUTH_KEY"
	case CodeIncorrectAuthKey:
		return "INCORRECT_AUTH_KEY"
	case CodeNoPermission:
		return "NO_PERMISSION"
	case CodeInvalidModel:
		return "INVALID_MODEL"
	case CodeParamOutOfRange:
		return "PARAM_OUT_OF_RANGE"
	case CodeContextOverflow:
		return "CONTEXT_OVERFLOW"
	case CodeRateLimit:
		return "RATE_LIMIT"
	case CodeQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case CodeEngineOverloaded:
		return "ENGINE_OVERLOADED"
	case CodeInternal:
		return "INTERNAL_ERROR"
	case CodeOutOfMemory:
		return "CUDA_OUT_OF_MEMORY"
	default:
		return "UNKNOWN"
	}
}

// HTTPStatus maps a code to the status class it belongs to. Model and
// request errors (403xx) are the caller's fault, not a permission problem,
// so they map to 400 like validation errors.
func (c ErrorCode) HTTPStatus() int {
	switch c / 100 {
	case 400, 403:
		return http.StatusBadRequest
	case 401:
		return http.StatusUnauthorized
	case 429:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// Queue / result channel errors
	ErrDuplicateTask  = errors.New("task id already queued")
	ErrUnknownTask    = errors.New("no result channel for task")
	ErrStreamClosed   = errors.New("result stream already terminated")
	ErrStreamConsumed = errors.New("result stream already has a reader")

	// Admission errors
	ErrNotAcquired      = errors.New("admission released without acquire")
	ErrEngineOverloaded = errors.New("engine overloaded: task queue is full")

	// Inference errors
	ErrContextExceeded = errors.New("context length exceeded")
	ErrOutOfMemory     = errors.New("accelerator out of memory")
	ErrBadLogits       = errors.New("backend returned malformed logits")
	ErrShuttingDown    = errors.New("worker is shutting down")
	ErrOffline         = errors.New("worker is not online")

	// Controller errors
	ErrRegistrationFailed = errors.New("controller rejected registration")
	ErrControllerStatus   = errors.New("controller returned non-success status")
)

// ─── Coded Errors ───────────────────────────────────────────────────────────

// TaskError is an error carrying a taxonomy code.
type TaskError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewTaskError creates a coded error with a message.
func NewTaskError(code ErrorCode, msg string) *TaskError {
	return &TaskError{Code: code, Message: msg}
}

// WrapTaskError attaches a code to an existing error.
func WrapTaskError(code ErrorCode, err error) *TaskError {
	return &TaskError{Code: code, Message: err.Error(), Err: err}
}

func (e *TaskError) Error() string { return e.Message }

func (e *TaskError) Unwrap() error { return e.Err }

// CodeOf classifies any error into the taxonomy.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Code
	}
	switch {
	case errors.Is(err, ErrOutOfMemory):
		return CodeOutOfMemory
	case errors.Is(err, ErrContextExceeded):
		return CodeContextOverflow
	case errors.Is(err, ErrEngineOverloaded):
		return CodeEngineOverloaded
	default:
		return CodeInternal
	}
}
