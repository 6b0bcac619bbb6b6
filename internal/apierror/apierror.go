package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// Settlement-specific codes. InsufficientFunds/InsufficientEscrow mean
	// retry later, not a bug. RpcFailure means every provider failed and the
	// call may be retried. VerificationFailed requires new evidence, never an
	// automatic retry. ConfigMismatch is fatal and needs operator intervention.
	ErrInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	ErrInsufficientEscrow ErrorCode = "INSUFFICIENT_ESCROW"
	ErrRpcFailure         ErrorCode = "RPC_FAILURE"
	ErrVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	ErrConfigMismatch     ErrorCode = "CONFIG_MISMATCH"
	ErrAgentSuspended     ErrorCode = "AGENT_SUSPENDED"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsCode reports whether err is an APIError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Code == code
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest, ErrVerificationFailed:
			return http.StatusBadRequest
		case ErrInsufficientFunds, ErrInsufficientEscrow:
			return http.StatusUnprocessableEntity
		case ErrAgentSuspended:
			return http.StatusForbidden
		case ErrRpcFailure:
			return http.StatusBadGateway
		case ErrConfigMismatch, ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
