package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a module-prefixed string identifying an error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

const (
	ErrCodeOK      ErrorCode = "OK"
	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// Common error codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
)

// Batch engine error codes
const (
	ErrCodeInvalidConfig    ErrorCode = "BATCH_001"
	ErrCodeEngineClosed     ErrorCode = "BATCH_002"
	ErrCodeProcessorMissing ErrorCode = "BATCH_003"
	ErrCodeItemTimeout      ErrorCode = "BATCH_004"
	ErrCodeItemPanic        ErrorCode = "BATCH_005"
	ErrCodeStageUnknown     ErrorCode = "BATCH_006"
	ErrCodeRunCancelled     ErrorCode = "BATCH_007"
	ErrCodeProcessingFailed ErrorCode = "BATCH_008"
)

// Infrastructure error codes
const (
	ErrCodePayloadFetch    ErrorCode = "INFRA_001"
	ErrCodePublishFailed   ErrorCode = "INFRA_002"
	ErrCodeConsumeFailed   ErrorCode = "INFRA_003"
	ErrCodePayloadTooLarge ErrorCode = "INFRA_004"
)

var codeHTTPStatus = map[ErrorCode]int{
	ErrCodeOK:                 http.StatusOK,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusBadRequest,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,

	ErrCodeInvalidConfig:    http.StatusBadRequest,
	ErrCodeEngineClosed:     http.StatusServiceUnavailable,
	ErrCodeProcessorMissing: http.StatusBadRequest,
	ErrCodeItemTimeout:      http.StatusGatewayTimeout,
	ErrCodeItemPanic:        http.StatusInternalServerError,
	ErrCodeStageUnknown:     http.StatusBadRequest,
	ErrCodeRunCancelled:     http.StatusRequestTimeout,
	ErrCodeProcessingFailed: http.StatusInternalServerError,

	ErrCodePayloadFetch:    http.StatusBadGateway,
	ErrCodePublishFailed:   http.StatusBadGateway,
	ErrCodeConsumeFailed:   http.StatusBadGateway,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,
}

var codeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "operation timed out",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeInvalidConfig:      "invalid run configuration",
	ErrCodeEngineClosed:       "engine closed",
	ErrCodeProcessorMissing:   "processor missing",
	ErrCodeItemTimeout:        "item timed out",
	ErrCodeItemPanic:          "processor panicked",
	ErrCodeStageUnknown:       "unknown pipeline stage",
	ErrCodeRunCancelled:       "run cancelled",
	ErrCodeProcessingFailed:   "item processing failed",
	ErrCodePayloadFetch:       "payload fetch failed",
	ErrCodePublishFailed:      "publish failed",
	ErrCodeConsumeFailed:      "consume failed",
	ErrCodePayloadTooLarge:    "payload too large",
}

// HTTPStatusForCode maps code to an HTTP status, 500 for unknown codes.
func HTTPStatusForCode(code ErrorCode) int {
	if s, ok := codeHTTPStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the canonical message for code.
func DefaultMessageForCode(code ErrorCode) string {
	if m, ok := codeMessage[code]; ok {
		return m
	}
	return "unknown error"
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	s := HTTPStatusForCode(code)
	return s >= 400 && s < 500
}

// ModuleForCode returns the lower-cased module prefix of code, e.g. "batch".
func ModuleForCode(code ErrorCode) string {
	s := string(code)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return strings.ToLower(s[:i])
	}
	return "unknown"
}
