package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAPI                  = "SALLA_API_ERROR"
	ErrorRefreshFailed        = "SALLA_REFRESH_FAILED"
	ErrorRetryExhausted       = "SALLA_RETRY_EXHAUSTED"
	ErrorInvalidSignature     = "SALLA_INVALID_SIGNATURE"
	ErrorUnsupportedOperation = "SALLA_UNSUPPORTED_OPERATION"
	ErrorMissingCredentials   = "SALLA_MISSING_CREDENTIALS"
	ErrorBadInput             = "SALLA_BAD_INPUT"
	ErrorRateLimited          = "SALLA_RATE_LIMITED"
	ErrorInternal             = "SALLA_INTERNAL_ERROR"
)

const maxErrorBodyExcerpt = 2 << 10

// APIFailure describes a non-2xx response (or a transport failure when
// StatusCode is zero) that ended the request chain.
type APIFailure struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Attempts   int
	Cause      error
}

func NewAPIError(failure APIFailure) *goerrors.Error {
	method := strings.ToUpper(strings.TrimSpace(failure.Method))
	endpoint := strings.TrimSpace(failure.Endpoint)

	message := fmt.Sprintf("salla: %s %s failed with status %d", method, endpoint, failure.StatusCode)
	if failure.StatusCode == 0 {
		message = fmt.Sprintf("salla: %s %s failed", method, endpoint)
	}
	if detail := describeAPIBody(failure.Body); detail != "" {
		message += ": " + detail
	}

	category := apiErrorCategory(failure.StatusCode)
	code := failure.StatusCode
	if code == 0 {
		code = http.StatusBadGateway
	}

	var err *goerrors.Error
	if failure.Cause != nil {
		err = goerrors.Wrap(failure.Cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}

	metadata := map[string]any{
		"status_code": failure.StatusCode,
		"method":      method,
		"endpoint":    endpoint,
	}
	if failure.Attempts > 0 {
		metadata["attempts"] = failure.Attempts
	}
	if len(failure.Body) > 0 {
		metadata["body"] = truncateBody(failure.Body)
	}
	if retryAfter := headerLookup(failure.Headers, "retry-after"); retryAfter != "" {
		metadata["retry_after"] = retryAfter
	}

	return err.
		WithCode(code).
		WithTextCode(ErrorAPI).
		WithMetadata(metadata)
}

func NewRefreshError(message string, cause error) *goerrors.Error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "salla: token refresh failed"
	}
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryAuth, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryAuth)
	}
	return err.
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorRefreshFailed)
}

func NewRetryExhaustedError(method string, endpoint string, attempts int) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("salla: max retry attempts reached for %s %s", strings.ToUpper(method), endpoint),
		goerrors.CategoryRateLimit,
	).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(ErrorRetryExhausted).
		WithMetadata(map[string]any{
			"attempts": attempts,
			"method":   strings.ToUpper(method),
			"endpoint": endpoint,
		})
}

func NewInvalidSignatureError(cause error) *goerrors.Error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryAuth, "salla: invalid webhook signature")
	} else {
		err = goerrors.New("salla: invalid webhook signature", goerrors.CategoryAuth)
	}
	return err.
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorInvalidSignature)
}

func NewUnsupportedOperationError(resource string, operation string) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("salla: the operation %q is not supported for %s", operation, resource),
		goerrors.CategoryBadInput,
	).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorUnsupportedOperation).
		WithMetadata(map[string]any{
			"resource":  resource,
			"operation": operation,
		})
}

func NewMissingCredentialsError() *goerrors.Error {
	return goerrors.New("salla: no credentials found", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorMissingCredentials)
}

func NewValidationError(field string, message string) *goerrors.Error {
	return goerrors.NewValidation("salla: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// IsErrorCode reports whether err carries the given text code.
func IsErrorCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), strings.TrimSpace(textCode))
}

// errorTextCode returns the text code of a go-errors envelope in err's chain.
func errorTextCode(err error) string {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return ""
	}
	return strings.TrimSpace(richErr.TextCode)
}

// APIErrorStatus returns the upstream status code recorded on an API error.
func APIErrorStatus(err error) (int, bool) {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) || richErr.TextCode != ErrorAPI {
		return 0, false
	}
	if status, ok := richErr.Metadata["status_code"].(int); ok {
		return status, true
	}
	return richErr.Code, true
}

// MapError converts any error into the service envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "no credentials"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorMissingCredentials)
	case strings.Contains(msg, "signature"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorInvalidSignature)
	case strings.Contains(msg, "refresh"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorRefreshFailed)
	case strings.Contains(msg, "not supported"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorUnsupportedOperation)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = categoryHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorMissingCredentials
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorAPI
	default:
		return ErrorInternal
	}
}

func categoryHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func apiErrorCategory(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status == http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryExternal
	}
}

func describeAPIBody(body []byte) string {
	payload, err := decodeJSONBody(body)
	if err != nil {
		return ""
	}
	object, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	if nested, ok := object["error"].(map[string]any); ok {
		if message := readString(nested, "message"); message != "" {
			return message
		}
	}
	for _, key := range []string{"message", "error_description", "error"} {
		if message := readString(object, key); message != "" {
			return message
		}
	}
	return ""
}

func truncateBody(body []byte) string {
	if len(body) <= maxErrorBodyExcerpt {
		return string(body)
	}
	return string(body[:maxErrorBodyExcerpt]) + "..."
}
