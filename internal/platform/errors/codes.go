package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// User errors
	CodeUserEmptyEmail   Code = "USER_EMPTY_EMAIL"
	CodeUserInvalidEmail Code = "USER_INVALID_EMAIL"

	// Passkey protocol errors
	CodeChallengeMissing   Code = "CHALLENGE_MISSING"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
	CodeUnknownCredential  Code = "UNKNOWN_CREDENTIAL"
	CodeCounterRegression  Code = "COUNTER_REGRESSION"
	CodeDuplicateEmail     Code = "DUPLICATE_EMAIL"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeUserEmptyEmail,
		CodeUserInvalidEmail:
		return http.StatusBadRequest

	// Protocol failures answer 200 with a failed body. Which verification
	// step failed is never revealed to the caller.
	case CodeChallengeMissing,
		CodeVerificationFailed,
		CodeUnknownCredential,
		CodeCounterRegression:
		return http.StatusOK

	// Conflict
	case CodeDuplicateEmail:
		return http.StatusConflict

	// Not found
	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
