package errx

// Common error constructors for convenience

// Internal creates an internal server error
func Internal(message string) *Error {
	return New(message, TypeInternal)
}

// Validation creates a validation error
func Validation(message string) *Error {
	return New(message, TypeValidation)
}

// NotFound creates a not found error
func NotFound(message string) *Error {
	return New(message, TypeNotFound)
}

// Unauthorized creates an authentication error
func Unauthorized(message string) *Error {
	return New(message, TypeAuthorization)
}

// Forbidden creates an authenticated-but-denied error
func Forbidden(message string) *Error {
	return New(message, TypeForbidden)
}

// Conflict creates a conflict error
func Conflict(message string) *Error {
	return New(message, TypeConflict)
}

// RateLimited creates a throttling error
func RateLimited(message string) *Error {
	return New(message, TypeRateLimited)
}

// External creates an upstream collaborator error
func External(message string) *Error {
	return New(message, TypeExternal)
}
