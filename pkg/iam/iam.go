package iam

import (
	"net/http"

	"github.com/coagline/coagline/pkg/errx"
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IAM")

var (
	CodeUnauthorized   = ErrRegistry.Register("UNAUTHORIZED", errx.TypeAuthorization, http.StatusUnauthorized, "Unauthorized")
	CodeSessionRevoked = ErrRegistry.Register("SESSION_REVOKED", errx.TypeAuthorization, http.StatusUnauthorized, "You were signed out from another device")
	CodeAccessDenied   = ErrRegistry.Register("ACCESS_DENIED", errx.TypeForbidden, http.StatusForbidden, "Access denied")
)

// Helper functions
func ErrUnauthorized() *errx.Error {
	return ErrRegistry.New(CodeUnauthorized)
}

func ErrSessionRevoked() *errx.Error {
	return ErrRegistry.New(CodeSessionRevoked)
}

func ErrAccessDenied() *errx.Error {
	return ErrRegistry.New(CodeAccessDenied)
}
