package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound         = errors.New("resource not found") // General not found
	ErrJobNotFound      = errors.New("job not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrNodeNotFound     = errors.New("document node not found")

	// Job lifecycle errors
	ErrJobAlreadyTerminal = errors.New("job is already in a terminal state")
	ErrInvalidJobStatus   = errors.New("invalid job status transition")

	// Document node errors
	ErrStaleNodeUpdate = errors.New("node state update is older than the stored state")

	// Token & Auth Errors
	ErrUnauthorized = errors.New("unauthorized") // Authentication required or failed
	ErrForbidden    = errors.New("forbidden")    // Authenticated, but lacks permission
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
	ErrBadSignature = errors.New("webhook signature mismatch")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")

	// Add other specific errors as needed
)
