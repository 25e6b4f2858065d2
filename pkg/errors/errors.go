// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed errors returned by the credential cache.
// Every error carries a stable, machine-readable code and a human-readable
// message so it can be surfaced unchanged to a calling application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// ErrNoCredentials is returned when the store holds no credentials
	ErrNoCredentials = "NO_CREDENTIALS"

	// ErrNoRefreshToken is returned when stored credentials cannot be renewed
	ErrNoRefreshToken = "NO_REFRESH_TOKEN"

	// ErrRenewFailed is returned when the identity provider rejected a renewal
	ErrRenewFailed = "RENEW_FAILED"

	// ErrStoreFailed is returned when credentials could not be persisted or removed
	ErrStoreFailed = "STORE_FAILED"

	// ErrBiometricsFailed is returned when local authentication failed or was cancelled
	ErrBiometricsFailed = "BIOMETRICS_FAILED"

	// ErrRevokeFailed is returned when the refresh token could not be revoked
	ErrRevokeFailed = "REVOKE_FAILED"

	// ErrLargeMinTTL is returned when the requested minimum TTL cannot be satisfied
	ErrLargeMinTTL = "LARGE_MIN_TTL"

	// ErrDecodeFailed is returned when an ID token is not a well-formed JWT
	ErrDecodeFailed = "DECODE_FAILED"

	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "INVALID_ARGUMENT"
)

// Reasons attached to ErrBiometricsFailed.
const (
	ReasonCancelled = "cancelled"
	ReasonFailed    = "failed"
)

// Error represents a credential cache error
type Error struct {
	// Type is the error code
	Type string

	// Message is the human-readable error message
	Message string

	// Reason further qualifies the error code, e.g. a cancelled biometric prompt
	Reason string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the stable error code.
func (e *Error) Code() string {
	return e.Type
}

// HTTPStatus maps the error code onto an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case ErrNoCredentials:
		return http.StatusNotFound
	case ErrNoRefreshToken:
		return http.StatusConflict
	case ErrBiometricsFailed:
		return http.StatusUnauthorized
	case ErrLargeMinTTL:
		return http.StatusUnprocessableEntity
	case ErrInvalidArgument:
		return http.StatusBadRequest
	case ErrRenewFailed, ErrRevokeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewNoCredentialsError creates a new no credentials error
func NewNoCredentialsError() *Error {
	return NewError(ErrNoCredentials, "no credentials were found in the store", nil)
}

// NewNoRefreshTokenError creates a new no refresh token error
func NewNoRefreshTokenError() *Error {
	return NewError(ErrNoRefreshToken, "the stored credentials have no refresh token and cannot be renewed", nil)
}

// NewRenewFailedError wraps an identity provider error
func NewRenewFailedError(cause error) *Error {
	return NewError(ErrRenewFailed, "failed to renew the credentials", cause)
}

// NewRenewInterruptedError reports a caller that stopped waiting for a
// renewal, typically because its context ended. The renewal itself carries on.
func NewRenewInterruptedError(cause error) *Error {
	return NewError(ErrRenewFailed, "stopped waiting for the credential renewal", cause)
}

// NewStoreFailedError creates a new store failed error
func NewStoreFailedError(message string, cause error) *Error {
	return NewError(ErrStoreFailed, message, cause)
}

// NewBiometricsCancelledError creates an error for a local authentication prompt dismissed by the user
func NewBiometricsCancelledError(cause error) *Error {
	e := NewError(ErrBiometricsFailed, "local authentication was cancelled", cause)
	e.Reason = ReasonCancelled
	return e
}

// NewBiometricsFailedError creates an error for a failed local authentication challenge
func NewBiometricsFailedError(cause error) *Error {
	e := NewError(ErrBiometricsFailed, "local authentication failed", cause)
	e.Reason = ReasonFailed
	return e
}

// NewRevokeFailedError wraps a revocation error
func NewRevokeFailedError(cause error) *Error {
	return NewError(ErrRevokeFailed, "failed to revoke the refresh token", cause)
}

// NewLargeMinTTLError creates an error for a minimum TTL the credentials cannot satisfy
func NewLargeMinTTLError(minTTL, lifetime int64) *Error {
	return NewError(ErrLargeMinTTL, fmt.Sprintf(
		"the minimum TTL requested (%ds) is greater than the remaining lifetime of the access token (%ds)",
		minTTL, lifetime), nil)
}

// NewDecodeFailedError creates a new decode failed error
func NewDecodeFailedError(cause error) *Error {
	return NewError(ErrDecodeFailed, "the ID token is not a well-formed JWT", cause)
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// CodeOf returns the error code of err, or an empty string when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

func is(err error, errorType string) bool {
	return CodeOf(err) == errorType
}

// IsNoCredentials checks if the error is a no credentials error
func IsNoCredentials(err error) bool {
	return is(err, ErrNoCredentials)
}

// IsNoRefreshToken checks if the error is a no refresh token error
func IsNoRefreshToken(err error) bool {
	return is(err, ErrNoRefreshToken)
}

// IsRenewFailed checks if the error is a renew failed error
func IsRenewFailed(err error) bool {
	return is(err, ErrRenewFailed)
}

// IsStoreFailed checks if the error is a store failed error
func IsStoreFailed(err error) bool {
	return is(err, ErrStoreFailed)
}

// IsBiometricsFailed checks if the error is a biometrics error, cancelled or not
func IsBiometricsFailed(err error) bool {
	return is(err, ErrBiometricsFailed)
}

// IsBiometricsCancelled checks if the error is a cancelled local authentication prompt
func IsBiometricsCancelled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrBiometricsFailed && e.Reason == ReasonCancelled
}

// IsRevokeFailed checks if the error is a revoke failed error
func IsRevokeFailed(err error) bool {
	return is(err, ErrRevokeFailed)
}

// IsLargeMinTTL checks if the error is a large min TTL error
func IsLargeMinTTL(err error) bool {
	return is(err, ErrLargeMinTTL)
}

// IsDecodeFailed checks if the error is a decode failed error
func IsDecodeFailed(err error) bool {
	return is(err, ErrDecodeFailed)
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return is(err, ErrInvalidArgument)
}
