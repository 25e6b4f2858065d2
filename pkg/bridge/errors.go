// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	cerrors "github.com/stacklok/credkeeper/pkg/errors"
)

// Codes for errors raised before a call reaches the credential cache.
const (
	CodeArgumentsMissing        = "ARGUMENTS_MISSING"
	CodeAccountMissing          = "ACCOUNT_MISSING"
	CodeNotImplemented          = "NOT_IMPLEMENTED"
	CodeRequiredArgumentMissing = "REQUIRED_ARGUMENT_MISSING"
	CodeInvalidArgument         = cerrors.ErrInvalidArgument
	CodeUnknown                 = "UNKNOWN"
)

// Error is the structured error returned to callers.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	status int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the HTTP status code the error maps to.
func (e *Error) HTTPStatus() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

func argumentsMissing() *Error {
	return &Error{Code: CodeArgumentsMissing, Message: "the arguments are missing", status: http.StatusBadRequest}
}

func accountMissing() *Error {
	return &Error{Code: CodeAccountMissing, Message: "the account is missing or invalid", status: http.StatusBadRequest}
}

func notImplemented(method string) *Error {
	return &Error{
		Code:    CodeNotImplemented,
		Message: fmt.Sprintf("method %q is not implemented", method),
		status:  http.StatusNotFound,
	}
}

func requiredArgumentMissing(key string) *Error {
	return &Error{
		Code:    CodeRequiredArgumentMissing,
		Message: fmt.Sprintf("the argument '%s' is missing or of the wrong type", key),
		status:  http.StatusBadRequest,
	}
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...), status: http.StatusBadRequest}
}

// toError converts a credential cache error into an Error.
func toError(err error) *Error {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr
	}

	var cacheErr *cerrors.Error
	if !errors.As(err, &cacheErr) {
		return &Error{Code: CodeUnknown, Message: err.Error(), status: http.StatusInternalServerError}
	}

	out := &Error{Code: cacheErr.Type, Message: cacheErr.Message, status: cacheErr.HTTPStatus()}
	details := map[string]any{}
	if cacheErr.Reason != "" {
		details["reason"] = cacheErr.Reason
	}
	if cacheErr.Cause != nil {
		details["cause"] = cacheErr.Cause.Error()
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode != "" {
			details["error"] = rerr.ErrorCode
		}
		if rerr.ErrorDescription != "" {
			details["error_description"] = rerr.ErrorDescription
		}
	}
	if len(details) > 0 {
		out.Details = details
	}
	return out
}
