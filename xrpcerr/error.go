/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package xrpcerr defines the single tagged error type used by xrpc. Every error that is turned into an HTTP
// response, and every structural error raised while building a server, is an *Error carrying a Kind. The Kind
// selects the HTTP status and the machine-readable error code from a fixed table.
package xrpcerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error categories known to xrpc.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindMalformedPayload
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindPayloadTooLarge
	KindTooManyRequests
	KindServiceUnavailable

	// startup-time structural errors
	KindInvalidArgument
	KindDuplicateRoute
	KindInvalidPattern
	KindDuplicateContentType
	KindMissingDefault
)

type kindInfo struct {
	status int
	code   string
}

var kindTable = [...]kindInfo{
	KindInternal:             {http.StatusInternalServerError, "InternalServerError"},
	KindBadRequest:           {http.StatusBadRequest, "BadRequest"},
	KindMalformedPayload:     {http.StatusBadRequest, "MalformedPayload"},
	KindUnauthorized:         {http.StatusUnauthorized, "Unauthorized"},
	KindForbidden:            {http.StatusForbidden, "Forbidden"},
	KindNotFound:             {http.StatusNotFound, "NotFound"},
	KindPayloadTooLarge:      {http.StatusRequestEntityTooLarge, "PayloadTooLarge"},
	KindTooManyRequests:      {http.StatusTooManyRequests, "TooManyRequests"},
	KindServiceUnavailable:   {http.StatusServiceUnavailable, "ServiceUnavailable"},
	KindInvalidArgument:      {http.StatusInternalServerError, "InvalidArgument"},
	KindDuplicateRoute:       {http.StatusInternalServerError, "DuplicateRoute"},
	KindInvalidPattern:       {http.StatusInternalServerError, "InvalidPattern"},
	KindDuplicateContentType: {http.StatusInternalServerError, "DuplicateContentType"},
	KindMissingDefault:       {http.StatusInternalServerError, "MissingDefault"},
}

func (k Kind) info() kindInfo {
	if k < 0 || int(k) >= len(kindTable) {
		return kindTable[KindInternal]
	}
	return kindTable[k]
}

// Status returns the HTTP status code bound to the kind.
func (k Kind) Status() int {
	return k.info().status
}

// Code returns the machine-readable error code bound to the kind.
func (k Kind) Code() string {
	return k.info().code
}

func (k Kind) String() string {
	return k.Code()
}

// Error is the tagged error type. Status and Code default to the values bound to Kind.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Cause   error
}

// New creates an Error of the given kind with the kind's status and code.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Status:  kind.Status(),
		Code:    kind.Code(),
		Message: message,
	}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error of the given kind that carries cause.
func Wrap(kind Kind, cause error, message string) *Error {
	err := New(kind, message)
	err.Cause = cause
	return err
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind, so errors.Is(err, xrpcerr.New(xrpcerr.KindNotFound, "")) works regardless of
// message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// WithStatus overrides the HTTP status, used by admission stages that reject with a caller chosen status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithCode overrides the machine-readable error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	if xe, ok := As(err); ok {
		return xe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	xe, ok := As(err)
	return ok && xe.Kind == kind
}

func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

func MalformedPayload(cause error, message string) *Error {
	return Wrap(KindMalformedPayload, cause, message)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func PayloadTooLarge(message string) *Error {
	return New(KindPayloadTooLarge, message)
}

func TooManyRequests(message string) *Error {
	return New(KindTooManyRequests, message)
}

func ServiceUnavailable(message string) *Error {
	return New(KindServiceUnavailable, message)
}

func Internal(cause error, message string) *Error {
	return Wrap(KindInternal, cause, message)
}

func InvalidArgument(message string) *Error {
	return New(KindInvalidArgument, message)
}
