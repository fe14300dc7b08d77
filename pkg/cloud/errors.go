// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package cloud

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// NoAccessTokenError is returned when a client is created without token.
	NoAccessTokenError = errors.New("no access token provided")

	maskAny = errors.WithStack
)

// APIError is returned when the cloud answers with an error status
// or with a response that has `ok` set to false.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cloud request failed with status %d (%s)", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Message
}

// IsAPIError returns true when the cause of the given error is an APIError.
func IsAPIError(err error) bool {
	_, ok := errors.Cause(err).(*APIError)
	return ok
}

// IsUnauthorized returns true when the cloud refused the access token.
func IsUnauthorized(err error) bool {
	if e, ok := errors.Cause(err).(*APIError); ok {
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// errorBody is the shape of error responses of the cloud API.
type errorBody struct {
	OK               *bool  `json:"ok,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Info             string `json:"info,omitempty"`
}

// asError converts the error body into an APIError.
func (b errorBody) asError(statusCode int) *APIError {
	msg := b.Error
	if b.ErrorDescription != "" {
		if msg != "" {
			msg = msg + ": " + b.ErrorDescription
		} else {
			msg = b.ErrorDescription
		}
	}
	return &APIError{
		StatusCode: statusCode,
		Message:    msg,
	}
}

// failed returns true when the body explicitly reports `ok: false`.
func (b errorBody) failed() bool {
	return b.OK != nil && !*b.OK
}
