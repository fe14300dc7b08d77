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

package adaptors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// NotConnectedError is returned when an operation needs a connected adaptor.
	NotConnectedError = errors.New("adaptor not connected")
	IsNotConnected    = isErrorFunc(NotConnectedError)
	// InvalidPinError is returned for pins that cannot be used for an operation.
	InvalidPinError = errors.New("invalid pin")
	IsInvalidPin    = isErrorFunc(InvalidPinError)
	// UnknownAdaptorError is returned by New for unsupported adaptor names.
	UnknownAdaptorError = errors.New("unknown adaptor")
	IsUnknownAdaptor    = isErrorFunc(UnknownAdaptorError)

	maskAny = errors.WithStack
)

// MissingCredentialsError is returned when an adaptor is created without
// device ID or access token.
type MissingCredentialsError struct {
	Adaptor string
}

// Error implements error.
func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("No deviceId and/or accessToken provided for %s adaptor. Cannot proceed", e.Adaptor)
}

// IsMissingCredentials returns true when the cause of the given error
// is a MissingCredentialsError.
func IsMissingCredentials(err error) bool {
	_, ok := errors.Cause(err).(*MissingCredentialsError)
	return ok
}

func isErrorFunc(typeOfError error) func(err error) bool {
	return func(err error) bool {
		return err == typeOfError || errors.Cause(err) == typeOfError
	}
}
