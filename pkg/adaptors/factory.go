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
	"github.com/pkg/errors"
)

// Names of all supported adaptors.
var Names = []string{SparkName, VoodooSparkName}

// New creates an adaptor by name.
func New(name string, opts DeviceOptions, deps Dependencies) (Adaptor, error) {
	switch name {
	case SparkName:
		a, err := NewSpark(opts, deps)
		if err != nil {
			return nil, err
		}
		return a, nil
	case VoodooSparkName:
		a, err := NewVoodooSpark(opts, deps)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, errors.Wrapf(UnknownAdaptorError, "'%s' (expected one of %v)", name, Names)
	}
}
