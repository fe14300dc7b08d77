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
	"github.com/hybridgroup/cylon-spark/pkg/metrics"
)

const (
	subSystem = "cloud"
)

var (
	// Total number of cloud requests per operation
	requestsTotal = metrics.MustRegisterCounterVec(subSystem,
		"requests_total",
		"Total number of cloud requests",
		"op")
	// Total number of failed cloud requests per operation
	requestErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"request_errors_total",
		"Total number of failed cloud requests",
		"op")
	// Duration of cloud requests
	requestDuration = metrics.MustRegisterHistogramVec(subSystem,
		"request_duration_seconds",
		"Duration of cloud requests",
		"op")
	// Total number of events received from the event stream
	eventsReceivedTotal = metrics.MustRegisterCounterVec(subSystem,
		"events_received_total",
		"Total number of events received",
		"name")
)
