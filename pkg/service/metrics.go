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

package service

import (
	"github.com/hybridgroup/cylon-spark/pkg/metrics"
)

const (
	subSystem = "service"
)

var (
	// 1 when the core is connected, 0 otherwise
	connectedGauge = metrics.MustRegisterGauge(subSystem,
		"connected",
		"1 when the core is connected")
	// Total number of readings per pin
	readingsTotal = metrics.MustRegisterCounterVec(subSystem,
		"readings_total",
		"Total number of readings per pin",
		"pin", "mode")
	// Total number of failed readings per pin
	readingErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"reading_errors_total",
		"Total number of failed readings per pin",
		"pin", "mode")
	// Last value read per pin
	readingValueGauge = metrics.MustRegisterGaugeVec(subSystem,
		"reading_value",
		"Last value read per pin",
		"pin", "mode")
	// Total number of events received per name
	eventsTotal = metrics.MustRegisterCounterVec(subSystem,
		"events_total",
		"Total number of events received per name",
		"name")
	// Total number of errors emitted by the adaptor
	adaptorErrorsTotal = metrics.MustRegisterCounter(subSystem,
		"adaptor_errors_total",
		"Total number of errors emitted by the adaptor")
	// Total number of failed forwarder runs
	forwarderFailuresTotal = metrics.MustRegisterCounter(subSystem,
		"forwarder_failures_total",
		"Total number of failed forwarder runs")
)
