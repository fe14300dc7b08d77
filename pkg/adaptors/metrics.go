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
	"github.com/hybridgroup/cylon-spark/pkg/metrics"
)

const (
	subSystem = "adaptor"
)

var (
	// Total number of connects per adaptor
	connectsTotal = metrics.MustRegisterCounterVec(subSystem,
		"connects_total",
		"Total number of successful connects",
		"adaptor")
	// Total number of read requests issued by pollers
	readRequestsTotal = metrics.MustRegisterCounterVec(subSystem,
		"read_requests_total",
		"Total number of read requests issued",
		"adaptor", "op")
	// Total number of poll ticks skipped because a request was in flight
	readSkippedTotal = metrics.MustRegisterCounterVec(subSystem,
		"read_skipped_total",
		"Total number of reads skipped because a request was in flight",
		"adaptor", "op")
	// Total number of failed reads
	readErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"read_errors_total",
		"Total number of failed reads",
		"adaptor", "op")
	// Total number of writes
	writesTotal = metrics.MustRegisterCounterVec(subSystem,
		"writes_total",
		"Total number of writes",
		"adaptor", "op")
	// Number of active pollers and subscriptions
	activeTasksGauge = metrics.MustRegisterGaugeVec(subSystem,
		"active_tasks",
		"Number of active pollers and subscriptions",
		"adaptor")
)
