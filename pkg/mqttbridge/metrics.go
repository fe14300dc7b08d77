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

package mqttbridge

import (
	"github.com/hybridgroup/cylon-spark/pkg/metrics"
)

const (
	subSystem = "mqtt"
)

var (
	// Total number of messages published
	publishedTotal = metrics.MustRegisterCounter(subSystem,
		"published_total",
		"Total number of messages published")
	// Total number of messages not delivered in time
	publishFailuresTotal = metrics.MustRegisterCounter(subSystem,
		"publish_failures_total",
		"Total number of messages not delivered in time")
	// Total number of commands received per result
	commandsTotal = metrics.MustRegisterCounterVec(subSystem,
		"commands_total",
		"Total number of commands received per result",
		"result")
)
