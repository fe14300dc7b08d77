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
	"encoding/json"
	"time"
)

// Device holds the attributes of a core as reported by the cloud.
type Device struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Connected     bool              `json:"connected"`
	LastHeard     string            `json:"last_heard,omitempty"`
	LastIPAddress string            `json:"last_ip_address,omitempty"`
	ProductID     int               `json:"product_id,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	Functions     []string          `json:"functions,omitempty"`
}

// HasFunction returns true when the device exposes a cloud function
// with given name.
func (d Device) HasFunction(name string) bool {
	for _, x := range d.Functions {
		if x == name {
			return true
		}
	}
	return false
}

// functionResult is the response of a function call.
type functionResult struct {
	errorBody
	ID          string `json:"id"`
	Name        string `json:"name"`
	Connected   bool   `json:"connected"`
	ReturnValue int    `json:"return_value"`
}

// variableResult is the response of a variable request.
type variableResult struct {
	errorBody
	Cmd    string      `json:"cmd"`
	Name   string      `json:"name"`
	Result interface{} `json:"result"`
}

// Event is a single event published by a core.
type Event struct {
	Name        string      `json:"name"`
	Data        string      `json:"data"`
	TTL         json.Number `json:"ttl,omitempty"`
	PublishedAt time.Time   `json:"published_at"`
	CoreID      string      `json:"coreid"`
}

// parseEvent decodes the data field of a server-sent event.
// Payloads that are not JSON are passed on as raw data.
func parseEvent(name string, data []byte) Event {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{
			Name: name,
			Data: string(data),
		}
	}
	ev.Name = name
	return ev
}
