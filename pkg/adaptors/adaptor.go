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
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hybridgroup/cylon-spark/pkg/cloud"
	"github.com/hybridgroup/cylon-spark/pkg/events"
)

const (
	// DefaultReadInterval is the polling interval used when none is given.
	DefaultReadInterval = time.Second * 2
)

// ReadFunc receives the result of a single read.
type ReadFunc func(value int, err error)

// EventFunc receives a single event published by the device.
type EventFunc func(ev cloud.Event, err error)

// PinIO is the pin level API that every adaptor implements.
type PinIO interface {
	// DigitalRead reads the digital value of the pin every read interval
	// until the context is canceled or the adaptor disconnects.
	DigitalRead(ctx context.Context, pin string, cb ReadFunc) error
	// AnalogRead reads the analog value of the pin every read interval
	// until the context is canceled or the adaptor disconnects.
	AnalogRead(ctx context.Context, pin string, cb ReadFunc) error
	// DigitalWrite writes a digital value (1 is HIGH, anything else LOW).
	DigitalWrite(ctx context.Context, pin string, value int) error
	// AnalogWrite writes an analog value.
	AnalogWrite(ctx context.Context, pin string, value float64) error
	// PwmWrite writes a normalized [0..1] PWM value.
	PwmWrite(ctx context.Context, pin string, value float64) error
	// ServoWrite writes a normalized [0..1] servo position.
	ServoWrite(ctx context.Context, pin string, value float64) error
}

// Adaptor is a connection to a single core.
type Adaptor interface {
	PinIO
	// Name of the adaptor type
	Name() string
	// Connect to the core.
	Connect(ctx context.Context) error
	// Disconnect from the core, stopping all reads and subscriptions.
	// An adaptor cannot be connected again after a disconnect.
	Disconnect(ctx context.Context) error
	// Commands returns the names of the commands supported by the adaptor.
	Commands() []string
	// Events returns the emitter on which device events are re-emitted.
	Events() *events.Emitter
}

// Cloud is implemented by adaptors that talk to the cloud API.
type Cloud interface {
	// CallFunction calls a function on the core with the given arguments.
	CallFunction(ctx context.Context, name string, args []string) (int, error)
	// Command is an alias for CallFunction.
	Command(ctx context.Context, name string, args []string) (int, error)
	// GetVariable requests the value of a variable from the core.
	GetVariable(ctx context.Context, name string) (interface{}, error)
	// Variable is an alias for GetVariable.
	Variable(ctx context.Context, name string) (interface{}, error)
	// OnEvent listens for events with given name published by the core.
	OnEvent(ctx context.Context, name string, cb EventFunc) error
	// CoreAttrs returns the attributes of the core.
	CoreAttrs() (cloud.Device, error)
}

// DeviceOptions identify the core and the polling cadence.
type DeviceOptions struct {
	DeviceID     string
	AccessToken  string
	ReadInterval time.Duration
	// Address (host:port) of the local board endpoint.
	// Only used by the voodoospark adaptor; when empty it is
	// requested from the cloud.
	Address string
}

// Dependencies of the adaptors.
type Dependencies struct {
	Log zerolog.Logger
	// Cloud client to use. When nil, a client is created for the access token.
	Cloud cloud.Client
	// Base URL of the cloud, used when Cloud is nil.
	CloudURL string
	// Dialer used to open local boards. Defaults to DialFirmataBoard.
	Dialer BoardDialer
}

// validate the options and fill in defaults.
func (o DeviceOptions) validate(adaptorName string) (DeviceOptions, error) {
	if o.DeviceID == "" || o.AccessToken == "" {
		return o, maskAny(&MissingCredentialsError{Adaptor: adaptorName})
	}
	if o.ReadInterval <= 0 {
		o.ReadInterval = DefaultReadInterval
	}
	return o, nil
}

// cloudClient returns the cloud client from the dependencies or
// creates one for the given options.
func (d Dependencies) cloudClient(opts DeviceOptions) (cloud.Client, error) {
	if d.Cloud != nil {
		return d.Cloud, nil
	}
	return cloud.NewClient(cloud.Config{
		BaseURL:     d.CloudURL,
		AccessToken: opts.AccessToken,
	}, d.Log)
}
