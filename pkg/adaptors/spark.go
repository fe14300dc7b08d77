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
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hybridgroup/cylon-spark/pkg/cloud"
	"github.com/hybridgroup/cylon-spark/pkg/events"
)

const (
	// SparkName is the name of the cloud adaptor.
	SparkName = "spark"
)

var sparkCommands = []string{
	"digitalRead",
	"digitalWrite",
	"analogRead",
	"analogWrite",
	"pwmWrite",
	"servoWrite",
	"callFunction",
	"command",
	"getVariable",
	"variable",
	"onEvent",
	"coreAttrs",
}

// Spark controls a core through the cloud API.
type Spark struct {
	opts    DeviceOptions
	log     zerolog.Logger
	client  cloud.Client
	emitter *events.Emitter
	tasks   taskGroup

	mutex     sync.RWMutex
	core      *cloud.Device
	loginInfo []cloud.Device
}

var (
	_ Adaptor = &Spark{}
	_ Cloud   = &Spark{}
)

// NewSpark creates a new cloud adaptor.
func NewSpark(opts DeviceOptions, deps Dependencies) (*Spark, error) {
	opts, err := opts.validate("Spark")
	if err != nil {
		return nil, err
	}
	client, err := deps.cloudClient(opts)
	if err != nil {
		return nil, err
	}
	return &Spark{
		opts: opts,
		log: deps.Log.With().
			Str("component", "adaptor").
			Str("adaptor", SparkName).
			Str("device", opts.DeviceID).
			Logger(),
		client:  client,
		emitter: events.NewEmitter(),
		tasks:   taskGroup{adaptor: SparkName},
	}, nil
}

// Name of the adaptor type
func (a *Spark) Name() string { return SparkName }

// Commands returns the names of the commands supported by the adaptor.
func (a *Spark) Commands() []string { return append([]string(nil), sparkCommands...) }

// Events returns the emitter on which device events are re-emitted.
func (a *Spark) Events() *events.Emitter { return a.emitter }

// Options returns the device options.
func (a *Spark) Options() DeviceOptions { return a.opts }

// Connect logs in to the cloud and fetches the core attributes.
func (a *Spark) Connect(ctx context.Context) error {
	loginInfo, err := a.client.ListDevices(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("An error occured on login to Spark Cloud")
		return maskAny(err)
	}
	a.log.Debug().Int("devices", len(loginInfo)).Msg("Logged in to Spark Cloud")

	core, err := a.client.GetDevice(ctx, a.opts.DeviceID)
	if err != nil {
		a.log.Error().Err(err).Msg("An error occured when retrieving core info from Spark Cloud")
		a.emitter.Emit(events.ErrorEvent, err)
		return maskAny(err)
	}

	a.mutex.Lock()
	a.loginInfo = loginInfo
	a.core = &core
	a.mutex.Unlock()
	a.tasks.open()
	connectsTotal.WithLabelValues(SparkName).Inc()
	a.log.Info().
		Str("name", core.Name).
		Bool("connected", core.Connected).
		Msg("Connected to core")
	return nil
}

// Disconnect stops all reads and subscriptions.
func (a *Spark) Disconnect(ctx context.Context) error {
	a.tasks.close()
	a.mutex.Lock()
	a.core = nil
	a.mutex.Unlock()
	a.emitter.Close()
	a.log.Debug().Msg("Disconnected")
	return nil
}

// CoreAttrs returns the attributes of the core as fetched on connect.
func (a *Spark) CoreAttrs() (cloud.Device, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if a.core == nil {
		return cloud.Device{}, maskAny(NotConnectedError)
	}
	return *a.core, nil
}

// DigitalRead polls the digital value of the pin.
func (a *Spark) DigitalRead(ctx context.Context, pin string, cb ReadFunc) error {
	return a.read(ctx, "digitalread", pin, cb)
}

// AnalogRead polls the analog value of the pin.
func (a *Spark) AnalogRead(ctx context.Context, pin string, cb ReadFunc) error {
	return a.read(ctx, "analogread", pin, cb)
}

// DigitalWrite writes HIGH (value 1) or LOW to the pin.
func (a *Spark) DigitalWrite(ctx context.Context, pin string, value int) error {
	writesTotal.WithLabelValues(SparkName, "digitalwrite").Inc()
	_, err := a.call(ctx, "digitalwrite", pin+","+PinVal(value))
	return err
}

// AnalogWrite writes the value to the pin unchanged.
func (a *Spark) AnalogWrite(ctx context.Context, pin string, value float64) error {
	writesTotal.WithLabelValues(SparkName, "analogwrite").Inc()
	_, err := a.call(ctx, "analogwrite", pin+","+formatValue(value))
	return err
}

// PwmWrite scales the value to 0..255 and writes it to the pin.
func (a *Spark) PwmWrite(ctx context.Context, pin string, value float64) error {
	return a.AnalogWrite(ctx, pin, float64(ToScale(value, pwmScale)))
}

// ServoWrite scales the value to 0..180 and writes it to the servo
// channel of the pin.
func (a *Spark) ServoWrite(ctx context.Context, pin string, value float64) error {
	servoPin, ok := ServoPin(pin)
	if !ok {
		return errors.Wrapf(InvalidPinError, "pin '%s' has no servo channel", pin)
	}
	return a.AnalogWrite(ctx, servoPin, float64(ToScale(value, servoScale)))
}

// CallFunction calls a function on the core.
// Arguments are joined with a comma.
func (a *Spark) CallFunction(ctx context.Context, name string, args []string) (int, error) {
	return a.call(ctx, name, strings.Join(args, ","))
}

// Command is an alias for CallFunction.
func (a *Spark) Command(ctx context.Context, name string, args []string) (int, error) {
	return a.CallFunction(ctx, name, args)
}

// GetVariable requests the value of a variable from the core.
// Variable names longer than 12 characters are truncated.
func (a *Spark) GetVariable(ctx context.Context, name string) (interface{}, error) {
	if _, err := a.CoreAttrs(); err != nil {
		return nil, err
	}
	result, err := a.client.GetVariable(ctx, a.opts.DeviceID, truncateVariableName(name))
	if err != nil {
		return nil, maskAny(err)
	}
	return result, nil
}

// Variable is an alias for GetVariable.
func (a *Spark) Variable(ctx context.Context, name string) (interface{}, error) {
	return a.GetVariable(ctx, name)
}

// OnEvent listens for events with the given name.
// An empty name listens for all events of the core.
// Each event is emitted on Events() under its own name and then passed
// to the callback.
// A failing subscription is logged, emitted as error event and passed to
// the callback.
func (a *Spark) OnEvent(ctx context.Context, name string, cb EventFunc) error {
	log := a.log.With().Str("event", name).Logger()
	return a.tasks.Go(ctx, func(ctx context.Context) {
		log.Debug().Msg("Subscribing to events")
		err := a.client.Subscribe(ctx, a.opts.DeviceID, name, func(ev cloud.Event) {
			a.emitter.Emit(ev.Name, ev)
			if cb != nil {
				cb(ev, nil)
			}
		})
		if err != nil {
			log.Error().Err(err).Msg("Event subscription failed")
			a.emitter.Emit(events.ErrorEvent, err)
			if cb != nil {
				cb(cloud.Event{Name: name}, err)
			}
			return
		}
		log.Debug().Msg("Event subscription ended")
	})
}

// call a function on the core with raw arguments.
func (a *Spark) call(ctx context.Context, name, args string) (int, error) {
	if _, err := a.CoreAttrs(); err != nil {
		return 0, err
	}
	result, err := a.client.CallFunction(ctx, a.opts.DeviceID, name, args)
	if err != nil {
		return 0, maskAny(err)
	}
	return result, nil
}

// read starts polling the given function.
func (a *Spark) read(ctx context.Context, fn, pin string, cb ReadFunc) error {
	if _, err := a.CoreAttrs(); err != nil {
		return err
	}
	p := poller{
		adaptor:  SparkName,
		op:       fn,
		interval: a.opts.ReadInterval,
		read: func(ctx context.Context) (int, error) {
			return a.client.CallFunction(ctx, a.opts.DeviceID, fn, pin)
		},
		onResult: func(value int, err error) {
			if err != nil {
				a.log.Debug().Err(err).
					Str("function", fn).
					Str("pin", pin).
					Msg("Read failed")
				a.emitter.Emit(events.ErrorEvent, err)
			}
			if cb != nil {
				cb(value, err)
			}
		},
	}
	a.log.Debug().
		Str("function", fn).
		Str("pin", pin).
		Str("interval", a.opts.ReadInterval.String()).
		Msg("Start polling")
	return a.tasks.Go(ctx, p.run)
}

// String returns a human readable description of the adaptor.
func (a *Spark) String() string {
	return SparkName + "(" + a.opts.DeviceID + ", " + strconv.Itoa(int(a.opts.ReadInterval.Milliseconds())) + "ms)"
}
