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

package driver

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/cloud"
)

var driverCommands = []string{
	"core",
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
}

// Driver exposes the commands of a core on top of its adaptor.
type Driver struct {
	log     zerolog.Logger
	adaptor adaptors.Adaptor

	mutex    sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	bindings int
}

// New creates a driver for the given adaptor.
func New(adaptor adaptors.Adaptor, log zerolog.Logger) *Driver {
	return &Driver{
		log:     log.With().Str("component", "driver").Str("adaptor", adaptor.Name()).Logger(),
		adaptor: adaptor,
	}
}

// Adaptor returns the adaptor the driver works on.
func (d *Driver) Adaptor() adaptors.Adaptor { return d.adaptor }

// Start the driver.
// Reads and event subscriptions started through the driver are stopped
// on Halt.
func (d *Driver) Start(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.ctx == nil {
		d.ctx, d.cancel = context.WithCancel(context.Background())
		d.log.Debug().Msg("Driver started")
	}
	return nil
}

// Halt the driver.
func (d *Driver) Halt(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.ctx, d.cancel = nil, nil
		d.log.Debug().Msg("Driver halted")
	}
	return nil
}

// Commands returns the commands available on this driver.
// Cloud only commands are left out for local adaptors.
func (d *Driver) Commands() []string {
	supported := d.adaptor.Commands()
	_, isCloud := d.adaptor.(adaptors.Cloud)
	return lo.Filter(driverCommands, func(cmd string, _ int) bool {
		if cmd == "core" {
			return isCloud
		}
		return lo.Contains(supported, cmd)
	})
}

// Core returns the attributes of the core.
func (d *Driver) Core() (cloud.Device, error) {
	c, err := d.cloud("core")
	if err != nil {
		return cloud.Device{}, err
	}
	return c.CoreAttrs()
}

func (d *Driver) DigitalRead(ctx context.Context, pin string, cb adaptors.ReadFunc) error {
	return d.adaptor.DigitalRead(d.bind(ctx), pin, cb)
}

func (d *Driver) DigitalWrite(ctx context.Context, pin string, value int) error {
	return d.adaptor.DigitalWrite(ctx, pin, value)
}

func (d *Driver) AnalogRead(ctx context.Context, pin string, cb adaptors.ReadFunc) error {
	return d.adaptor.AnalogRead(d.bind(ctx), pin, cb)
}

func (d *Driver) AnalogWrite(ctx context.Context, pin string, value float64) error {
	return d.adaptor.AnalogWrite(ctx, pin, value)
}

func (d *Driver) PwmWrite(ctx context.Context, pin string, value float64) error {
	return d.adaptor.PwmWrite(ctx, pin, value)
}

func (d *Driver) ServoWrite(ctx context.Context, pin string, value float64) error {
	return d.adaptor.ServoWrite(ctx, pin, value)
}

func (d *Driver) CallFunction(ctx context.Context, name string, args []string) (int, error) {
	c, err := d.cloud("callFunction")
	if err != nil {
		return 0, err
	}
	return c.CallFunction(ctx, name, args)
}

func (d *Driver) Command(ctx context.Context, name string, args []string) (int, error) {
	c, err := d.cloud("command")
	if err != nil {
		return 0, err
	}
	return c.Command(ctx, name, args)
}

func (d *Driver) GetVariable(ctx context.Context, name string) (interface{}, error) {
	c, err := d.cloud("getVariable")
	if err != nil {
		return nil, err
	}
	return c.GetVariable(ctx, name)
}

func (d *Driver) Variable(ctx context.Context, name string) (interface{}, error) {
	c, err := d.cloud("variable")
	if err != nil {
		return nil, err
	}
	return c.Variable(ctx, name)
}

func (d *Driver) OnEvent(ctx context.Context, name string, cb adaptors.EventFunc) error {
	c, err := d.cloud("onEvent")
	if err != nil {
		return err
	}
	return c.OnEvent(d.bind(ctx), name, cb)
}

// cloud returns the cloud API of the adaptor.
func (d *Driver) cloud(command string) (adaptors.Cloud, error) {
	c, ok := d.adaptor.(adaptors.Cloud)
	if !ok {
		return nil, errors.Wrapf(NotSupportedError, "%s on %s adaptor", command, d.adaptor.Name())
	}
	return c, nil
}

// bind returns a context that is also canceled when the driver halts.
func (d *Driver) bind(ctx context.Context) context.Context {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.ctx == nil {
		return ctx
	}
	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(d.ctx, cancel)
	d.bindings++
	// Release the registration on the driver context once the bound
	// context is done, whichever side ended it.
	context.AfterFunc(bound, func() {
		stop()
		d.mutex.Lock()
		defer d.mutex.Unlock()
		d.bindings--
	})
	return bound
}

// activeBindings returns the number of contexts bound to the driver
// that are not done yet.
func (d *Driver) activeBindings() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bindings
}
