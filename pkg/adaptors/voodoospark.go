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
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hybridgroup/cylon-spark/pkg/cloud"
	"github.com/hybridgroup/cylon-spark/pkg/events"
)

const (
	// VoodooSparkName is the name of the local board adaptor.
	VoodooSparkName = "voodoospark"
	// endpointVariable is the cloud variable holding the local "ip:port"
	// of a core running the voodoospark firmware.
	endpointVariable = "endpoint"
)

var voodooSparkCommands = []string{
	"digitalRead",
	"digitalWrite",
	"analogRead",
	"analogWrite",
	"pwmWrite",
	"servoWrite",
}

// VoodooSpark controls a core through a local firmata connection.
type VoodooSpark struct {
	opts    DeviceOptions
	log     zerolog.Logger
	client  cloud.Client
	dial    BoardDialer
	emitter *events.Emitter
	tasks   taskGroup

	mutex sync.Mutex
	board Board
}

var _ Adaptor = &VoodooSpark{}

// NewVoodooSpark creates a new local board adaptor.
func NewVoodooSpark(opts DeviceOptions, deps Dependencies) (*VoodooSpark, error) {
	opts, err := opts.validate("VoodooSpark")
	if err != nil {
		return nil, err
	}
	var client cloud.Client
	if opts.Address == "" {
		if client, err = deps.cloudClient(opts); err != nil {
			return nil, err
		}
	}
	dial := deps.Dialer
	if dial == nil {
		dial = DialFirmataBoard
	}
	return &VoodooSpark{
		opts: opts,
		log: deps.Log.With().
			Str("component", "adaptor").
			Str("adaptor", VoodooSparkName).
			Str("device", opts.DeviceID).
			Logger(),
		client:  client,
		dial:    dial,
		emitter: events.NewEmitter(),
		tasks:   taskGroup{adaptor: VoodooSparkName},
	}, nil
}

// Name of the adaptor type
func (a *VoodooSpark) Name() string { return VoodooSparkName }

// Commands returns the names of the commands supported by the adaptor.
func (a *VoodooSpark) Commands() []string {
	return append([]string(nil), voodooSparkCommands...)
}

// Events returns the emitter on which board errors are emitted.
func (a *VoodooSpark) Events() *events.Emitter { return a.emitter }

// Options returns the device options.
func (a *VoodooSpark) Options() DeviceOptions { return a.opts }

// Connect resolves the local endpoint of the core and opens the board.
func (a *VoodooSpark) Connect(ctx context.Context) error {
	address := a.opts.Address
	if address == "" {
		v, err := a.client.GetVariable(ctx, a.opts.DeviceID, endpointVariable)
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to resolve local endpoint of core")
			a.emitter.Emit(events.ErrorEvent, err)
			return maskAny(err)
		}
		address = fmt.Sprint(v)
	}
	log := a.log.With().Str("address", address).Logger()
	board, err := a.dial(ctx, address)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open board")
		a.emitter.Emit(events.ErrorEvent, err)
		return maskAny(err)
	}
	a.mutex.Lock()
	a.board = board
	a.mutex.Unlock()
	a.tasks.open()
	connectsTotal.WithLabelValues(VoodooSparkName).Inc()
	log.Info().Msg("Connected to board")
	return nil
}

// Disconnect stops all reads and closes the board.
func (a *VoodooSpark) Disconnect(ctx context.Context) error {
	a.tasks.close()
	a.mutex.Lock()
	board := a.board
	a.board = nil
	a.mutex.Unlock()
	a.emitter.Close()
	if board == nil {
		return nil
	}
	if err := board.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close board")
		return maskAny(err)
	}
	a.log.Debug().Msg("Disconnected")
	return nil
}

// DigitalRead samples the digital value of the pin.
func (a *VoodooSpark) DigitalRead(ctx context.Context, pin string, cb ReadFunc) error {
	return a.read(ctx, "digitalread", pin, PinModeInput, Board.DigitalRead, cb)
}

// AnalogRead samples the analog value of the pin.
func (a *VoodooSpark) AnalogRead(ctx context.Context, pin string, cb ReadFunc) error {
	return a.read(ctx, "analogread", pin, PinModeAnalog, Board.AnalogRead, cb)
}

// DigitalWrite writes the value to the pin in output mode.
func (a *VoodooSpark) DigitalWrite(ctx context.Context, pin string, value int) error {
	return a.write("digitalwrite", pin, PinModeOutput, func(b Board, p int) error {
		return b.DigitalWrite(p, value)
	})
}

// AnalogWrite scales the normalized value to 0..255 and writes it
// to the pin in PWM mode.
func (a *VoodooSpark) AnalogWrite(ctx context.Context, pin string, value float64) error {
	scaled := ToScale(value, pwmScale)
	return a.write("analogwrite", pin, PinModePWM, func(b Board, p int) error {
		return b.AnalogWrite(p, scaled)
	})
}

// PwmWrite scales the normalized value to 0..255 and writes it
// to the pin in PWM mode.
func (a *VoodooSpark) PwmWrite(ctx context.Context, pin string, value float64) error {
	scaled := ToScale(value, pwmScale)
	return a.write("pwmwrite", pin, PinModePWM, func(b Board, p int) error {
		return b.AnalogWrite(p, scaled)
	})
}

// ServoWrite scales the normalized value to 0..180 and writes it
// to the pin in servo mode.
func (a *VoodooSpark) ServoWrite(ctx context.Context, pin string, value float64) error {
	scaled := ToScale(value, servoScale)
	return a.write("servowrite", pin, PinModeServo, func(b Board, p int) error {
		return b.ServoWrite(p, scaled)
	})
}

// withBoard calls fn with exclusive access to the board.
func (a *VoodooSpark) withBoard(fn func(Board) error) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.board == nil {
		return maskAny(NotConnectedError)
	}
	return fn(a.board)
}

// write sets the pin mode and performs a single write.
func (a *VoodooSpark) write(op, pin string, mode PinMode, fn func(Board, int) error) error {
	p, err := ParsePin(pin)
	if err != nil {
		return err
	}
	writesTotal.WithLabelValues(VoodooSparkName, op).Inc()
	return a.withBoard(func(b Board) error {
		if err := b.PinMode(p, mode); err != nil {
			return errors.Wrapf(err, "failed to set mode of pin %s", pin)
		}
		return maskAny(fn(b, p))
	})
}

// read sets the pin mode and starts sampling the pin.
func (a *VoodooSpark) read(ctx context.Context, op, pin string, mode PinMode, readFn func(Board, int) (int, error), cb ReadFunc) error {
	p, err := ParsePin(pin)
	if err != nil {
		return err
	}
	if err := a.withBoard(func(b Board) error {
		return b.PinMode(p, mode)
	}); err != nil {
		return err
	}
	pl := poller{
		adaptor:  VoodooSparkName,
		op:       op,
		interval: a.opts.ReadInterval,
		read: func(ctx context.Context) (value int, err error) {
			err = a.withBoard(func(b Board) error {
				value, err = readFn(b, p)
				return err
			})
			return value, err
		},
		onResult: func(value int, err error) {
			if err != nil {
				a.log.Debug().Err(err).Str("pin", pin).Msg("Read failed")
				a.emitter.Emit(events.ErrorEvent, err)
			}
			if cb != nil {
				cb(value, err)
			}
		},
	}
	return a.tasks.Go(ctx, pl.run)
}
