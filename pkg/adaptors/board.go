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
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"gobot.io/x/gobot/v2/platforms/firmata/client"
)

// PinMode is the mode of a board pin.
type PinMode int

const (
	PinModeInput  PinMode = client.Input
	PinModeOutput PinMode = client.Output
	PinModeAnalog PinMode = client.Analog
	PinModePWM    PinMode = client.Pwm
	PinModeServo  PinMode = client.Servo
)

// Board is a local connection to the pins of a core.
type Board interface {
	// PinMode sets the mode of a pin.
	PinMode(pin int, mode PinMode) error
	// DigitalRead returns the last reported digital value of a pin.
	DigitalRead(pin int) (int, error)
	// AnalogRead returns the last reported analog value of a pin.
	AnalogRead(pin int) (int, error)
	DigitalWrite(pin, value int) error
	AnalogWrite(pin, value int) error
	ServoWrite(pin, value int) error
	// Close the connection.
	Close() error
}

// BoardDialer opens a board at the given address.
type BoardDialer func(ctx context.Context, address string) (Board, error)

// DialFirmataBoard opens a TCP connection to the given address and
// starts a firmata session on it.
func DialFirmataBoard(ctx context.Context, address string) (Board, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial board at %s", address)
	}
	return NewFirmataBoard(conn)
}

// NewFirmataBoard starts a firmata session on the given connection.
func NewFirmataBoard(conn io.ReadWriteCloser) (Board, error) {
	c := client.New()
	if err := c.Connect(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "firmata handshake failed")
	}
	// The pin table is complete once the handshake is done.
	pins := c.Pins()
	channels := make([]int, len(pins))
	for i := range pins {
		channels[i] = pins[i].AnalogChannel
	}
	return &firmataBoard{
		client:    c,
		channels:  channels,
		reporting: make(map[int]PinMode),
		listening: make(map[string]bool),
		values:    make(map[int]int),
	}, nil
}

const (
	// noAnalogChannel is the channel of pins without analog input.
	noAnalogChannel = 127
	// maxChannel is the highest pin or channel number a firmata
	// message can carry in its command byte.
	maxChannel = 15
)

// firmataBoard implements Board on top of a firmata client.
// Values are taken from the reports of the client, never from its pin
// table, which the client updates without locking.
type firmataBoard struct {
	client   *client.Client
	channels []int

	mutex     sync.Mutex
	reporting map[int]PinMode
	listening map[string]bool
	values    map[int]int
}

// PinMode sets the mode of a pin and enables value reporting for input modes.
func (b *firmataBoard) PinMode(pin int, mode PinMode) error {
	if err := b.checkPin(pin); err != nil {
		return err
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if current, found := b.reporting[pin]; found && current == mode {
		return nil
	}
	channel := b.channels[pin]
	if mode == PinModeAnalog {
		if channel < 0 || channel == noAnalogChannel {
			channel = pin
		}
		if channel > maxChannel {
			return errors.Wrapf(InvalidPinError, "pin %d has no analog channel", pin)
		}
	}
	if err := b.client.SetPinMode(pin, int(mode)); err != nil {
		return maskAny(err)
	}
	switch mode {
	case PinModeInput:
		// Digital reporting is enabled per port of 8 pins
		if err := b.client.ReportDigital(pin/8, 1); err != nil {
			return maskAny(err)
		}
		if err := b.listen(fmt.Sprintf("DigitalRead%d", pin), pin); err != nil {
			return err
		}
	case PinModeAnalog:
		if err := b.client.ReportAnalog(channel, 1); err != nil {
			return maskAny(err)
		}
		if err := b.listen(fmt.Sprintf("AnalogRead%d", channel), pin); err != nil {
			return err
		}
	}
	b.reporting[pin] = mode
	return nil
}

func (b *firmataBoard) DigitalRead(pin int) (int, error) {
	return b.value(pin)
}

func (b *firmataBoard) AnalogRead(pin int) (int, error) {
	return b.value(pin)
}

func (b *firmataBoard) DigitalWrite(pin, value int) error {
	if err := b.checkPin(pin); err != nil {
		return err
	}
	// The client sends the whole port and reads all 8 of its pins
	if (pin/8)*8+8 > len(b.channels) {
		return errors.Wrapf(InvalidPinError, "pin %d is not in a complete port", pin)
	}
	return maskAny(b.client.DigitalWrite(pin, value))
}

func (b *firmataBoard) AnalogWrite(pin, value int) error {
	if err := b.checkChannel(pin); err != nil {
		return err
	}
	return maskAny(b.client.AnalogWrite(pin, value))
}

// ServoWrite sends the angle as analog message, which is what firmata
// expects for pins in servo mode.
func (b *firmataBoard) ServoWrite(pin, value int) error {
	if err := b.checkChannel(pin); err != nil {
		return err
	}
	return maskAny(b.client.AnalogWrite(pin, value))
}

func (b *firmataBoard) Close() error {
	return maskAny(b.client.Disconnect())
}

// listen stores reported values of the given event as values of pin.
// Must be called with the mutex held.
func (b *firmataBoard) listen(event string, pin int) error {
	if b.listening[event] {
		return nil
	}
	if err := b.client.On(event, func(data interface{}) {
		if v, ok := data.(int); ok {
			b.mutex.Lock()
			defer b.mutex.Unlock()
			b.values[pin] = v
		}
	}); err != nil {
		return maskAny(err)
	}
	b.listening[event] = true
	return nil
}

// value returns the last reported value of a pin.
func (b *firmataBoard) value(pin int) (int, error) {
	if err := b.checkPin(pin); err != nil {
		return 0, err
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.values[pin], nil
}

func (b *firmataBoard) checkPin(pin int) error {
	if pin < 0 || pin >= len(b.channels) {
		return errors.Wrapf(InvalidPinError, "board has no pin %d", pin)
	}
	return nil
}

// checkChannel verifies the pin fits in an analog message.
func (b *firmataBoard) checkChannel(pin int) error {
	if err := b.checkPin(pin); err != nil {
		return err
	}
	if pin > maxChannel {
		return errors.Wrapf(InvalidPinError, "pin %d cannot be written as analog", pin)
	}
	return nil
}
