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
	"sync"

	"github.com/hybridgroup/cylon-spark/pkg/cloud"
)

type functionCall struct {
	Name string
	Args string
}

// fakeCloud implements cloud.Client in memory.
type fakeCloud struct {
	mutex        sync.Mutex
	device       cloud.Device
	listErr      error
	getErr       error
	subscribeErr error
	calls        []functionCall
	variables    []string
	listCalls    int
	getCalls     int
	callFunction func(ctx context.Context, name, args string) (int, error)
	variable     func(name string) (interface{}, error)
	events       chan cloud.Event
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		device: cloud.Device{ID: "core1", Name: "fluffy", Connected: true},
		events: make(chan cloud.Event, 8),
	}
}

func (f *fakeCloud) ListDevices(ctx context.Context) ([]cloud.Device, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []cloud.Device{f.device}, nil
}

func (f *fakeCloud) GetDevice(ctx context.Context, deviceID string) (cloud.Device, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return cloud.Device{}, f.getErr
	}
	return f.device, nil
}

func (f *fakeCloud) CallFunction(ctx context.Context, deviceID, name, args string) (int, error) {
	f.mutex.Lock()
	f.calls = append(f.calls, functionCall{Name: name, Args: args})
	fn := f.callFunction
	f.mutex.Unlock()
	if fn != nil {
		return fn(ctx, name, args)
	}
	return 1, nil
}

func (f *fakeCloud) GetVariable(ctx context.Context, deviceID, name string) (interface{}, error) {
	f.mutex.Lock()
	f.variables = append(f.variables, name)
	fn := f.variable
	f.mutex.Unlock()
	if fn != nil {
		return fn(name)
	}
	return 42.0, nil
}

func (f *fakeCloud) Subscribe(ctx context.Context, deviceID, name string, cb func(cloud.Event)) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			if name == "" || ev.Name == name {
				cb(ev)
			}
		}
	}
}

func (f *fakeCloud) Calls() []functionCall {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]functionCall(nil), f.calls...)
}

func (f *fakeCloud) LastCall() functionCall {
	calls := f.Calls()
	if len(calls) == 0 {
		return functionCall{}
	}
	return calls[len(calls)-1]
}

type boardOp struct {
	Op    string
	Pin   int
	Value int
}

// fakeBoard implements Board in memory.
type fakeBoard struct {
	mutex  sync.Mutex
	ops    []boardOp
	values map[int]int
	closed bool
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{values: make(map[int]int)}
}

func (b *fakeBoard) record(op string, pin, value int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.ops = append(b.ops, boardOp{Op: op, Pin: pin, Value: value})
}

func (b *fakeBoard) PinMode(pin int, mode PinMode) error {
	b.record("mode", pin, int(mode))
	return nil
}

func (b *fakeBoard) DigitalRead(pin int) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.values[pin], nil
}

func (b *fakeBoard) AnalogRead(pin int) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.values[pin], nil
}

func (b *fakeBoard) DigitalWrite(pin, value int) error {
	b.record("digital", pin, value)
	return nil
}

func (b *fakeBoard) AnalogWrite(pin, value int) error {
	b.record("analog", pin, value)
	return nil
}

func (b *fakeBoard) ServoWrite(pin, value int) error {
	b.record("servo", pin, value)
	return nil
}

func (b *fakeBoard) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBoard) Ops() []boardOp {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]boardOp(nil), b.ops...)
}

func (b *fakeBoard) set(pin, value int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.values[pin] = value
}
