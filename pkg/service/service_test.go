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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/cloud"
	"github.com/hybridgroup/cylon-spark/pkg/config"
	"github.com/hybridgroup/cylon-spark/pkg/events"
	"github.com/hybridgroup/cylon-spark/pkg/status"
)

// fakeAdaptor is a cloud adaptor that keeps the callbacks it is given.
type fakeAdaptor struct {
	emitter    *events.Emitter
	connectErr error

	mutex        sync.Mutex
	connected    bool
	disconnected bool
	reads        map[string]adaptors.ReadFunc
	subscribed   map[string]adaptors.EventFunc
	writes       []string
}

func newFakeAdaptor() *fakeAdaptor {
	return &fakeAdaptor{
		emitter:    events.NewEmitter(),
		reads:      make(map[string]adaptors.ReadFunc),
		subscribed: make(map[string]adaptors.EventFunc),
	}
}

func (a *fakeAdaptor) Name() string { return "fake" }
func (a *fakeAdaptor) Connect(ctx context.Context) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.connectErr != nil {
		a.emitter.Emit(events.ErrorEvent, a.connectErr)
		return a.connectErr
	}
	a.connected = true
	return nil
}
func (a *fakeAdaptor) Disconnect(ctx context.Context) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.disconnected = true
	return nil
}
func (a *fakeAdaptor) Commands() []string      { return []string{"digitalRead", "digitalWrite"} }
func (a *fakeAdaptor) Events() *events.Emitter { return a.emitter }
func (a *fakeAdaptor) DigitalRead(ctx context.Context, pin string, cb adaptors.ReadFunc) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.reads["digital:"+pin] = cb
	return nil
}
func (a *fakeAdaptor) AnalogRead(ctx context.Context, pin string, cb adaptors.ReadFunc) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.reads["analog:"+pin] = cb
	return nil
}
func (a *fakeAdaptor) DigitalWrite(ctx context.Context, pin string, value int) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.writes = append(a.writes, pin)
	return nil
}
func (a *fakeAdaptor) AnalogWrite(ctx context.Context, pin string, value float64) error { return nil }
func (a *fakeAdaptor) PwmWrite(ctx context.Context, pin string, value float64) error    { return nil }
func (a *fakeAdaptor) ServoWrite(ctx context.Context, pin string, value float64) error  { return nil }
func (a *fakeAdaptor) CallFunction(ctx context.Context, name string, args []string) (int, error) {
	return 0, nil
}
func (a *fakeAdaptor) Command(ctx context.Context, name string, args []string) (int, error) {
	return 0, nil
}
func (a *fakeAdaptor) GetVariable(ctx context.Context, name string) (interface{}, error) {
	return nil, nil
}
func (a *fakeAdaptor) Variable(ctx context.Context, name string) (interface{}, error) {
	return nil, nil
}
func (a *fakeAdaptor) OnEvent(ctx context.Context, name string, cb adaptors.EventFunc) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.subscribed[name] = cb
	return nil
}
func (a *fakeAdaptor) CoreAttrs() (cloud.Device, error) { return cloud.Device{ID: "core1"}, nil }

func (a *fakeAdaptor) read(key string) adaptors.ReadFunc {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.reads[key]
}

func (a *fakeAdaptor) event(name string) adaptors.EventFunc {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.subscribed[name]
}

func (a *fakeAdaptor) isDisconnected() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.disconnected
}

// fakeForwarder records that it ran.
type fakeForwarder struct {
	started chan adaptors.PinIO
}

func (f *fakeForwarder) Run(ctx context.Context, pins adaptors.PinIO) error {
	f.started <- pins
	<-ctx.Done()
	return nil
}

func newTestService(t *testing.T, a *fakeAdaptor, forwarders ...Forwarder) Service {
	svc, err := NewService(Config{
		DeviceID: "core1",
		Reads: []config.ReadConfig{
			{Pin: "D4", Mode: config.ModeDigital},
			{Pin: "A0", Mode: config.ModeAnalog},
		},
		Events: []string{"motion"},
	}, Dependencies{
		Logger:     zerolog.Nop(),
		Adaptor:    a,
		Store:      status.NewStore(10),
		Forwarders: forwarders,
	})
	require.NoError(t, err)
	return svc
}

func TestServiceRun(t *testing.T) {
	a := newFakeAdaptor()
	fwd := &fakeForwarder{started: make(chan adaptors.PinIO, 1)}
	svc := newTestService(t, a, fwd)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.read("digital:D4") != nil && a.read("analog:A0") != nil && a.event("motion") != nil
	}, time.Second, time.Millisecond*5)
	select {
	case pins := <-fwd.started:
		assert.NotNil(t, pins)
	case <-time.After(time.Second):
		t.Fatal("forwarder not started")
	}
	assert.True(t, svc.Info().Connected)
	assert.Equal(t, "fake", svc.Info().Adaptor)

	a.read("digital:D4")(1, nil)
	a.read("analog:A0")(0, errors.New("timeout"))
	a.event("motion")(cloud.Event{Name: "motion", Data: "detected", CoreID: "core1"}, nil)
	a.emitter.Emit(events.ErrorEvent, errors.New("boom"))

	store := svc.Store()
	r, found := store.Reading("D4")
	require.True(t, found)
	assert.Equal(t, 1, r.Value)
	assert.Equal(t, config.ModeDigital, r.Mode)
	r, found = store.Reading("A0")
	require.True(t, found)
	assert.Equal(t, "timeout", r.Error)
	require.Len(t, store.Events(), 1)
	assert.Equal(t, "detected", store.Events()[0].Data)
	require.Eventually(t, func() bool { return store.ErrorCount() == 2 }, time.Second, time.Millisecond*5)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, a.isDisconnected())
	assert.False(t, svc.Info().Connected)
}

func TestServiceConnectFailure(t *testing.T) {
	a := newFakeAdaptor()
	a.connectErr = errors.New("login failed")
	svc := newTestService(t, a)

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
	assert.False(t, a.isDisconnected())

	// The error emitted while connecting is counted.
	require.Eventually(t, func() bool { return svc.Store().ErrorCount() == 1 }, time.Second, time.Millisecond*5)
}

func TestNewServiceRequiresAdaptor(t *testing.T) {
	_, err := NewService(Config{}, Dependencies{Store: status.NewStore(1)})
	assert.Error(t, err)
	_, err = NewService(Config{}, Dependencies{Adaptor: newFakeAdaptor()})
	assert.Error(t, err)
}

// flakyForwarder fails a number of times before running until cancelled.
type flakyForwarder struct {
	failures int32
	runs     atomic.Int32
}

func (f *flakyForwarder) Run(ctx context.Context, pins adaptors.PinIO) error {
	if f.runs.Add(1) <= f.failures {
		return errors.New("broker unavailable")
	}
	<-ctx.Done()
	return nil
}

func TestServiceRestartsFailedForwarder(t *testing.T) {
	a := newFakeAdaptor()
	fwd := &flakyForwarder{failures: 2}
	svc := newTestService(t, a, fwd)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return fwd.runs.Load() == 3 }, time.Second*2, time.Millisecond*5)
	assert.True(t, svc.Info().Connected)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}
