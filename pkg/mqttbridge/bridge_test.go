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
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/status"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqttapi.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type published struct {
	Topic   string
	Payload string
}

// fakeClient implements the parts of mqttapi.Client used by the bridge.
type fakeClient struct {
	mqttapi.Client
	opts       *mqttapi.ClientOptions
	connectErr error

	mutex        sync.Mutex
	published    []published
	handlers     map[string]mqttapi.MessageHandler
	disconnected bool
}

func (c *fakeClient) Connect() mqttapi.Token { return &fakeToken{err: c.connectErr} }
func (c *fakeClient) Disconnect(quiesce uint) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.disconnected = true
}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttapi.Token {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.published = append(c.published, published{Topic: topic, Payload: payload.(string)})
	return &fakeToken{}
}
func (c *fakeClient) Subscribe(topic string, qos byte, callback mqttapi.MessageHandler) mqttapi.Token {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handlers[topic] = callback
	return &fakeToken{}
}

func (c *fakeClient) Published() []published {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]published(nil), c.published...)
}

func (c *fakeClient) deliver(topic, payload string) {
	c.mutex.Lock()
	h := c.handlers[topic]
	c.mutex.Unlock()
	h(c, &fakeMessage{topic: topic, payload: []byte(payload)})
}

// pinRecorder implements adaptors.PinIO and records digital writes.
type pinRecorder struct {
	adaptors.PinIO
	mutex  sync.Mutex
	writes []string
	err    error
}

func (p *pinRecorder) DigitalWrite(ctx context.Context, pin string, value int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.writes = append(p.writes, pin+"="+map[int]string{0: "0", 1: "1"}[value])
	return p.err
}

func (p *pinRecorder) Writes() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.writes...)
}

func newTestBridge(t *testing.T, store *status.Store, client *fakeClient) *Bridge {
	b, err := New(Config{
		Broker:      "localhost:1883",
		TopicPrefix: "/spark/",
		DeviceID:    "core1",
		CommandPins: []string{"D7"},
	}, Dependencies{
		Log:   zerolog.Nop(),
		Store: store,
		NewClient: func(opts *mqttapi.ClientOptions) mqttapi.Client {
			client.opts = opts
			return client
		},
	})
	require.NoError(t, err)
	return b
}

func startBridge(t *testing.T, b *Bridge, client *fakeClient, pins adaptors.PinIO) (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, pins) }()
	require.Eventually(t, func() bool { return b.active.Load() }, time.Second, time.Millisecond*5)
	return cancel, done
}

func TestBridgePublishes(t *testing.T) {
	store := status.NewStore(10)
	defer store.Close()
	client := &fakeClient{handlers: make(map[string]mqttapi.MessageHandler)}
	b := newTestBridge(t, store, client)
	cancel, done := startBridge(t, b, client, &pinRecorder{})

	assert.Equal(t, "spark/core1/pin/D4/state", b.StateTopic("D4"))
	assert.Equal(t, "spark/core1/event/motion", b.EventTopic("motion"))
	assert.Equal(t, "spark/core1/log", b.LogTopic())
	require.Len(t, client.opts.Servers, 1)
	assert.Equal(t, "localhost:1883", client.opts.Servers[0].Host)
	assert.Contains(t, client.opts.ClientID, "core1-")

	store.RecordReading("D4", "digital", 1, nil)
	store.RecordReading("A0", "analog", 0, errors.New("timeout"))
	store.RecordEvent(status.Event{Name: "motion", Data: "detected"})

	require.Eventually(t, func() bool { return len(client.Published()) == 2 }, time.Second, time.Millisecond*5)
	assert.ElementsMatch(t, []published{
		{"spark/core1/pin/D4/state", "1"},
		{"spark/core1/event/motion", "detected"},
	}, client.Published())

	cancel()
	require.NoError(t, <-done)
	assert.True(t, client.disconnected)

	// Nothing is published after the bridge stopped.
	store.RecordReading("D4", "digital", 0, nil)
	time.Sleep(time.Millisecond * 20)
	assert.Len(t, client.Published(), 2)
}

func TestBridgeCommands(t *testing.T) {
	store := status.NewStore(10)
	defer store.Close()
	client := &fakeClient{handlers: make(map[string]mqttapi.MessageHandler)}
	b := newTestBridge(t, store, client)
	pins := &pinRecorder{}
	cancel, done := startBridge(t, b, client, pins)
	defer func() {
		cancel()
		<-done
	}()

	client.deliver("spark/core1/pin/D7/command", "ON")
	client.deliver("spark/core1/pin/D7/command", "0")
	client.deliver("spark/core1/pin/D7/command", "maybe")

	assert.Equal(t, []string{"D7=1", "D7=0"}, pins.Writes())
}

func TestBridgeConnectFailure(t *testing.T) {
	store := status.NewStore(10)
	defer store.Close()
	client := &fakeClient{
		handlers:   make(map[string]mqttapi.MessageHandler),
		connectErr: errors.New("connection refused"),
	}
	b := newTestBridge(t, store, client)
	err := b.Run(context.Background(), &pinRecorder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBridgePublishesStateInOrder(t *testing.T) {
	store := status.NewStore(10)
	defer store.Close()
	client := &fakeClient{handlers: make(map[string]mqttapi.MessageHandler)}
	b := newTestBridge(t, store, client)
	cancel, done := startBridge(t, b, client, &pinRecorder{})
	defer func() {
		cancel()
		<-done
	}()

	// A stale reading is dropped.
	b.publishReading(status.Reading{Pin: "A1", Value: 30, Count: 3})
	b.publishReading(status.Reading{Pin: "A1", Value: 20, Count: 2})
	assert.Equal(t, []published{{"spark/core1/pin/A1/state", "30"}}, client.Published())

	for i := 1; i <= 20; i++ {
		store.RecordReading("A0", "analog", i, nil)
	}
	topic := b.StateTopic("A0")
	states := func() []int {
		var result []int
		for _, p := range client.Published() {
			if p.Topic == topic {
				v, err := strconv.Atoi(p.Payload)
				require.NoError(t, err)
				result = append(result, v)
			}
		}
		return result
	}
	require.Eventually(t, func() bool {
		s := states()
		return len(s) > 0 && s[len(s)-1] == 20
	}, time.Second, time.Millisecond*5)
	assert.True(t, sort.IntsAreSorted(states()))
	assert.Empty(t, lo.FindDuplicates(states()))
}

func TestNewOnClosedStore(t *testing.T) {
	store := status.NewStore(1)
	store.Close()
	_, err := New(Config{Broker: "localhost:1883", DeviceID: "core1"}, Dependencies{Store: store})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrClosed)
}

func TestNewValidates(t *testing.T) {
	store := status.NewStore(1)
	defer store.Close()
	_, err := New(Config{DeviceID: "core1"}, Dependencies{Store: store})
	assert.Error(t, err)
	_, err = New(Config{Broker: "localhost:1883"}, Dependencies{Store: store})
	assert.Error(t, err)
	_, err = New(Config{Broker: "localhost:1883", DeviceID: "core1"}, Dependencies{})
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"1", "on", "ON", "true", "high"} {
		v, err := parseBool(s)
		require.NoError(t, err, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"0", "off", "OFF", "false", "low"} {
		v, err := parseBool(s)
		require.NoError(t, err, s)
		assert.False(t, v, s)
	}
	_, err := parseBool("maybe")
	assert.Error(t, err)
}
