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
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/status"
)

const (
	mqttPublishTimeout = time.Millisecond * 200
	mqttCommandTimeout = time.Second * 10
	mqttDisconnectMs   = 250
)

// Config of the bridge.
type Config struct {
	// Address (host:port) of the broker
	Broker      string
	TopicPrefix string
	DeviceID    string
	// Pins that accept digital write commands
	CommandPins []string
}

// Dependencies of the bridge.
type Dependencies struct {
	Log   zerolog.Logger
	Store *status.Store
	// NewClient creates the MQTT client. Defaults to the paho client.
	NewClient func(opts *mqttapi.ClientOptions) mqttapi.Client
}

// Bridge forwards readings and events to MQTT and applies digital
// write commands received from MQTT.
type Bridge struct {
	log         zerolog.Logger
	config      Config
	store       *status.Store
	newClient   func(opts *mqttapi.ClientOptions) mqttapi.Client
	topicPrefix string
	clientID    string

	mutex  sync.Mutex
	client mqttapi.Client
	active atomic.Bool

	// stateMutex serializes state publishing per bridge.
	// lastCount holds the count of the last reading published per pin.
	stateMutex sync.Mutex
	lastCount  map[string]int
}

// New creates a new bridge.
func New(cfg Config, deps Dependencies) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("broker address is required")
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("device ID is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	newClient := deps.NewClient
	if newClient == nil {
		newClient = mqttapi.NewClient
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	b := &Bridge{
		log: deps.Log.With().
			Str("component", "mqtt-bridge").
			Str("broker", cfg.Broker).
			Logger(),
		config:      cfg,
		store:       deps.Store,
		newClient:   newClient,
		topicPrefix: prefix + cfg.DeviceID + "/",
		clientID:    fmt.Sprintf("%s-%s", cfg.DeviceID, uuid.NewString()),
		lastCount:   make(map[string]int),
	}
	if err := deps.Store.SubscribeReadings(b.publishReading); err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to readings")
	}
	if err := deps.Store.SubscribeEvents(b.publishEvent); err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to events")
	}
	return b, nil
}

// Run the bridge until the given context is canceled.
func (b *Bridge) Run(ctx context.Context, pins adaptors.PinIO) error {
	log := b.log

	// Prepare MQTT client options
	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + b.config.Broker).
		SetClientID(b.clientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetDefaultPublishHandler(func(c mqttapi.Client, m mqttapi.Message) {
		// Ignore messages when no subscription match
	})

	// Connect client
	client := b.newClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "failed to connect to mqtt")
	}
	defer client.Disconnect(mqttDisconnectMs)

	for _, pin := range b.config.CommandPins {
		pin := pin
		topic := b.commandTopic(pin)
		handler := func(c mqttapi.Client, m mqttapi.Message) {
			b.onCommand(ctx, pins, pin, m)
		}
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "failed to subscribe to '%s'", topic)
		}
	}

	b.mutex.Lock()
	b.client = client
	b.mutex.Unlock()
	b.active.Store(true)
	log.Info().
		Str("topic-prefix", b.topicPrefix).
		Int("command-pins", len(b.config.CommandPins)).
		Msg("MQTT bridge connected")

	<-ctx.Done()

	b.active.Store(false)
	b.mutex.Lock()
	b.client = nil
	b.mutex.Unlock()
	log.Debug().Msg("MQTT bridge stopped")
	return nil
}

// StateTopic returns the topic readings of the given pin are published on.
func (b *Bridge) StateTopic(pin string) string {
	return b.topicPrefix + "pin/" + pin + "/state"
}

// EventTopic returns the topic events with the given name are published on.
func (b *Bridge) EventTopic(name string) string {
	return b.topicPrefix + "event/" + name
}

// LogTopic returns the topic forwarded log lines are published on.
func (b *Bridge) LogTopic() string {
	return b.topicPrefix + "log"
}

// Publish a payload on the given topic.
// Nothing is published while the bridge is not running.
func (b *Bridge) Publish(topic, payload string) {
	b.publish(topic, payload)
}

func (b *Bridge) commandTopic(pin string) string {
	return b.topicPrefix + "pin/" + pin + "/command"
}

// publishReading publishes a successful reading.
// Readings arrive unordered; one older than the last published
// reading of its pin is dropped.
func (b *Bridge) publishReading(r status.Reading) {
	if r.Error != "" {
		return
	}
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()
	if r.Count <= b.lastCount[r.Pin] {
		return
	}
	b.lastCount[r.Pin] = r.Count
	b.publish(b.StateTopic(r.Pin), strconv.Itoa(r.Value))
}

// publishEvent publishes the data of an event.
func (b *Bridge) publishEvent(ev status.Event) {
	b.publish(b.EventTopic(ev.Name), ev.Data)
}

func (b *Bridge) publish(topic, payload string) {
	if !b.active.Load() {
		return
	}
	b.mutex.Lock()
	client := b.client
	b.mutex.Unlock()
	if client == nil {
		return
	}
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		publishFailuresTotal.Inc()
		if topic == b.LogTopic() {
			// Logging this would be forwarded to the same topic
			return
		}
		b.log.Error().Err(token.Error()).
			Str("topic", topic).
			Str("payload", payload).
			Msg("failed to deliver MQTT message in time")
		return
	}
	publishedTotal.Inc()
}

// onCommand applies a digital write command.
func (b *Bridge) onCommand(ctx context.Context, pins adaptors.PinIO, pin string, msg mqttapi.Message) {
	log := b.log.With().Str("pin", pin).Logger()
	value, err := parseBool(string(msg.Payload()))
	if err != nil {
		commandsTotal.WithLabelValues("invalid").Inc()
		log.Warn().Err(err).Msg("Ignoring invalid command")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mqttCommandTimeout)
	defer cancel()
	if err := pins.DigitalWrite(ctx, pin, formatInt(value)); err != nil {
		commandsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("Failed to apply command")
		return
	}
	commandsTotal.WithLabelValues("applied").Inc()
	log.Debug().Bool("value", value).Msg("Applied command")
}

// Parse a string into a bool
func parseBool(str string) (bool, error) {
	str = strings.ToLower(strings.TrimSpace(str))
	switch str {
	case "1", "t", "true", "on", "yes", "high":
		return true, nil
	case "0", "f", "false", "off", "no", "low":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value '%s'", str)
}

// format a bool as digital pin value
func formatInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
