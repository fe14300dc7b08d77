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
	"sync"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/cloud"
	"github.com/hybridgroup/cylon-spark/pkg/config"
	"github.com/hybridgroup/cylon-spark/pkg/driver"
	"github.com/hybridgroup/cylon-spark/pkg/events"
	"github.com/hybridgroup/cylon-spark/pkg/service/util"
	"github.com/hybridgroup/cylon-spark/pkg/status"
)

// Service runs the worker for a single core.
type Service interface {
	// Run the worker until the given context is cancelled.
	Run(ctx context.Context) error
	// Driver of the core
	Driver() *driver.Driver
	// Store holding the last readings and events
	Store() *status.Store
	// Info about the worker
	Info() Info
}

// Forwarder is run alongside a connected core.
type Forwarder interface {
	Run(ctx context.Context, pins adaptors.PinIO) error
}

// Info describes the worker.
type Info struct {
	DeviceID  string    `json:"device_id"`
	Adaptor   string    `json:"adaptor"`
	Connected bool      `json:"connected"`
	StartedAt time.Time `json:"started_at"`
}

type Config struct {
	DeviceID string
	// Pins to read continuously
	Reads []config.ReadConfig
	// Names of events to subscribe to
	Events []string
	// Delays between restarts of failed forwarders
	Retry util.Retry
}

type Dependencies struct {
	Logger     zerolog.Logger
	Adaptor    adaptors.Adaptor
	Store      *status.Store
	Forwarders []Forwarder
}

type service struct {
	Config
	Dependencies

	driver    *driver.Driver
	startedAt time.Time

	mutex     sync.Mutex
	connected bool
}

// NewService creates a Service instance and returns it.
func NewService(conf Config, deps Dependencies) (Service, error) {
	if deps.Adaptor == nil {
		return nil, errors.New("adaptor is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if conf.Retry.MaxDelay == 0 {
		conf.Retry = util.DefaultRetry
	}
	deps.Logger = deps.Logger.With().
		Str("component", "service").
		Str("device", conf.DeviceID).
		Logger()
	return &service{
		Config:       conf,
		Dependencies: deps,
		driver:       driver.New(deps.Adaptor, deps.Logger),
		startedAt:    time.Now(),
	}, nil
}

func (s *service) Driver() *driver.Driver { return s.driver }
func (s *service) Store() *status.Store { return s.Dependencies.Store }

// Info about the worker
func (s *service) Info() Info {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return Info{
		DeviceID:  s.DeviceID,
		Adaptor:   s.Adaptor.Name(),
		Connected: s.connected,
		StartedAt: s.startedAt,
	}
}

// Run connects the core, starts all configured reads and event
// subscriptions and runs the forwarders until the given context is
// cancelled.
func (s *service) Run(ctx context.Context) error {
	log := s.Logger

	// Errors emitted while connecting are counted too.
	// The listener lives as long as the adaptor's emitter.
	s.Adaptor.Events().On(events.ErrorEvent, func(ev events.Event) {
		adaptorErrorsTotal.Inc()
		s.Dependencies.Store.RecordError()
	})

	log.Info().Str("adaptor", s.Adaptor.Name()).Msg("Connecting core")
	if err := s.Adaptor.Connect(ctx); err != nil {
		return errors.Wrap(err, "failed to connect core")
	}
	s.setConnected(true)
	defer func() {
		if err := s.close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close core cleanly")
		}
	}()

	if err := s.driver.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start driver")
	}
	if err := s.startReads(ctx); err != nil {
		return err
	}
	if err := s.startEvents(ctx); err != nil {
		return err
	}

	// Forwarders are restarted until the context is cancelled
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range s.Forwarders {
		f := f
		g.Go(func() error {
			util.UntilCanceled(ctx, log, "forwarder", s.Retry, func(ctx context.Context) error {
				return f.Run(ctx, s.driver)
			}, func(int) {
				forwarderFailuresTotal.Inc()
			})
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	log.Info().
		Int("reads", len(s.Reads)).
		Int("events", len(s.Events)).
		Msg("Worker running")
	return g.Wait()
}

// startReads starts all configured continuous reads.
func (s *service) startReads(ctx context.Context) error {
	for _, r := range s.Reads {
		r := r
		cb := func(value int, err error) {
			s.onReading(r, value, err)
		}
		var err error
		switch r.Mode {
		case config.ModeDigital:
			err = s.driver.DigitalRead(ctx, r.Pin, cb)
		case config.ModeAnalog:
			err = s.driver.AnalogRead(ctx, r.Pin, cb)
		default:
			err = errors.Errorf("unknown read mode '%s'", r.Mode)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to start %s read of pin %s", r.Mode, r.Pin)
		}
		s.Logger.Debug().Str("pin", r.Pin).Str("mode", r.Mode).Msg("Started read")
	}
	return nil
}

// startEvents starts all configured event subscriptions.
func (s *service) startEvents(ctx context.Context) error {
	for _, name := range s.Events {
		if err := s.driver.OnEvent(ctx, name, s.onEvent); err != nil {
			return errors.Wrapf(err, "failed to subscribe to event %s", name)
		}
		s.Logger.Debug().Str("event", name).Msg("Subscribed to event")
	}
	return nil
}

// onReading is called for every result of a continuous read.
func (s *service) onReading(r config.ReadConfig, value int, err error) {
	readingsTotal.WithLabelValues(r.Pin, r.Mode).Inc()
	if err != nil {
		readingErrorsTotal.WithLabelValues(r.Pin, r.Mode).Inc()
		s.Logger.Debug().Err(err).Str("pin", r.Pin).Msg("Read failed")
	} else {
		readingValueGauge.WithLabelValues(r.Pin, r.Mode).Set(float64(value))
	}
	s.Dependencies.Store.RecordReading(r.Pin, r.Mode, value, err)
}

// onEvent is called for every event published by the core.
func (s *service) onEvent(ev cloud.Event, err error) {
	if err != nil {
		s.Logger.Warn().Err(err).Str("event", ev.Name).Msg("Event subscription failed")
		return
	}
	eventsTotal.WithLabelValues(ev.Name).Inc()
	s.Dependencies.Store.RecordEvent(status.Event{
		Name:        ev.Name,
		Data:        ev.Data,
		CoreID:      ev.CoreID,
		PublishedAt: ev.PublishedAt,
	})
}

// close halts the driver and disconnects the core.
func (s *service) close() error {
	var ae aerr.AggregateError
	ctx := context.Background()
	if err := s.driver.Halt(ctx); err != nil {
		ae.Add(err)
	}
	if err := s.Adaptor.Disconnect(ctx); err != nil {
		ae.Add(err)
	}
	s.setConnected(false)
	s.Logger.Info().Msg("Core disconnected")
	return ae.AsError()
}

func (s *service) setConnected(connected bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.connected = connected
	if connected {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
}
