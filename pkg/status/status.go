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

package status

import (
	"sort"
	"sync"
	"time"

	"github.com/mattn/go-pubsub"
	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned when subscribing to a closed store.
	ErrClosed = errors.New("store closed")
	maskAny   = errors.WithStack
)

// Reading is the last result of a continuous read of a pin.
type Reading struct {
	Pin       string    `json:"pin"`
	Mode      string    `json:"mode"`
	Value     int       `json:"value"`
	Error     string    `json:"error,omitempty"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a device event as recorded in the event log.
type Event struct {
	Name        string    `json:"name"`
	Data        string    `json:"data"`
	CoreID      string    `json:"coreid,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Store keeps the last reading per pin and a bounded log of events.
type Store struct {
	mutex     sync.RWMutex
	readings  map[string]Reading
	events    []Event
	maxEvents int
	errors    int

	psMutex sync.Mutex
	ps      *pubsub.PubSub
	closed  bool
}

// NewStore creates a store that keeps at most maxEvents events.
func NewStore(maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	s := &Store{
		readings:  make(map[string]Reading),
		maxEvents: maxEvents,
		ps:        pubsub.New(),
	}
	if err := s.ps.Sub(func(d drained) { close(d.done) }); err != nil {
		panic(err)
	}
	return s
}

// drained is published once on Close. Its delivery proves the
// dispatcher has stopped reading its subscriber list.
type drained struct {
	done chan struct{}
}

// RecordReading stores the result of a read.
// A failed read keeps the previous value.
func (s *Store) RecordReading(pin, mode string, value int, err error) Reading {
	s.mutex.Lock()
	r := s.readings[pin]
	r.Pin = pin
	r.Mode = mode
	r.Count++
	r.UpdatedAt = time.Now()
	if err != nil {
		r.Error = err.Error()
		s.errors++
	} else {
		r.Value = value
		r.Error = ""
	}
	s.readings[pin] = r
	s.mutex.Unlock()
	s.publish(r)
	return r
}

// RecordEvent appends an event to the log, dropping the oldest
// event when the log is full.
func (s *Store) RecordEvent(ev Event) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	s.mutex.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.maxEvents {
		s.events = append([]Event(nil), s.events[len(s.events)-s.maxEvents:]...)
	}
	s.mutex.Unlock()
	s.publish(ev)
}

// RecordError counts an error reported by the adaptor.
func (s *Store) RecordError() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.errors++
}

// Readings returns all readings sorted by pin.
func (s *Store) Readings() []Reading {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result := make([]Reading, 0, len(s.readings))
	for _, r := range s.readings {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Pin < result[j].Pin })
	return result
}

// Reading returns the reading of the given pin.
func (s *Store) Reading(pin string) (Reading, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	r, found := s.readings[pin]
	return r, found
}

// Events returns the event log, oldest first.
func (s *Store) Events() []Event {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]Event(nil), s.events...)
}

// ErrorCount returns the number of errors seen.
func (s *Store) ErrorCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.errors
}

// SubscribeReadings calls fn for every recorded reading.
// Delivery is asynchronous and not ordered.
func (s *Store) SubscribeReadings(fn func(Reading)) error {
	return s.subscribe(fn)
}

// SubscribeEvents calls fn for every recorded event.
// Delivery is asynchronous and not ordered.
func (s *Store) SubscribeEvents(fn func(Event)) error {
	return s.subscribe(fn)
}

func (s *Store) subscribe(fn interface{}) error {
	s.psMutex.Lock()
	defer s.psMutex.Unlock()
	if s.closed {
		return maskAny(ErrClosed)
	}
	if err := s.ps.Sub(fn); err != nil {
		return errors.Wrap(err, "subscribe failed")
	}
	return nil
}

// Close stops delivery to subscribers.
func (s *Store) Close() {
	s.psMutex.Lock()
	defer s.psMutex.Unlock()
	if !s.closed {
		s.closed = true
		d := drained{done: make(chan struct{})}
		s.ps.Pub(d)
		<-d.done
		s.ps.Close()
	}
}

func (s *Store) publish(v interface{}) {
	s.psMutex.Lock()
	defer s.psMutex.Unlock()
	if !s.closed {
		s.ps.Pub(v)
	}
}
