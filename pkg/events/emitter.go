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

package events

import (
	"sync"
	"time"

	"github.com/mattn/go-pubsub"
)

const (
	// AllEvents is the name used to listen for every event.
	AllEvents = "*"
	// ErrorEvent is the name of events that carry an error.
	ErrorEvent = "error"
)

// Event is a single event emitted on an Emitter.
type Event struct {
	Name string
	Data interface{}
	Time time.Time
}

// Emitter re-emits events to local listeners.
// Delivery is asynchronous; listeners must not assume ordering.
type Emitter struct {
	mutex     sync.Mutex
	listeners map[uint64]listener
	lastID    uint64

	// psMutex guards publishing against Close
	psMutex sync.RWMutex
	ps      *pubsub.PubSub
	closed  bool
}

type listener struct {
	name string
	fn   func(Event)
}

// drained is published once on Close. Its delivery proves the
// dispatcher has stopped reading its subscriber list.
type drained struct {
	done chan struct{}
}

// NewEmitter creates a new Emitter.
func NewEmitter() *Emitter {
	e := &Emitter{
		ps:        pubsub.New(),
		listeners: make(map[uint64]listener),
	}
	if err := e.ps.Sub(e.dispatch); err != nil {
		panic(err)
	}
	if err := e.ps.Sub(func(d drained) { close(d.done) }); err != nil {
		panic(err)
	}
	return e
}

// Emit an event with given name and data.
// Events emitted after Close are dropped.
func (e *Emitter) Emit(name string, data interface{}) {
	e.psMutex.RLock()
	defer e.psMutex.RUnlock()

	if e.closed {
		return
	}
	e.ps.Pub(Event{
		Name: name,
		Data: data,
		Time: time.Now(),
	})
}

// On registers a listener for events with given name.
// Use AllEvents to receive every event.
// The returned function removes the listener.
func (e *Emitter) On(name string, fn func(Event)) func() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.lastID++
	id := e.lastID
	e.listeners[id] = listener{name: name, fn: fn}
	return func() {
		e.mutex.Lock()
		defer e.mutex.Unlock()
		delete(e.listeners, id)
	}
}

// ListenerCount returns the number of registered listeners.
func (e *Emitter) ListenerCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.listeners)
}

// Close the emitter.
func (e *Emitter) Close() {
	e.psMutex.Lock()
	defer e.psMutex.Unlock()

	if !e.closed {
		e.closed = true
		d := drained{done: make(chan struct{})}
		e.ps.Pub(d)
		<-d.done
		e.ps.Close()
	}
}

// dispatch an event to all matching listeners.
func (e *Emitter) dispatch(ev Event) {
	e.mutex.Lock()
	var targets []func(Event)
	for _, l := range e.listeners {
		if l.name == ev.Name || l.name == AllEvents {
			targets = append(targets, l.fn)
		}
	}
	e.mutex.Unlock()

	for _, fn := range targets {
		func() {
			// A failing listener must not take others down
			defer func() { recover() }()
			fn(ev)
		}()
	}
}
