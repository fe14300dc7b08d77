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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRecordReading(t *testing.T) {
	s := NewStore(10)
	defer s.Close()

	s.RecordReading("D4", "digital", 1, nil)
	s.RecordReading("A0", "analog", 512, nil)
	r := s.RecordReading("D4", "digital", 0, errors.New("timeout"))

	assert.Equal(t, 1, r.Value)
	assert.Equal(t, "timeout", r.Error)
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, 1, s.ErrorCount())

	readings := s.Readings()
	require.Len(t, readings, 2)
	assert.Equal(t, "A0", readings[0].Pin)
	assert.Equal(t, 512, readings[0].Value)
	assert.Equal(t, "D4", readings[1].Pin)

	r = s.RecordReading("D4", "digital", 0, nil)
	assert.Equal(t, 0, r.Value)
	assert.Empty(t, r.Error)

	_, found := s.Reading("D9")
	assert.False(t, found)
}

func TestEventLogIsBounded(t *testing.T) {
	s := NewStore(3)
	defer s.Close()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		s.RecordEvent(Event{Name: name})
	}
	events := s.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].Name)
	assert.Equal(t, "e", events[2].Name)
	assert.False(t, events[0].ReceivedAt.IsZero())
}

func TestSubscribe(t *testing.T) {
	s := NewStore(10)
	defer s.Close()

	readings := make(chan Reading, 1)
	events := make(chan Event, 1)
	require.NoError(t, s.SubscribeReadings(func(r Reading) { readings <- r }))
	require.NoError(t, s.SubscribeEvents(func(ev Event) { events <- ev }))

	s.RecordReading("D1", "digital", 1, nil)
	s.RecordEvent(Event{Name: "motion", Data: "yes"})

	select {
	case r := <-readings:
		assert.Equal(t, "D1", r.Pin)
	case <-time.After(time.Second):
		t.Fatal("no reading delivered")
	}
	select {
	case ev := <-events:
		assert.Equal(t, "motion", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRecordAfterClose(t *testing.T) {
	s := NewStore(10)
	s.Close()
	s.Close()
	s.RecordReading("D1", "digital", 1, nil)
	s.RecordEvent(Event{Name: "motion"})
	assert.Len(t, s.Events(), 1)
}

func TestSubscribeAfterClose(t *testing.T) {
	s := NewStore(10)
	s.Close()
	err := s.SubscribeReadings(func(Reading) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SubscribeEvents(func(Event) {}), ErrClosed)
}

func TestCloseWhileRecording(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := NewStore(5)
		require.NoError(t, s.SubscribeReadings(func(Reading) {}))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s.RecordReading("D1", "digital", j, nil)
				s.RecordEvent(Event{Name: "tick"})
			}
		}()
		s.RecordReading("A0", "analog", i, nil)
		s.Close()
		wg.Wait()
	}
}

func TestCloseStopsDispatcher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewStore(5)
	got := make(chan Reading, 1)
	require.NoError(t, s.SubscribeReadings(func(r Reading) { got <- r }))
	s.RecordReading("D1", "digital", 1, nil)
	<-got
	s.Close()
}
