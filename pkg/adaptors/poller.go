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
	"sync/atomic"
	"time"
)

// poller issues a read every interval.
// A tick that finds the previous request still in flight is skipped.
type poller struct {
	adaptor  string
	op       string
	interval time.Duration
	read     func(ctx context.Context) (int, error)
	onResult ReadFunc
}

// run until the context is canceled.
// The first request is issued immediately.
func (p poller) run(ctx context.Context) {
	var inFlight atomic.Bool
	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		if !inFlight.CompareAndSwap(false, true) {
			readSkippedTotal.WithLabelValues(p.adaptor, p.op).Inc()
			return
		}
		readRequestsTotal.WithLabelValues(p.adaptor, p.op).Inc()
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := p.read(ctx)
			inFlight.Store(false)
			if ctx.Err() != nil {
				// Stopped while the request was running
				return
			}
			if err != nil {
				readErrorsTotal.WithLabelValues(p.adaptor, p.op).Inc()
				value = 0
			}
			if p.onResult != nil {
				p.onResult(value, err)
			}
		}()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
