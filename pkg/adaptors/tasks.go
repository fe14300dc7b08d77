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
)

// taskGroup runs the long lived goroutines (pollers, subscriptions)
// of a connected adaptor.
type taskGroup struct {
	adaptor string

	mutex  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// open the group. Called on connect.
func (g *taskGroup) open() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.ctx == nil {
		g.ctx, g.cancel = context.WithCancel(context.Background())
	}
}

// Go runs fn in a goroutine.
// The context passed to fn is canceled when the given context is
// canceled or the group is closed.
func (g *taskGroup) Go(ctx context.Context, fn func(context.Context)) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.ctx == nil {
		return maskAny(NotConnectedError)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(g.ctx, cancel)
	g.wg.Add(1)
	activeTasksGauge.WithLabelValues(g.adaptor).Inc()
	go func() {
		defer func() {
			stop()
			cancel()
			activeTasksGauge.WithLabelValues(g.adaptor).Dec()
			g.wg.Done()
		}()
		fn(taskCtx)
	}()
	return nil
}

// close cancels all tasks and waits for them to return.
func (g *taskGroup) close() {
	g.mutex.Lock()
	cancel := g.cancel
	g.ctx, g.cancel = nil, nil
	g.mutex.Unlock()
	if cancel != nil {
		cancel()
	}
	g.wg.Wait()
}
