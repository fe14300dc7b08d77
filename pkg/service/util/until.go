// Copyright 2021 Ewout Prangsma
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

package util

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Retry delays of UntilCanceled.
type Retry struct {
	// Delay after a successful run
	MinDelay time.Duration
	// Upper limit of the delay after consecutive failures
	MaxDelay time.Duration
}

// DefaultRetry grows the delay from 10ms up to 5s.
var DefaultRetry = Retry{
	MinDelay: time.Millisecond * 10,
	MaxDelay: time.Second * 5,
}

// UntilCanceled continues to call the given callback
// until the given context is canceled.
// The number of failed calls is passed to onFailure (when not nil).
func UntilCanceled(ctx context.Context, log zerolog.Logger, description string, retry Retry, cb func(context.Context) error, onFailure func(failures int)) {
	delay := retry.MinDelay
	failures := 0
	for {
		if ctx.Err() != nil {
			// Context canceled
			return
		}
		if err := cb(ctx); err != nil && ctx.Err() == nil {
			failures++
			log.Warn().Err(err).Int("failures", failures).Msgf("%s failed", description)
			if onFailure != nil {
				onFailure(failures)
			}
			delay = time.Duration(float64(delay) * 1.5)
			if delay > retry.MaxDelay {
				delay = retry.MaxDelay
			}
		} else {
			failures = 0
			delay = retry.MinDelay
		}
		select {
		case <-ctx.Done():
			// Context canceled
			log.Info().Msgf("Stopping %s; context canceled", description)
			return
		case <-time.After(delay):
			// Continue
		}
	}
}
