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

package cloud

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultBaseURL is the address of the public Particle cloud.
	DefaultBaseURL = "https://api.particle.io"

	defaultTimeout               = time.Second * 30
	defaultMaxConcurrentRequests = 4
)

// Config of the cloud client.
type Config struct {
	// Base URL of the cloud API
	BaseURL string
	// Token used to authenticate all requests
	AccessToken string
	// Timeout of a single request (streams excluded)
	Timeout time.Duration
	// Maximum number of requests in flight at the same time
	MaxConcurrentRequests int
}

// Client contains the API of the Particle cloud used by the adaptors.
type Client interface {
	// ListDevices returns all devices the access token has access to.
	ListDevices(ctx context.Context) ([]Device, error)
	// GetDevice returns the attributes of the device with given ID.
	GetDevice(ctx context.Context, deviceID string) (Device, error)
	// CallFunction calls a function on the device and returns its return value.
	CallFunction(ctx context.Context, deviceID, name, args string) (int, error)
	// GetVariable requests the value of a variable of the device.
	GetVariable(ctx context.Context, deviceID, name string) (interface{}, error)
	// Subscribe listens for events with given name published by the device.
	// An empty name listens for all events of the device.
	// It blocks until the stream ends or the context is canceled.
	Subscribe(ctx context.Context, deviceID, name string, cb func(Event)) error
}

type client struct {
	Config
	log  zerolog.Logger
	rest *resty.Client
	sem  *semaphore.Weighted
}

// NewClient creates a new cloud client.
func NewClient(cfg Config, log zerolog.Logger) (Client, error) {
	if cfg.AccessToken == "" {
		return nil, maskAny(NoAccessTokenError)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = defaultMaxConcurrentRequests
	}
	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.AccessToken).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &client{
		Config: cfg,
		log:    log.With().Str("component", "cloud").Logger(),
		rest:   rest,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
	}, nil
}

// ListDevices returns all devices the access token has access to.
func (c *client) ListDevices(ctx context.Context) ([]Device, error) {
	var result []Device
	if err := c.execute(ctx, "list_devices", http.MethodGet, "/v1/devices", nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetDevice returns the attributes of the device with given ID.
func (c *client) GetDevice(ctx context.Context, deviceID string) (Device, error) {
	var result Device
	params := map[string]string{"device": deviceID}
	if err := c.execute(ctx, "get_device", http.MethodGet, "/v1/devices/{device}", params, nil, &result); err != nil {
		return Device{}, err
	}
	return result, nil
}

// CallFunction calls a function on the device and returns its return value.
func (c *client) CallFunction(ctx context.Context, deviceID, name, args string) (int, error) {
	var result functionResult
	params := map[string]string{"device": deviceID, "name": name}
	form := map[string]string{"args": args}
	if err := c.execute(ctx, "call_function", http.MethodPost, "/v1/devices/{device}/{name}", params, form, &result); err != nil {
		return 0, err
	}
	if result.failed() {
		return 0, maskAny(result.asError(http.StatusOK))
	}
	return result.ReturnValue, nil
}

// GetVariable requests the value of a variable of the device.
func (c *client) GetVariable(ctx context.Context, deviceID, name string) (interface{}, error) {
	var result variableResult
	params := map[string]string{"device": deviceID, "name": name}
	if err := c.execute(ctx, "get_variable", http.MethodGet, "/v1/devices/{device}/{name}", params, nil, &result); err != nil {
		return nil, err
	}
	if result.failed() {
		return nil, maskAny(result.asError(http.StatusOK))
	}
	return result.Result, nil
}

// Subscribe listens for events with given name published by the device.
// An empty name listens for all events of the device.
// It blocks until the stream ends or the context is canceled.
func (c *client) Subscribe(ctx context.Context, deviceID, name string, cb func(Event)) error {
	log := c.log.With().Str("device", deviceID).Str("event", name).Logger()
	streamURL := c.BaseURL + "/v1/devices/" + url.PathEscape(deviceID) + "/events"
	if name != "" {
		streamURL += "/" + url.PathEscape(name)
	}
	sc := sse.NewClient(streamURL)
	sc.Headers["Authorization"] = "Bearer " + c.AccessToken
	// The stream is never re-established on its own
	sc.ReconnectStrategy = &backoff.StopBackOff{}

	requestsTotal.WithLabelValues("subscribe").Inc()
	log.Debug().Msg("Subscribing to event stream")
	err := sc.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		evName := string(msg.Event)
		if evName == "" || (name != "" && evName != name) {
			return
		}
		eventsReceivedTotal.WithLabelValues(evName).Inc()
		cb(parseEvent(evName, msg.Data))
	})
	if ctx.Err() != nil {
		log.Debug().Msg("Event stream closed; context canceled")
		return nil
	}
	if err != nil {
		requestErrorsTotal.WithLabelValues("subscribe").Inc()
		return maskAny(err)
	}
	log.Debug().Msg("Event stream ended")
	return nil
}

// execute a single request against the cloud.
func (c *client) execute(ctx context.Context, op, method, path string, params, form map[string]string, result interface{}) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return maskAny(err)
	}
	defer c.sem.Release(1)

	requestsTotal.WithLabelValues(op).Inc()
	start := time.Now()
	var body errorBody
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&body)
	if len(params) > 0 {
		req.SetPathParams(params)
	}
	if form != nil {
		req.SetFormData(form)
	}
	resp, err := req.Execute(method, path)
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		requestErrorsTotal.WithLabelValues(op).Inc()
		c.log.Debug().Err(err).Str("op", op).Msg("Cloud request failed")
		return maskAny(err)
	}
	if resp.IsError() {
		requestErrorsTotal.WithLabelValues(op).Inc()
		apiErr := body.asError(resp.StatusCode())
		c.log.Debug().
			Int("status", resp.StatusCode()).
			Str("op", op).
			Str("message", apiErr.Message).
			Msg("Cloud request returned an error")
		return maskAny(apiErr)
	}
	return nil
}
