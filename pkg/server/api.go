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

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/cloud"
	"github.com/hybridgroup/cylon-spark/pkg/driver"
	"github.com/hybridgroup/cylon-spark/pkg/service"
	"github.com/hybridgroup/cylon-spark/pkg/status"
)

var (
	invalidArgumentError = errors.New("invalid argument")
)

type deviceResponse struct {
	service.Info
	Core *cloud.Device `json:"core,omitempty"`
}

type readingsResponse struct {
	Readings []status.Reading `json:"readings"`
	Events   []status.Event   `json:"events"`
	Errors   int              `json:"errors"`
}

type writeRequest struct {
	Value *float64 `json:"value"`
}

type functionRequest struct {
	Args []string `json:"args"`
}

type functionResponse struct {
	ReturnValue int `json:"return_value"`
}

type variableResponse struct {
	Name   string      `json:"name"`
	Result interface{} `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GET /api/v1/device
func (s *Server) getDevice(c echo.Context) error {
	resp := deviceResponse{Info: s.service.Info()}
	if core, err := s.service.Driver().Core(); err == nil {
		resp.Core = &core
	} else if !driver.IsNotSupported(err) && !adaptors.IsNotConnected(err) {
		return s.sendError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /api/v1/commands
func (s *Server) getCommands(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"commands": s.service.Driver().Commands(),
	})
}

// GET /api/v1/readings
func (s *Server) getReadings(c echo.Context) error {
	store := s.service.Store()
	return c.JSON(http.StatusOK, readingsResponse{
		Readings: store.Readings(),
		Events:   store.Events(),
		Errors:   store.ErrorCount(),
	})
}

// PUT /api/v1/pins/:pin/:mode
func (s *Server) writePin(c echo.Context) error {
	ctx := c.Request().Context()
	pin := c.Param("pin")
	var req writeRequest
	if err := c.Bind(&req); err != nil {
		return s.sendError(c, errors.Wrapf(invalidArgumentError, "invalid body: %s", err))
	}
	if req.Value == nil {
		return s.sendError(c, errors.Wrap(invalidArgumentError, "value is required"))
	}
	value := *req.Value
	d := s.service.Driver()
	var err error
	switch mode := c.Param("mode"); mode {
	case "digital":
		err = d.DigitalWrite(ctx, pin, int(value))
	case "analog":
		err = d.AnalogWrite(ctx, pin, value)
	case "pwm":
		err = d.PwmWrite(ctx, pin, value)
	case "servo":
		err = d.ServoWrite(ctx, pin, value)
	default:
		err = errors.Wrapf(invalidArgumentError, "unknown write mode '%s'", mode)
	}
	if err != nil {
		return s.sendError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /api/v1/functions/:name
func (s *Server) callFunction(c echo.Context) error {
	var req functionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return s.sendError(c, errors.Wrapf(invalidArgumentError, "invalid body: %s", err))
		}
	}
	result, err := s.service.Driver().CallFunction(c.Request().Context(), c.Param("name"), req.Args)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(http.StatusOK, functionResponse{ReturnValue: result})
}

// GET /api/v1/variables/:name
func (s *Server) getVariable(c echo.Context) error {
	name := c.Param("name")
	result, err := s.service.Driver().GetVariable(c.Request().Context(), name)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(http.StatusOK, variableResponse{Name: name, Result: result})
}

// sendError maps the error onto a status code and sends it as JSON.
func (s *Server) sendError(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Cause(err) == invalidArgumentError, adaptors.IsInvalidPin(err):
		code = http.StatusBadRequest
	case driver.IsNotSupported(err):
		code = http.StatusNotImplemented
	case cloud.IsAPIError(err):
		code = http.StatusBadGateway
	}
	s.log.Debug().Err(err).
		Str("path", c.Path()).
		Int("status", code).
		Msg("Request failed")
	return c.JSON(code, errorResponse{Error: err.Error()})
}
