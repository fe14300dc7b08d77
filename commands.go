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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/cloud"
	"github.com/hybridgroup/cylon-spark/pkg/config"
	"github.com/hybridgroup/cylon-spark/pkg/driver"
)

var (
	callCmd = &cobra.Command{
		Use:   "call <function> [args...]",
		Short: "Call a function on the core",
		Args:  cobra.MinimumNArgs(1),
		RunE:  cmdCallRun,
	}
	variableCmd = &cobra.Command{
		Use:   "variable <name>",
		Short: "Get the value of a variable of the core",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdVariableRun,
	}
	eventsCmd = &cobra.Command{
		Use:   "events [name]",
		Short: "Print events published by the core until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE:  cmdEventsRun,
	}
	writeCmd = &cobra.Command{
		Use:   "write <pin> <digital|analog|pwm|servo> <value>",
		Short: "Write a value to a pin",
		Args:  cobra.ExactArgs(3),
		RunE:  cmdWriteRun,
	}
	readCmd = &cobra.Command{
		Use:   "read <pin>",
		Short: "Read a pin repeatedly",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdReadRun,
	}
	readArgs struct {
		mode  string
		count int
	}

	writeModes = []string{"digital", "analog", "pwm", "servo"}
)

func init() {
	readCmd.Flags().StringVarP(&readArgs.mode, "mode", "m", config.ModeDigital, "Read mode (digital|analog)")
	readCmd.Flags().IntVarP(&readArgs.count, "count", "n", 1, "Number of readings to print (0 means until interrupted)")

	rootCmd.AddCommand(callCmd, variableCmd, eventsCmd, writeCmd, readCmd)
}

// withDriver connects an adaptor for the configuration, runs the given
// function on a started driver and disconnects afterwards.
func withDriver(cmd *cobra.Command, fn func(ctx context.Context, d *driver.Driver) error) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx, cancel := contextWithSignals(logger)
	defer cancel()

	adaptor, err := newAdaptor(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create adaptor")
	}
	if err := adaptor.Connect(ctx); err != nil {
		return errors.Wrapf(err, "failed to connect to %s", adaptor.Name())
	}
	defer func() {
		if err := adaptor.Disconnect(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Failed to disconnect")
		}
	}()
	d := driver.New(adaptor, logger)
	if err := d.Start(ctx); err != nil {
		return maskAny(err)
	}
	defer d.Halt(context.Background())
	return fn(ctx, d)
}

// Call a function
func cmdCallRun(cmd *cobra.Command, args []string) error {
	return withDriver(cmd, func(ctx context.Context, d *driver.Driver) error {
		result, err := d.CallFunction(ctx, args[0], args[1:])
		if err != nil {
			return errors.Wrapf(err, "failed to call %s", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	})
}

// Get a variable
func cmdVariableRun(cmd *cobra.Command, args []string) error {
	return withDriver(cmd, func(ctx context.Context, d *driver.Driver) error {
		result, err := d.GetVariable(ctx, args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to get variable %s", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	})
}

// Print events
func cmdEventsRun(cmd *cobra.Command, args []string) error {
	var name string
	if len(args) > 0 {
		name = args[0]
	}
	return withDriver(cmd, func(ctx context.Context, d *driver.Driver) error {
		return printEvents(ctx, d, name, cmd.OutOrStdout())
	})
}

// printEvents writes events with given name to out until the context is
// canceled or the event stream fails. An empty name prints all events.
func printEvents(ctx context.Context, d *driver.Driver, name string, out io.Writer) error {
	errs := make(chan error, 1)
	var mutex sync.Mutex
	if err := d.OnEvent(ctx, name, func(ev cloud.Event, err error) {
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		mutex.Lock()
		defer mutex.Unlock()
		fmt.Fprintf(out, "%s\t%s\t%s\n", ev.PublishedAt.Format("2006-01-02T15:04:05Z07:00"), ev.Name, ev.Data)
	}); err != nil {
		return maskAny(err)
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return errors.Wrap(err, "event stream failed")
	}
}

// Write a pin
func cmdWriteRun(cmd *cobra.Command, args []string) error {
	pin, mode := args[0], strings.ToLower(args[1])
	write, err := writerFor(mode)
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return errors.Wrapf(err, "invalid value '%s'", args[2])
	}
	return withDriver(cmd, func(ctx context.Context, d *driver.Driver) error {
		if err := write(d, ctx, pin, value); err != nil {
			return errors.Wrapf(err, "failed to write pin %s", pin)
		}
		return nil
	})
}

type pinWriter func(d *driver.Driver, ctx context.Context, pin string, value float64) error

// writerFor returns the write operation for the given mode.
func writerFor(mode string) (pinWriter, error) {
	switch mode {
	case "digital":
		return func(d *driver.Driver, ctx context.Context, pin string, value float64) error {
			return d.DigitalWrite(ctx, pin, int(value))
		}, nil
	case "analog":
		return (*driver.Driver).AnalogWrite, nil
	case "pwm":
		return (*driver.Driver).PwmWrite, nil
	case "servo":
		return (*driver.Driver).ServoWrite, nil
	default:
		return nil, errors.Errorf("unknown write mode '%s' (expected one of %v)", mode, writeModes)
	}
}

// Read a pin
func cmdReadRun(cmd *cobra.Command, args []string) error {
	pin := args[0]
	if readArgs.mode != config.ModeDigital && readArgs.mode != config.ModeAnalog {
		return errors.Errorf("unknown read mode '%s'", readArgs.mode)
	}
	return withDriver(cmd, func(ctx context.Context, d *driver.Driver) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var mutex sync.Mutex
		printed := 0
		out := cmd.OutOrStdout()
		cb := func(value int, err error) {
			mutex.Lock()
			defer mutex.Unlock()
			if readArgs.count > 0 && printed >= readArgs.count {
				return
			}
			printed++
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", pin, err)
			} else {
				fmt.Fprintf(out, "%s\t%d\n", pin, value)
			}
			if readArgs.count > 0 && printed >= readArgs.count {
				cancel()
			}
		}
		read := d.DigitalRead
		if readArgs.mode == config.ModeAnalog {
			read = d.AnalogRead
		}
		if err := read(ctx, pin, adaptors.ReadFunc(cb)); err != nil {
			return maskAny(err)
		}
		<-ctx.Done()
		return nil
	})
}
