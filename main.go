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
	"strings"

	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
	"github.com/hybridgroup/cylon-spark/pkg/config"
	"github.com/hybridgroup/cylon-spark/pkg/logging"
	"github.com/hybridgroup/cylon-spark/pkg/mqttbridge"
	"github.com/hybridgroup/cylon-spark/pkg/server"
	"github.com/hybridgroup/cylon-spark/pkg/service"
	"github.com/hybridgroup/cylon-spark/pkg/status"
	"github.com/hybridgroup/cylon-spark/pkg/ui"
)

const (
	projectName = "Spark Worker"
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
	maskAny        = errors.WithStack

	rootCmd = &cobra.Command{
		Use:           "spark-worker",
		Short:         "Control a Spark core through the cloud or a local connection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the worker until interrupted",
		Args:  cobra.NoArgs,
		RunE:  cmdRunRun,
	}
	rootArgs struct {
		level        string
		configFile   string
		envFiles     []string
		adaptor      string
		deviceID     string
		accessToken  string
		cloudURL     string
		address      string
		readInterval string
	}
	runArgs struct {
		host     string
		httpPort int
		sshPort  int
	}
)

func init() {
	rootCmd.Version = fmt.Sprintf("%s (build %s)", projectVersion, projectBuild)

	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootArgs.level, "level", "l", "info", "Set log level")
	f.StringVarP(&rootArgs.configFile, "config", "c", "", "Path of the YAML configuration file")
	f.StringSliceVar(&rootArgs.envFiles, "env-file", nil, "Environment files to load (defaults to .env when present)")
	f.StringVarP(&rootArgs.adaptor, "adaptor", "a", "", "Adaptor to use ("+strings.Join(adaptors.Names, "|")+")")
	f.StringVar(&rootArgs.deviceID, "device-id", "", "ID of the core")
	f.StringVar(&rootArgs.accessToken, "access-token", "", "Access token of the cloud account")
	f.StringVar(&rootArgs.cloudURL, "cloud-url", "", "Base URL of the cloud API")
	f.StringVar(&rootArgs.address, "address", "", "Local address (host:port) of a voodoospark core")
	f.StringVar(&rootArgs.readInterval, "read-interval", "", "Interval between reads (duration or milliseconds)")

	rf := runCmd.Flags()
	rf.StringVar(&runArgs.host, "host", "0.0.0.0", "Host address the servers will listen on")
	rf.IntVar(&runArgs.httpPort, "http-port", 0, "Port the HTTP server will listen on (overrides config)")
	rf.IntVar(&runArgs.sshPort, "ssh-port", 0, "Port the SSH server will listen on (overrides config)")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		Exitf("%s\n", err)
	}
}

// loadConfig builds the configuration from file, environment and flags.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	if err := config.LoadDotEnv(rootArgs.envFiles...); err != nil {
		return config.Config{}, maskAny(err)
	}
	cfg, err := config.Load(rootArgs.configFile)
	if err != nil {
		return cfg, maskAny(err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, maskAny(err)
	}
	if err := applyFlags(flags, &cfg); err != nil {
		return cfg, maskAny(err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, maskAny(err)
	}
	return cfg, nil
}

// applyFlags overrides the configuration with flags that were set.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	env := make(map[string]string)
	setIfChanged := func(name, key string, value string) {
		if flags.Changed(name) {
			env[key] = value
		}
	}
	setIfChanged("adaptor", config.EnvAdaptor, rootArgs.adaptor)
	setIfChanged("device-id", config.EnvDeviceID, rootArgs.deviceID)
	setIfChanged("access-token", config.EnvAccessToken, rootArgs.accessToken)
	setIfChanged("cloud-url", config.EnvCloudURL, rootArgs.cloudURL)
	setIfChanged("read-interval", config.EnvReadInterval, rootArgs.readInterval)
	if err := cfg.ApplyEnv(func(key string) (string, bool) {
		v, found := env[key]
		return v, found
	}); err != nil {
		return err
	}
	if flags.Changed("address") {
		cfg.Address = rootArgs.address
	}
	if flags.Changed("http-port") {
		cfg.Server.HTTPPort = runArgs.httpPort
	}
	if flags.Changed("ssh-port") {
		cfg.Server.SSHPort = runArgs.sshPort
	}
	return nil
}

// newLogger creates the logger writing to stderr and the given extra outputs.
func newLogger(extra ...io.Writer) zerolog.Logger {
	writers := append([]io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}, extra...)
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(rootArgs.level); err == nil {
		logger = logger.Level(level)
	} else {
		logger.Warn().Str("level", rootArgs.level).Msg("Unknown log level")
	}
	return logger
}

// newAdaptor creates the adaptor for the given configuration.
func newAdaptor(cfg config.Config, log zerolog.Logger) (adaptors.Adaptor, error) {
	return adaptors.New(cfg.Adaptor, cfg.DeviceOptions(), adaptors.Dependencies{
		Log:      log,
		CloudURL: cfg.CloudURL,
	})
}

// contextWithSignals returns a context that is canceled on SIGINT/SIGTERM.
func contextWithSignals(log zerolog.Logger) (context.Context, context.CancelFunc) {
	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		log.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()
	return ctx, cancel
}

// Run the worker
func cmdRunRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") || cfg.Server.Host == "" {
		cfg.Server.Host = runArgs.host
	}

	logCtx, logCancel := context.WithCancel(context.Background())
	defer logCancel()
	logWriter := logging.NewMQTTWriter(logCtx)
	logger := newLogger(logWriter)
	ctx, cancel := contextWithSignals(logger)
	defer cancel()

	adaptor, err := newAdaptor(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create adaptor")
	}
	store := status.NewStore(cfg.EventLogSize)
	defer store.Close()

	var forwarders []service.Forwarder
	if cfg.MQTT.Broker != "" {
		bridge, err := mqttbridge.New(mqttbridge.Config{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			DeviceID:    cfg.DeviceID,
			CommandPins: cfg.MQTT.CommandPins,
		}, mqttbridge.Dependencies{
			Log:   logger,
			Store: store,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create MQTT bridge")
		}
		forwarders = append(forwarders, bridge)
		if cfg.MQTT.ForwardLogs {
			logWriter.SetDestination(bridge.LogTopic(), bridge)
			logWriter.Enable(true)
		}
	}

	svc, err := service.NewService(service.Config{
		DeviceID: cfg.DeviceID,
		Reads:    cfg.Reads,
		Events:   cfg.Events,
	}, service.Dependencies{
		Logger:     logger,
		Adaptor:    adaptor,
		Store:      store,
		Forwarders: forwarders,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize service")
	}

	srv, err := server.New(server.Config{
		Host:           cfg.Server.Host,
		HTTPPort:       cfg.Server.HTTPPort,
		SSHPort:        cfg.Server.SSHPort,
		SSHHostKeyPath: cfg.Server.SSHHostKeyPath,
	}, logger, ui.Handler(svc), svc)
	if err != nil {
		return errors.Wrap(err, "failed to initialize server")
	}

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "worker failed")
	}
	return nil
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
