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

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/hybridgroup/cylon-spark/pkg/adaptors"
)

const (
	// Environment variables that override the configuration file.
	EnvDeviceID     = "SPARK_DEVICE_ID"
	EnvAccessToken  = "SPARK_ACCESS_TOKEN"
	EnvAdaptor      = "SPARK_ADAPTOR"
	EnvCloudURL     = "SPARK_CLOUD_URL"
	EnvReadInterval = "SPARK_READ_INTERVAL"

	// Read modes
	ModeDigital = "digital"
	ModeAnalog  = "analog"

	defaultEventLogSize = 100
	defaultHTTPPort     = 7128
	defaultSSHPort      = 7122
	defaultTopicPrefix  = "spark"
)

var (
	// InvalidConfigError is returned for configurations that cannot be used.
	InvalidConfigError = errors.New("invalid configuration")
	IsInvalidConfig    = func(err error) bool { return errors.Cause(err) == InvalidConfigError }
)

// Config of the worker.
type Config struct {
	// Name of the adaptor (spark|voodoospark)
	Adaptor      string        `yaml:"adaptor"`
	DeviceID     string        `yaml:"device_id"`
	AccessToken  string        `yaml:"access_token"`
	CloudURL     string        `yaml:"cloud_url,omitempty"`
	Address      string        `yaml:"address,omitempty"`
	ReadInterval time.Duration `yaml:"read_interval,omitempty"`
	// Pins to read continuously
	Reads []ReadConfig `yaml:"reads,omitempty"`
	// Names of events to subscribe to
	Events       []string     `yaml:"events,omitempty"`
	EventLogSize int          `yaml:"event_log_size,omitempty"`
	MQTT         MQTTConfig   `yaml:"mqtt,omitempty"`
	Server       ServerConfig `yaml:"server,omitempty"`
}

// ReadConfig configures a continuous read of a single pin.
type ReadConfig struct {
	Pin  string `yaml:"pin"`
	Mode string `yaml:"mode"`
}

// MQTTConfig configures the forwarding of readings and events to MQTT.
// Forwarding is disabled when Broker is empty.
type MQTTConfig struct {
	Broker      string `yaml:"broker,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	// Pins that accept digital write commands
	CommandPins []string `yaml:"command_pins,omitempty"`
	// Forward log lines to MQTT
	ForwardLogs bool `yaml:"forward_logs,omitempty"`
}

// ServerConfig configures the HTTP and SSH servers.
// A port of 0 disables the server.
type ServerConfig struct {
	Host           string `yaml:"host,omitempty"`
	HTTPPort       int    `yaml:"http_port,omitempty"`
	SSHPort        int    `yaml:"ssh_port,omitempty"`
	SSHHostKeyPath string `yaml:"ssh_host_key_path,omitempty"`
}

// Default returns a configuration with all defaults filled in.
func Default() Config {
	return Config{
		Adaptor:      adaptors.SparkName,
		ReadInterval: adaptors.DefaultReadInterval,
		EventLogSize: defaultEventLogSize,
		MQTT: MQTTConfig{
			TopicPrefix: defaultTopicPrefix,
		},
		Server: ServerConfig{
			HTTPPort: defaultHTTPPort,
			SSHPort:  defaultSSHPort,
		},
	}
}

// Load the configuration file at the given path on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := cfg.Parse(content); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return cfg, nil
}

// Parse YAML content into the configuration.
// Unknown fields are rejected.
func (c *Config) Parse(content []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.Wrapf(InvalidConfigError, "%s", err)
	}
	return nil
}

// LoadDotEnv loads environment variables from the given files.
// When no files are given, .env is loaded if it exists.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Wrap(err, "failed to load environment files")
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, found := lookup(EnvDeviceID); found && v != "" {
		c.DeviceID = v
	}
	if v, found := lookup(EnvAccessToken); found && v != "" {
		c.AccessToken = v
	}
	if v, found := lookup(EnvAdaptor); found && v != "" {
		c.Adaptor = v
	}
	if v, found := lookup(EnvCloudURL); found && v != "" {
		c.CloudURL = v
	}
	if v, found := lookup(EnvReadInterval); found && v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return errors.Wrapf(InvalidConfigError, "%s: %s", EnvReadInterval, err)
		}
		c.ReadInterval = d
	}
	return nil
}

// Validate the configuration.
func (c Config) Validate() error {
	if !lo.Contains(adaptors.Names, c.Adaptor) {
		return errors.Wrapf(InvalidConfigError, "unknown adaptor '%s' (expected one of %v)", c.Adaptor, adaptors.Names)
	}
	if c.DeviceID == "" {
		return errors.Wrap(InvalidConfigError, "device_id is required")
	}
	if c.AccessToken == "" {
		return errors.Wrap(InvalidConfigError, "access_token is required")
	}
	if c.ReadInterval < 0 {
		return errors.Wrapf(InvalidConfigError, "read_interval must not be negative (got %s)", c.ReadInterval)
	}
	if c.EventLogSize < 0 {
		return errors.Wrapf(InvalidConfigError, "event_log_size must not be negative (got %d)", c.EventLogSize)
	}
	for _, r := range c.Reads {
		if r.Pin == "" {
			return errors.Wrap(InvalidConfigError, "read without pin")
		}
		if r.Mode != ModeDigital && r.Mode != ModeAnalog {
			return errors.Wrapf(InvalidConfigError, "read of pin %s has invalid mode '%s' (expected %s or %s)", r.Pin, r.Mode, ModeDigital, ModeAnalog)
		}
	}
	pins := lo.Map(c.Reads, func(r ReadConfig, _ int) string { return r.Pin })
	if dups := lo.FindDuplicates(pins); len(dups) > 0 {
		return errors.Wrapf(InvalidConfigError, "pin %s is read more than once", dups[0])
	}
	if len(c.Events) > 0 && c.Adaptor != adaptors.SparkName {
		return errors.Wrapf(InvalidConfigError, "events require the %s adaptor", adaptors.SparkName)
	}
	if dups := lo.FindDuplicates(c.Events); len(dups) > 0 {
		return errors.Wrapf(InvalidConfigError, "duplicate event '%s'", dups[0])
	}
	if c.MQTT.Broker == "" && (c.MQTT.ForwardLogs || len(c.MQTT.CommandPins) > 0) {
		return errors.Wrap(InvalidConfigError, "mqtt.broker is required for command pins and log forwarding")
	}
	if err := validatePort("http_port", c.Server.HTTPPort); err != nil {
		return err
	}
	if err := validatePort("ssh_port", c.Server.SSHPort); err != nil {
		return err
	}
	return nil
}

// DeviceOptions returns the options used to create the adaptor.
func (c Config) DeviceOptions() adaptors.DeviceOptions {
	return adaptors.DeviceOptions{
		DeviceID:     c.DeviceID,
		AccessToken:  c.AccessToken,
		ReadInterval: c.ReadInterval,
		Address:      c.Address,
	}
}

func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return errors.Wrapf(InvalidConfigError, "%s out of range (got %d)", name, port)
	}
	return nil
}

// parseInterval accepts a duration ("2s") or a number of milliseconds.
func parseInterval(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval '%s'", v)
	}
	return d, nil
}
