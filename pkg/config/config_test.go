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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
adaptor: spark
device_id: core1
access_token: token
read_interval: 500ms
reads:
  - pin: D4
    mode: digital
  - pin: A0
    mode: analog
events:
  - motion
mqtt:
  broker: localhost:1883
  command_pins: [D7]
  forward_logs: true
server:
  http_port: 8080
`

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, found := m[key]
		return v, found
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "spark", cfg.Adaptor)
	assert.Equal(t, "core1", cfg.DeviceID)
	assert.Equal(t, time.Millisecond*500, cfg.ReadInterval)
	assert.Equal(t, []ReadConfig{{Pin: "D4", Mode: ModeDigital}, {Pin: "A0", Mode: ModeAnalog}}, cfg.Reads)
	assert.Equal(t, []string{"motion"}, cfg.Events)
	assert.Equal(t, "localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, defaultTopicPrefix, cfg.MQTT.TopicPrefix)
	assert.Equal(t, []string{"D7"}, cfg.MQTT.CommandPins)
	assert.True(t, cfg.MQTT.ForwardLogs)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, defaultSSHPort, cfg.Server.SSHPort)
	assert.Equal(t, defaultEventLogSize, cfg.EventLogSize)

	opts := cfg.DeviceOptions()
	assert.Equal(t, "core1", opts.DeviceID)
	assert.Equal(t, "token", opts.AccessToken)
	assert.Equal(t, time.Millisecond*500, opts.ReadInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	cfg := Default()
	err := cfg.Parse([]byte("device_idd: core1\n"))
	assert.True(t, IsInvalidConfig(err))
}

func TestParseEmpty(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Parse(nil))
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		EnvDeviceID:     "core2",
		EnvAccessToken:  "secret",
		EnvAdaptor:      "voodoospark",
		EnvCloudURL:     "http://localhost:8080",
		EnvReadInterval: "250",
	})))
	assert.Equal(t, "core2", cfg.DeviceID)
	assert.Equal(t, "secret", cfg.AccessToken)
	assert.Equal(t, "voodoospark", cfg.Adaptor)
	assert.Equal(t, "http://localhost:8080", cfg.CloudURL)
	assert.Equal(t, time.Millisecond*250, cfg.ReadInterval)

	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{EnvReadInterval: "3s"})))
	assert.Equal(t, time.Second*3, cfg.ReadInterval)

	err := cfg.ApplyEnv(envMap(map[string]string{EnvReadInterval: "soon"}))
	assert.True(t, IsInvalidConfig(err))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SPARK_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("SPARK_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("SPARK_TEST_DOTENV"))

	assert.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.DeviceID = "core1"
		cfg.AccessToken = "token"
		return cfg
	}
	require.NoError(t, valid().Validate())

	for name, mutate := range map[string]func(*Config){
		"unknown adaptor":   func(c *Config) { c.Adaptor = "arduino" },
		"no device":         func(c *Config) { c.DeviceID = "" },
		"no token":          func(c *Config) { c.AccessToken = "" },
		"negative interval": func(c *Config) { c.ReadInterval = -time.Second },
		"negative log size": func(c *Config) { c.EventLogSize = -1 },
		"read without pin":  func(c *Config) { c.Reads = []ReadConfig{{Mode: ModeDigital}} },
		"invalid mode":      func(c *Config) { c.Reads = []ReadConfig{{Pin: "D1", Mode: "pwm"}} },
		"local events": func(c *Config) {
			c.Adaptor = "voodoospark"
			c.Events = []string{"motion"}
		},
		"duplicate pins": func(c *Config) {
			c.Reads = []ReadConfig{{Pin: "D1", Mode: ModeDigital}, {Pin: "D1", Mode: ModeAnalog}}
		},
		"duplicate events":    func(c *Config) { c.Events = []string{"motion", "motion"} },
		"logs without broker": func(c *Config) { c.MQTT.ForwardLogs = true },
		"pins without broker": func(c *Config) { c.MQTT.CommandPins = []string{"D7"} },
		"http port":           func(c *Config) { c.Server.HTTPPort = 70000 },
		"ssh port":            func(c *Config) { c.Server.SSHPort = -2 },
	} {
		cfg := valid()
		mutate(&cfg)
		assert.True(t, IsInvalidConfig(cfg.Validate()), name)
	}
}
