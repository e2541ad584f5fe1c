package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gasmix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 50*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.True(t, cfg.Serial.Fallback)
	assert.Equal(t, 50*time.Millisecond, cfg.Panel.PollPeriod)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, "gasmix", cfg.MQTT.TopicPrefix)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB3
  baudRate: 19200
  readTimeout: 20ms
  fallback: false
panel:
  pollPeriod: 25ms
logging:
  format: json
mqtt:
  broker: tcp://broker.lab:1883
metrics:
  addr: ":9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.False(t, cfg.Serial.Fallback)
	assert.Equal(t, 25*time.Millisecond, cfg.Panel.PollPeriod)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "tcp://broker.lab:1883", cfg.MQTT.Broker)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GASMIX_SERIAL_PORT", "/dev/ttyS1")
	path := writeConfig(t, "serial:\n  port: /dev/ttyUSB0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", cfg.Serial.Port)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "logging:\n  format: xml\n")
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, "serial:\n  baudRate: 0\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
