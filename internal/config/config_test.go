package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	p := cfg.Presence
	assert.Equal(t, IntakeSourceStream, p.Intake.Source)
	assert.Equal(t, "beacon:data:stream", p.Intake.Stream)
	assert.Equal(t, "beacon_data", p.Intake.List)
	assert.NotEmpty(t, p.Intake.ConsumerName)

	assert.Equal(t, int64(10), p.Scoring.WindowSize)
	assert.Equal(t, -90, p.Scoring.RSSIThreshold)
	assert.Equal(t, 3, p.Scoring.FreqThreshold)
	assert.Equal(t, 10, p.Scoring.MaxFreq)
	assert.Equal(t, 0.5, p.Scoring.W1)
	assert.Equal(t, 0.5, p.Scoring.W2)

	assert.Equal(t, time.Second, p.DetectionInterval)
	assert.Equal(t, 30*time.Second, p.SweepInterval)
	assert.Equal(t, 100, p.HistoryCapacity)

	assert.Equal(t, "beacon_state", p.Keys.Snapshot)
	assert.Equal(t, "beacon:last_event", p.Keys.LastEvent)
	assert.Equal(t, "gateway:status", p.Keys.Heartbeat)
	assert.Equal(t, "beacon:events:stream", p.Keys.EventStream)
	assert.False(t, p.Archive.Enabled)

	assert.Equal(t, "", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("REDIS_ADDR", "test-redis:6380")
	t.Setenv("INTAKE_SOURCE", "list")
	t.Setenv("WINDOW_SIZE", "20")
	t.Setenv("RSSI_THRESHOLD", "-80")
	t.Setenv("FREQ_THRESHOLD", "1")
	t.Setenv("W1", "0.8")
	t.Setenv("W2", "0.2")
	t.Setenv("DETECTION_INTERVAL", "500ms")
	t.Setenv("SWEEP_INTERVAL", "10")
	t.Setenv("ARCHIVE_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, IntakeSourceList, cfg.Presence.Intake.Source)
	assert.Equal(t, int64(20), cfg.Presence.Scoring.WindowSize)
	assert.Equal(t, -80, cfg.Presence.Scoring.RSSIThreshold)
	assert.Equal(t, 1, cfg.Presence.Scoring.FreqThreshold)
	assert.Equal(t, 0.8, cfg.Presence.Scoring.W1)
	assert.Equal(t, 0.2, cfg.Presence.Scoring.W2)
	assert.Equal(t, 500*time.Millisecond, cfg.Presence.DetectionInterval)
	assert.Equal(t, 10*time.Second, cfg.Presence.SweepInterval)
	assert.True(t, cfg.Presence.Archive.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	os.Clearenv()
	t.Setenv("RSSI_THRESHOLD", "10")
	t.Setenv("MAX_FREQ", "0")
	t.Setenv("INTAKE_SOURCE", "kafka")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RSSI_THRESHOLD")
	assert.Contains(t, err.Error(), "MAX_FREQ")
	assert.Contains(t, err.Error(), "INTAKE_SOURCE")
}

func TestLoadListener(t *testing.T) {
	os.Clearenv()
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	cfg, err := LoadListener()
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "bluetooth/+/data", cfg.Listener.Topic)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Contains(t, cfg.MQTT.ClientID, "wisefido-beacon-listener-")
}

func TestGetEnv(t *testing.T) {
	os.Clearenv()
	assert.Equal(t, "default-value", getEnv("TEST_KEY", "default-value"))

	t.Setenv("TEST_KEY", "env-value")
	assert.Equal(t, "env-value", getEnv("TEST_KEY", "default-value"))
}
