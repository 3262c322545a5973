package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("T_STR", "x")
	t.Setenv("T_INT", "42")
	t.Setenv("T_BAD_INT", "forty")
	t.Setenv("T_FLOAT", "0.25")
	t.Setenv("T_BOOL", "true")
	t.Setenv("T_DUR", "1500ms")
	t.Setenv("T_DUR_SEC", "30")

	assert.Equal(t, "x", EnvString("T_STR", "d"))
	assert.Equal(t, "d", EnvString("T_UNSET", "d"))
	assert.Equal(t, 42, EnvInt("T_INT", 1))
	assert.Equal(t, 1, EnvInt("T_BAD_INT", 1))
	assert.Equal(t, 0.25, EnvFloat("T_FLOAT", 1))
	assert.True(t, EnvBool("T_BOOL", false))
	assert.Equal(t, 1500*time.Millisecond, EnvDuration("T_DUR", time.Second))
	assert.Equal(t, 30*time.Second, EnvDuration("T_DUR_SEC", time.Second))
	assert.Equal(t, time.Second, EnvDuration("T_UNSET", time.Second))
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_CONN_MAX_LIFETIME", "10m")

	c := DatabaseConfig{Host: "localhost", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	c.LoadFromEnv("DB")
	assert.Equal(t, "pg", c.Host)
	assert.Equal(t, 5433, c.Port)
	assert.Equal(t, 10*time.Minute, c.ConnMaxLifetime)
	assert.Equal(t, "host=pg port=5433 user=u password=p dbname=d sslmode=disable", c.GetDSN())
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("MQTT_CONNECT_TIMEOUT", "3s")

	c := MQTTConfig{Broker: "tcp://localhost:1883", QoS: 1}
	c.LoadFromEnv("MQTT")
	assert.Equal(t, byte(0), c.QoS)
	assert.Equal(t, 3*time.Second, c.ConnectTimeout)
	assert.Equal(t, "tcp://localhost:1883", c.Broker)
}
