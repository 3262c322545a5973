package service

import (
	"testing"

	"wisefido-beacon/internal/config"
	"wisefido-beacon/internal/listener"

	"github.com/stretchr/testify/assert"
)

func TestNewPublisher_FollowsIntakeSource(t *testing.T) {
	_, client := setupTestRedis(t)
	defer client.Close()

	cfg := &config.ListenerConfig{}
	cfg.Listener.Stream = "beacon:data:stream"
	cfg.Listener.List = "beacon_data"

	cfg.Listener.Source = config.IntakeSourceStream
	p := newPublisher(cfg, client)
	assert.IsType(t, &listener.StreamPublisher{}, p)
	assert.Equal(t, "stream:beacon:data:stream", p.Target())

	cfg.Listener.Source = config.IntakeSourceList
	p = newPublisher(cfg, client)
	assert.IsType(t, &listener.ListPublisher{}, p)
	assert.Equal(t, "list:beacon_data", p.Target())
}
