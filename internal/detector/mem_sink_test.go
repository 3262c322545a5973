package detector

import (
	"context"
	"errors"
	"sync"

	"wisefido-beacon/internal/models"
)

var errSinkDown = errors.New("sink down")

// memSink 内存 Sink，仅用于单元测试
type memSink struct {
	mu         sync.Mutex
	snapshots  map[string]models.Snapshot
	lastEvents map[string]models.EventKind
	heartbeats map[string]models.GatewayHeartbeat
	events     []models.TransitionEvent
	writes     int

	failEmit   int // 接下来 N 次 EmitTransition 失败
	failDelete int // 接下来 N 次 DeleteSnapshot 失败
}

func newMemSink() *memSink {
	return &memSink{
		snapshots:  make(map[string]models.Snapshot),
		lastEvents: make(map[string]models.EventKind),
		heartbeats: make(map[string]models.GatewayHeartbeat),
	}
}

func (m *memSink) WriteSnapshot(ctx context.Context, tagID string, snap *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.snapshots[tagID] = *snap
	return nil
}

func (m *memSink) DeleteSnapshot(ctx context.Context, tagID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete > 0 {
		m.failDelete--
		return errSinkDown
	}
	delete(m.snapshots, tagID)
	return nil
}

func (m *memSink) LastEvent(ctx context.Context, tagID string) (models.EventKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEvents[tagID], nil
}

func (m *memSink) EmitTransition(ctx context.Context, ev *models.TransitionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEmit > 0 {
		m.failEmit--
		return errSinkDown
	}
	m.events = append(m.events, *ev)
	m.lastEvents[ev.BeaconID] = ev.Event
	return nil
}

func (m *memSink) TouchGateway(ctx context.Context, gatewayID string, hb *models.GatewayHeartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[gatewayID] = *hb
	return nil
}

func (m *memSink) eventsFor(tagID string) []models.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EventKind
	for _, ev := range m.events {
		if ev.BeaconID == tagID {
			out = append(out, ev.Event)
		}
	}
	return out
}

func (m *memSink) snapshot(tagID string) (models.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[tagID]
	return snap, ok
}
