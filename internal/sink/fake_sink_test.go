package sink

import (
	"context"
	"errors"
	"sync"

	"wisefido-beacon/internal/models"

	"github.com/stretchr/testify/mock"
)

var errFlaky = errors.New("flaky sink")

// flakySink 前 failures 次调用失败，之后成功（仅用于单元测试）
type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	events   []models.TransitionEvent
}

func (f *flakySink) step() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errFlaky
	}
	return nil
}

func (f *flakySink) WriteSnapshot(ctx context.Context, tagID string, snap *models.Snapshot) error {
	return f.step()
}

func (f *flakySink) DeleteSnapshot(ctx context.Context, tagID string) error {
	return f.step()
}

func (f *flakySink) LastEvent(ctx context.Context, tagID string) (models.EventKind, error) {
	if err := f.step(); err != nil {
		return "", err
	}
	return models.EventDetected, nil
}

func (f *flakySink) EmitTransition(ctx context.Context, ev *models.TransitionEvent) error {
	if err := f.step(); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, *ev)
	f.mu.Unlock()
	return nil
}

func (f *flakySink) TouchGateway(ctx context.Context, gatewayID string, hb *models.GatewayHeartbeat) error {
	return f.step()
}

// MockArchiver 是 Archiver 的 mock 实现
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Insert(ctx context.Context, ev *models.TransitionEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
