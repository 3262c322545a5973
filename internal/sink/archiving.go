package sink

import (
	"context"

	"wisefido-beacon/internal/models"

	"go.uber.org/zap"
)

// ArchivingSink 在主 Sink 成功发出转移事件后，尽力写入归档。
// 归档失败只记录日志，不影响主流程。
type ArchivingSink struct {
	Sink
	archiver Archiver
	logger   *zap.Logger
}

// NewArchivingSink 包装主 Sink
func NewArchivingSink(primary Sink, archiver Archiver, logger *zap.Logger) *ArchivingSink {
	return &ArchivingSink{
		Sink:     primary,
		archiver: archiver,
		logger:   logger,
	}
}

// EmitTransition 先写主 Sink，成功后归档
func (s *ArchivingSink) EmitTransition(ctx context.Context, ev *models.TransitionEvent) error {
	if err := s.Sink.EmitTransition(ctx, ev); err != nil {
		return err
	}
	if err := s.archiver.Insert(ctx, ev); err != nil {
		s.logger.Warn("Failed to archive transition event",
			zap.String("tag_id", ev.BeaconID),
			zap.String("event", string(ev.Event)),
			zap.Error(err),
		)
	}
	return nil
}
