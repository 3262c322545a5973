// Package sink 持久化检测快照、Last-Event 记录、网关心跳与转移事件。
package sink

import (
	"context"

	"wisefido-beacon/internal/models"
)

// Sink 引擎对外部状态/事件存储的依赖。
// 每条持久化记录都以单个值原子写入。
type Sink interface {
	// WriteSnapshot 覆盖写入 tag 的检测快照
	WriteSnapshot(ctx context.Context, tagID string, snap *models.Snapshot) error
	// DeleteSnapshot 删除 tag 的检测快照，不存在时不报错
	DeleteSnapshot(ctx context.Context, tagID string) error
	// LastEvent 读取 Last-Event 记录，不存在时返回 ""
	LastEvent(ctx context.Context, tagID string) (models.EventKind, error)
	// EmitTransition 追加事件并把 Last-Event 更新为 ev.Event，两者原子完成
	EmitTransition(ctx context.Context, ev *models.TransitionEvent) error
	// TouchGateway 刷新网关心跳
	TouchGateway(ctx context.Context, gatewayID string, hb *models.GatewayHeartbeat) error
}

// Archiver 转移事件的二级归档（可选）
type Archiver interface {
	Insert(ctx context.Context, ev *models.TransitionEvent) error
}
