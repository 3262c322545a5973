package models

// EventKind 转移事件类型，同时作为 Last-Event 记录的取值
type EventKind string

const (
	EventDetected EventKind = "detected"
	EventLost     EventKind = "lost"
)

// Valid 是否为已知事件类型
func (k EventKind) Valid() bool {
	return k == EventDetected || k == EventLost
}

// TransitionEvent 输出到事件流的转移事件
type TransitionEvent struct {
	Event     EventKind `json:"event"`
	BeaconID  string    `json:"beacon_id"`
	Gateway   string    `json:"gateway"`
	Timestamp int64     `json:"timestamp"`
}

// Snapshot tag 的检测快照（每次合格评估覆盖写入）
type Snapshot struct {
	Gateways   []string           `json:"gateways"`    // 按得分从高到低
	RSSIScores map[string]float64 `json:"rssi_scores"` // gateway_id -> score
	Timestamp  int64              `json:"timestamp"`
}

// GatewayStatusOnline 网关心跳状态
const GatewayStatusOnline = "Online"

// GatewayHeartbeat 网关心跳，离线判定由外部消费者负责
type GatewayHeartbeat struct {
	Status   string  `json:"status"`
	Address  string  `json:"address"`
	LastSeen float64 `json:"last_seen"`
}
