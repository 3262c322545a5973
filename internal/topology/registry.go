package topology

import (
	"sort"
	"sync"

	"wisefido-beacon/internal/models"
)

// Options 拓扑参数
type Options struct {
	HistoryCapacity int // 每个 tag 的历史容量
}

// Gateway 网关及其当前观察到的标签
type Gateway struct {
	ID      string
	Address string

	tags map[string]*Tag
}

// Expiry 一次清理中过期的标签（按 tag 聚合）
type Expiry struct {
	TagID         string
	Gateways      []string // 过期所在的网关，升序
	LastGateway   string   // 最新读数所在的网关
	LastTimestamp int64    // 过期记录中最新的读数时间
	Gone          bool     // 清理后该 tag 已不在任何网关下
}

// VisitFunc 只读访问回调；不得保留或修改 gw / tag
type VisitFunc func(gw *Gateway, tag *Tag)

// Registry 网关与标签的内存拓扑。
// 读数写入与清理持写锁，评分遍历持读锁。
type Registry struct {
	mu       sync.RWMutex
	opts     Options
	gateways map[string]*Gateway
}

// NewRegistry 创建拓扑
func NewRegistry(opts Options) *Registry {
	if opts.HistoryCapacity < 1 {
		opts.HistoryCapacity = 100
	}
	return &Registry{
		opts:     opts,
		gateways: make(map[string]*Gateway),
	}
}

// Upsert 应用一条读数：按需创建网关与标签，覆盖最新值、追加历史并重新置为 Armed
func (r *Registry) Upsert(rd *models.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gw, ok := r.gateways[rd.GatewayID]
	if !ok {
		gw = &Gateway{ID: rd.GatewayID, tags: make(map[string]*Tag)}
		r.gateways[rd.GatewayID] = gw
	}
	if rd.Address != "" {
		gw.Address = rd.Address
	}

	tag, ok := gw.tags[rd.TagID]
	if !ok {
		tag = newTag(rd.TagID, r.opts.HistoryCapacity)
		gw.tags[rd.TagID] = tag
	}
	tag.apply(rd.RSSI, rd.Timestamp)
}

// FilteredHistory 返回 [now-windowSize, now] 内的样本副本；tag 不存在时返回 nil
func (r *Registry) FilteredHistory(gatewayID, tagID string, now, windowSize int64) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[gatewayID]
	if !ok {
		return nil
	}
	tag, ok := gw.tags[tagID]
	if !ok {
		return nil
	}
	return tag.Window(now, windowSize)
}

// RemoveTag 从网关中删除标签，幂等
func (r *Registry) RemoveTag(gatewayID, tagID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gw, ok := r.gateways[gatewayID]; ok {
		if tag, ok := gw.tags[tagID]; ok {
			tag.Liveness = Removed
			delete(gw.tags, tagID)
		}
	}
}

// Visit 在读锁下按 gateway_id、tag_id 升序遍历所有 (gateway, tag)。
// 该顺序即评分时并列得分的决胜顺序。
func (r *Registry) Visit(fn VisitFunc) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, gwID := range sortedKeys(r.gateways) {
		gw := r.gateways[gwID]
		for _, tagID := range sortedKeys(gw.tags) {
			fn(gw, gw.tags[tagID])
		}
	}
}

// Sweep 执行一次两阶段存活检查：
// Armed 复位为 ExpiredPending 并保留；ExpiredPending 视为过期并移除。
func (r *Registry) Sweep() []Expiry {
	r.mu.Lock()
	defer r.mu.Unlock()

	byTag := make(map[string]*Expiry)
	var order []string
	for _, gwID := range sortedKeys(r.gateways) {
		gw := r.gateways[gwID]
		for _, tagID := range sortedKeys(gw.tags) {
			tag := gw.tags[tagID]
			if tag.Liveness == Armed {
				tag.Liveness = ExpiredPending
				continue
			}
			tag.Liveness = Removed
			delete(gw.tags, tagID)

			exp, ok := byTag[tagID]
			if !ok {
				exp = &Expiry{TagID: tagID, LastGateway: gwID, LastTimestamp: tag.LastTimestamp}
				byTag[tagID] = exp
				order = append(order, tagID)
			} else if tag.LastTimestamp > exp.LastTimestamp {
				exp.LastGateway = gwID
				exp.LastTimestamp = tag.LastTimestamp
			}
			exp.Gateways = append(exp.Gateways, gwID)
		}
	}

	sort.Strings(order)
	out := make([]Expiry, 0, len(order))
	for _, tagID := range order {
		exp := byTag[tagID]
		exp.Gone = !r.observedLocked(tagID)
		out = append(out, *exp)
	}
	return out
}

// Observed tag 当前是否仍在任一网关下
func (r *Registry) Observed(tagID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observedLocked(tagID)
}

func (r *Registry) observedLocked(tagID string) bool {
	for _, gw := range r.gateways {
		if _, ok := gw.tags[tagID]; ok {
			return true
		}
	}
	return false
}

// TagState tag 状态副本（用于检查与测试）
type TagState struct {
	LastRSSI      int
	LastTimestamp int64
	Liveness      Liveness
	History       []Sample
}

// Lookup 返回 (gateway, tag) 的状态副本
func (r *Registry) Lookup(gatewayID, tagID string) (TagState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[gatewayID]
	if !ok {
		return TagState{}, false
	}
	tag, ok := gw.tags[tagID]
	if !ok {
		return TagState{}, false
	}
	return TagState{
		LastRSSI:      tag.LastRSSI,
		LastTimestamp: tag.LastTimestamp,
		Liveness:      tag.Liveness,
		History:       tag.History(),
	}, true
}

// Stats 网关数与 (gateway, tag) 对数
func (r *Registry) Stats() (gateways, tags int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, gw := range r.gateways {
		tags += len(gw.tags)
	}
	return len(r.gateways), tags
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
