package detector

import (
	"sort"
	"sync"
)

// DirtySet 合并去重的 "有新数据" 通知集合。
// Mark 从不阻塞，容量上限为不同 tag 的数量；Drain 由检测循环在每个 tick 调用。
type DirtySet struct {
	mu   sync.Mutex
	tags map[string]struct{}
}

// NewDirtySet 创建通知集合
func NewDirtySet() *DirtySet {
	return &DirtySet{tags: make(map[string]struct{})}
}

// Mark 标记 tag 有新数据，重复标记会合并
func (d *DirtySet) Mark(tagID string) {
	d.mu.Lock()
	d.tags[tagID] = struct{}{}
	d.mu.Unlock()
}

// Drain 取出并清空当前集合，结果按 tag_id 升序
func (d *DirtySet) Drain() []string {
	d.mu.Lock()
	if len(d.tags) == 0 {
		d.mu.Unlock()
		return nil
	}
	pending := d.tags
	d.tags = make(map[string]struct{}, len(pending))
	d.mu.Unlock()

	out := make([]string, 0, len(pending))
	for tagID := range pending {
		out = append(out, tagID)
	}
	sort.Strings(out)
	return out
}

// Len 当前待处理 tag 数
func (d *DirtySet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tags)
}
