package topology

// Liveness 两阶段存活标记
type Liveness int

const (
	// Armed 上次清理后收到过读数
	Armed Liveness = iota
	// ExpiredPending 已被清理器复位，下次清理时若仍未收到读数则过期
	ExpiredPending
	// Removed 已从拓扑中移除
	Removed
)

func (l Liveness) String() string {
	switch l {
	case Armed:
		return "armed"
	case ExpiredPending:
		return "expired-pending"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Sample 一次 (rssi, timestamp) 读数
type Sample struct {
	RSSI      int
	Timestamp int64
}

// history 定长环形缓冲，满时覆盖最旧的样本
type history struct {
	buf   []Sample
	start int
	size  int
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{buf: make([]Sample, capacity)}
}

func (h *history) push(s Sample) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) each(fn func(Sample)) {
	for i := 0; i < h.size; i++ {
		fn(h.buf[(h.start+i)%len(h.buf)])
	}
}

// Tag 某个网关下观察到的标签
type Tag struct {
	ID            string
	LastRSSI      int
	LastTimestamp int64
	Liveness      Liveness

	history *history
}

func newTag(id string, capacity int) *Tag {
	return &Tag{ID: id, history: newHistory(capacity)}
}

func (t *Tag) apply(rssi int, ts int64) {
	t.LastRSSI = rssi
	t.LastTimestamp = ts
	t.history.push(Sample{RSSI: rssi, Timestamp: ts})
	t.Liveness = Armed
}

// Len 历史样本数
func (t *Tag) Len() int {
	return t.history.size
}

// History 按到达顺序返回历史副本
func (t *Tag) History() []Sample {
	out := make([]Sample, 0, t.history.size)
	t.history.each(func(s Sample) { out = append(out, s) })
	return out
}

// Window 返回 now - timestamp <= windowSize 的样本，不修改历史
func (t *Tag) Window(now, windowSize int64) []Sample {
	var out []Sample
	t.history.each(func(s Sample) {
		if now-s.Timestamp <= windowSize {
			out = append(out, s)
		}
	})
	return out
}
