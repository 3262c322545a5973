package detector

import (
	"math"
	"sort"

	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/topology"
)

// ScoringParams 评分参数
type ScoringParams struct {
	WindowSize    int64   // 秒
	RSSIThreshold int     // dBm
	FreqThreshold int     // 窗口内最少样本数
	MaxFreq       int     // 频次归一化上限
	W1            float64 // RSSI 权重
	W2            float64 // 频次权重
}

// Score 计算得分：W1*(100-|avg|) + W2*(min(count,MaxFreq)/MaxFreq)*100
func (p ScoringParams) Score(rssiAvg float64, count int) float64 {
	freq := count
	if freq > p.MaxFreq {
		freq = p.MaxFreq
	}
	rssiNormalized := 100 - math.Abs(rssiAvg)
	freqNormalized := float64(freq) / float64(p.MaxFreq)
	return p.W1*rssiNormalized + p.W2*freqNormalized*100
}

// Qualify 对窗口样本评分；样本不足或平均 RSSI 不高于阈值时 ok=false
func (p ScoringParams) Qualify(window []topology.Sample) (score float64, ok bool) {
	if len(window) < p.FreqThreshold || len(window) == 0 {
		return 0, false
	}
	sum := 0
	for _, s := range window {
		sum += s.RSSI
	}
	avg := float64(sum) / float64(len(window))
	if avg <= float64(p.RSSIThreshold) {
		return 0, false
	}
	return p.Score(avg, len(window)), true
}

// candidate 一个合格网关
type candidate struct {
	gatewayID     string
	score         float64
	lastTimestamp int64
}

// Assignment 一个 tag 的评估结果
type Assignment struct {
	TagID            string
	Nearest          string
	NearestTimestamp int64 // 最近网关上该 tag 的最新读数时间
	Snapshot         models.Snapshot
}

// GatewayHit 本轮至少对一个 tag 合格的网关
type GatewayHit struct {
	GatewayID string
	Address   string
}

// Evaluation 一次全量评估的结果
type Evaluation struct {
	Assignments []Assignment // 按 tag_id 升序
	Gateways    []GatewayHit // 按 gateway_id 升序
}

// Evaluate 对拓扑中每个 (gateway, tag) 全量评分。
// 网关按 gateway_id 升序遍历，并列最高分取先遇到者。
func Evaluate(reg *topology.Registry, params ScoringParams, now int64) Evaluation {
	type pair struct {
		gatewayID     string
		address       string
		tagID         string
		lastTimestamp int64
	}
	var pairs []pair
	reg.Visit(func(gw *topology.Gateway, tag *topology.Tag) {
		pairs = append(pairs, pair{
			gatewayID:     gw.ID,
			address:       gw.Address,
			tagID:         tag.ID,
			lastTimestamp: tag.LastTimestamp,
		})
	})

	perTag := make(map[string][]candidate)
	var tagOrder []string
	var hits []GatewayHit
	hitSeen := make(map[string]bool)

	for _, pr := range pairs {
		// 遍历之后被清理的 tag 得到 nil，不合格
		window := reg.FilteredHistory(pr.gatewayID, pr.tagID, now, params.WindowSize)
		score, ok := params.Qualify(window)
		if !ok {
			continue
		}
		if _, seen := perTag[pr.tagID]; !seen {
			tagOrder = append(tagOrder, pr.tagID)
		}
		perTag[pr.tagID] = append(perTag[pr.tagID], candidate{
			gatewayID:     pr.gatewayID,
			score:         score,
			lastTimestamp: pr.lastTimestamp,
		})
		if !hitSeen[pr.gatewayID] {
			hitSeen[pr.gatewayID] = true
			hits = append(hits, GatewayHit{GatewayID: pr.gatewayID, Address: pr.address})
		}
	}

	sort.Strings(tagOrder)
	out := Evaluation{Gateways: hits}
	for _, tagID := range tagOrder {
		out.Assignments = append(out.Assignments, assign(tagID, perTag[tagID], now))
	}
	return out
}

// assign 候选按网关升序传入
func assign(tagID string, cands []candidate, now int64) Assignment {
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].score > cands[best].score {
			best = i
		}
	}

	ranked := make([]candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	snap := models.Snapshot{
		Gateways:   make([]string, 0, len(ranked)),
		RSSIScores: make(map[string]float64, len(ranked)),
		Timestamp:  now,
	}
	for _, c := range ranked {
		snap.Gateways = append(snap.Gateways, c.gatewayID)
		snap.RSSIScores[c.gatewayID] = c.score
	}

	return Assignment{
		TagID:            tagID,
		Nearest:          cands[best].gatewayID,
		NearestTimestamp: cands[best].lastTimestamp,
		Snapshot:         snap,
	}
}
