package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedReading 读数格式错误（缺字段 / 类型错误），调用方丢弃并记录
var ErrMalformedReading = errors.New("malformed reading")

// Reading 规范化后的网关读数
type Reading struct {
	GatewayID    string `json:"gateway_id"`
	TagID        string `json:"tag_id"`
	RSSI         int    `json:"rssi"`
	Timestamp    int64  `json:"timestamp"`         // epoch 秒
	LivenessHint int    `json:"liveness_hint"`     // 0|1，仅做校验
	Address      string `json:"address,omitempty"` // 网关地址（可选）
}

// rawReading 解码用，指针字段用于区分缺失与零值
type rawReading struct {
	GatewayID    *string `json:"gateway_id"`
	TagID        *string `json:"tag_id"`
	BeaconID     *string `json:"beacon_id"` // 旧 listener 字段名
	RSSI         *int    `json:"rssi"`
	Timestamp    *int64  `json:"timestamp"`
	LivenessHint *int    `json:"liveness_hint"`
	Address      string  `json:"address"`
}

// ParseReading 解析并校验一条读数
func ParseReading(payload []byte) (*Reading, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedReading)
	}
	var raw rawReading
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}

	tagID := raw.TagID
	if tagID == nil {
		tagID = raw.BeaconID
	}
	switch {
	case raw.GatewayID == nil || *raw.GatewayID == "":
		return nil, fmt.Errorf("%w: missing gateway_id", ErrMalformedReading)
	case tagID == nil || *tagID == "":
		return nil, fmt.Errorf("%w: missing tag_id", ErrMalformedReading)
	case raw.RSSI == nil:
		return nil, fmt.Errorf("%w: missing rssi", ErrMalformedReading)
	case raw.Timestamp == nil:
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedReading)
	}

	r := &Reading{
		GatewayID:    *raw.GatewayID,
		TagID:        *tagID,
		RSSI:         *raw.RSSI,
		Timestamp:    *raw.Timestamp,
		LivenessHint: 1,
		Address:      raw.Address,
	}
	if raw.LivenessHint != nil {
		if *raw.LivenessHint != 0 && *raw.LivenessHint != 1 {
			return nil, fmt.Errorf("%w: liveness_hint must be 0 or 1", ErrMalformedReading)
		}
		r.LivenessHint = *raw.LivenessHint
	}
	return r, nil
}
