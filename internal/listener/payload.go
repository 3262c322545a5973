package listener

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"wisefido-beacon/internal/models"
)

// ErrMalformedPayload 网关 MQTT 消息格式错误
var ErrMalformedPayload = errors.New("malformed gateway payload")

// timestampLayout 网关上报的本地时间格式
const timestampLayout = "2006-01-02T15:04:05"

// gatewayPayload 网关上报的单条信标扫描结果
type gatewayPayload struct {
	BeaconID *string         `json:"beacon_id"`
	TagID    *string         `json:"tag_id"`
	RSSI     *float64        `json:"rssi"`
	Time     json.RawMessage `json:"timestamp"`
	Address  string          `json:"address"`
}

// GatewayFromTopic 从 bluetooth/{gateway_id}/data 提取 gateway_id
func GatewayFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("%w: invalid topic format: %s", ErrMalformedPayload, topic)
	}
	return parts[1], nil
}

// ParsePayload 将网关消息规范化为读数记录
func ParsePayload(topic string, payload []byte, loc *time.Location) (*models.Reading, error) {
	gatewayID, err := GatewayFromTopic(topic)
	if err != nil {
		return nil, err
	}

	var p gatewayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	tagID := p.BeaconID
	if tagID == nil {
		tagID = p.TagID
	}
	if tagID == nil || *tagID == "" {
		return nil, fmt.Errorf("%w: missing beacon_id", ErrMalformedPayload)
	}
	if p.RSSI == nil {
		return nil, fmt.Errorf("%w: missing rssi", ErrMalformedPayload)
	}
	ts, err := parseTimestamp(p.Time, loc)
	if err != nil {
		return nil, err
	}

	return &models.Reading{
		GatewayID:    gatewayID,
		TagID:        *tagID,
		RSSI:         int(math.Round(*p.RSSI)),
		Timestamp:    ts,
		LivenessHint: 1,
		Address:      p.Address,
	}, nil
}

// parseTimestamp 接受 epoch 秒（整数或小数）或 "2006-01-02T15:04:05" 字符串
func parseTimestamp(raw json.RawMessage, loc *time.Location) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
	}

	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		return int64(epoch), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: timestamp must be a number or string", ErrMalformedPayload)
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(timestampLayout, s, loc); err == nil {
		return t.Unix(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), nil
	}
	return 0, fmt.Errorf("%w: unrecognized timestamp %q", ErrMalformedPayload, s)
}
