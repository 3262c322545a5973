package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-beacon/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const presenceEventsSchema = `
	CREATE TABLE IF NOT EXISTS beacon_presence_events (
		event_id    UUID PRIMARY KEY,
		beacon_id   TEXT NOT NULL,
		event       TEXT NOT NULL CHECK (event IN ('detected', 'lost')),
		gateway_id  TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_beacon_presence_events_beacon
		ON beacon_presence_events (beacon_id, occurred_at DESC);
`

// PresenceEvent 归档的转移事件
type PresenceEvent struct {
	EventID    string           `json:"event_id"`
	BeaconID   string           `json:"beacon_id"`
	Event      models.EventKind `json:"event"`
	GatewayID  string           `json:"gateway_id"`
	OccurredAt time.Time        `json:"occurred_at"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// PresenceEventRepository 在场事件归档仓库（PostgreSQL）
type PresenceEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPresenceEventRepository 创建在场事件仓库
func NewPresenceEventRepository(db *sql.DB, logger *zap.Logger) *PresenceEventRepository {
	return &PresenceEventRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *PresenceEventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, presenceEventsSchema); err != nil {
		return fmt.Errorf("failed to create beacon_presence_events: %w", err)
	}
	return nil
}

// Insert 归档一条 detected/lost 事件
func (r *PresenceEventRepository) Insert(ctx context.Context, ev *models.TransitionEvent) error {
	if !ev.Event.Valid() {
		return fmt.Errorf("invalid event kind %q", ev.Event)
	}

	query := `
		INSERT INTO beacon_presence_events (
			event_id, beacon_id, event, gateway_id, occurred_at
		) VALUES ($1, $2, $3, $4, $5)
	`
	eventID := uuid.New().String()
	occurredAt := time.Unix(ev.Timestamp, 0).UTC()

	if _, err := r.db.ExecContext(ctx, query,
		eventID, ev.BeaconID, string(ev.Event), ev.Gateway, occurredAt,
	); err != nil {
		return fmt.Errorf("failed to insert presence event: %w", err)
	}

	r.logger.Debug("Presence event archived",
		zap.String("event_id", eventID),
		zap.String("beacon_id", ev.BeaconID),
		zap.String("event", string(ev.Event)),
	)
	return nil
}

// ListByBeacon 查询某个 tag 最近的事件，按发生时间倒序
func (r *PresenceEventRepository) ListByBeacon(ctx context.Context, beaconID string, limit int) ([]*PresenceEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT event_id, beacon_id, event, gateway_id, occurred_at, recorded_at
		FROM beacon_presence_events
		WHERE beacon_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, beaconID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query beacon_presence_events: %w", err)
	}
	defer rows.Close()

	var events []*PresenceEvent
	for rows.Next() {
		item := &PresenceEvent{}
		var kind string
		if err := rows.Scan(
			&item.EventID,
			&item.BeaconID,
			&kind,
			&item.GatewayID,
			&item.OccurredAt,
			&item.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan presence event: %w", err)
		}
		item.Event = models.EventKind(kind)
		events = append(events, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate presence events: %w", err)
	}
	return events, nil
}
