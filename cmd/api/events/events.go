// Package events publishes lifecycle notifications to Redis so dashboards
// and other consumers can follow device status changes live. Publication is
// best effort: a nil client or a publish failure never affects the workflow
// that triggered it.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel lifecycle events go to.
const Channel = "lifecycle"

// Event is a single lifecycle notification.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// DeviceStatusChanged reports a device status transition.
func DeviceStatusChanged(ctx context.Context, rdb *redis.Client, deviceID int64, status string) {
	Publish(ctx, rdb, Event{Type: "device_status_changed", Data: map[string]interface{}{
		"device_id": deviceID,
		"status":    status,
	}})
}

// PreparationFinalized reports a completed preparation and the assignment
// it produced.
func PreparationFinalized(ctx context.Context, rdb *redis.Client, prepID, assignmentID int64) {
	Publish(ctx, rdb, Event{Type: "preparation_finalized", Data: map[string]interface{}{
		"preparation_id": prepID,
		"assignment_id":  assignmentID,
	}})
}

// Publish sends an event to the lifecycle channel.
func Publish(ctx context.Context, rdb *redis.Client, ev Event) {
	if rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = rdb.Publish(ctx, Channel, b).Err()
}
