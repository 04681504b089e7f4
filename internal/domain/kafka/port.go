package kafka

import (
	"context"
	"time"
)

// FlipRecorded is the event published for every committed flip.
type FlipRecorded struct {
	FlipID    int64     `json:"flip_id"`
	CheckID   int64     `json:"check_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	At        time.Time `json:"at"`
}

type FlipEvents interface {
	PublishFlipRecorded(ctx context.Context, ev FlipRecorded) error
}
