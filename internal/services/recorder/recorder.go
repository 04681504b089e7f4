// Package recorder persists status transitions together with the event that
// announces them.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain/check"
	"github.com/NordCoder/Lastbeat/internal/domain/flip"
	"github.com/NordCoder/Lastbeat/internal/domain/kafka"
	"github.com/NordCoder/Lastbeat/internal/domain/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var flipsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flips_recorded_total",
	Help: "Status transitions recorded, by new status.",
}, []string{"new_status"})

type Recorder struct {
	flips  flip.Repo
	outbox outbox.Repository
}

func New(flips flip.Repo, ob outbox.Repository) *Recorder {
	return &Recorder{flips: flips, outbox: ob}
}

// Record stores a flip for a changed transition and enqueues its event. It must
// run in the same transaction as the check update so both commit or neither does.
func (r *Recorder) Record(ctx context.Context, c *check.Check, t check.Transition, at time.Time) (*flip.Flip, error) {
	if !t.Changed() {
		return nil, nil
	}
	f := &flip.Flip{
		CheckID:   c.ID,
		CreatedAt: at,
		OldStatus: t.Old,
		NewStatus: t.New,
		Reason:    t.Reason,
	}
	if err := r.flips.Insert(ctx, f); err != nil {
		return nil, fmt.Errorf("insert flip: %w", err)
	}

	data, err := json.Marshal(kafka.FlipRecorded{
		FlipID:    f.ID,
		CheckID:   f.CheckID,
		OldStatus: string(f.OldStatus),
		NewStatus: string(f.NewStatus),
		At:        f.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal flip event: %w", err)
	}
	if err := r.outbox.Enqueue(ctx, "flip:"+strconv.FormatInt(f.ID, 10), outbox.KindFlipRecorded, data); err != nil {
		return nil, fmt.Errorf("enqueue flip event: %w", err)
	}
	flipsRecorded.WithLabelValues(string(f.NewStatus)).Inc()
	return f, nil
}
