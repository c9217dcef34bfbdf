package attendance

import (
	"context"
	"encoding/json"
	"log"

	"classkiosk/internal/queue"
)

// Pump applies queued attendance events to the roster until ctx is done.
func Pump(ctx context.Context, q queue.Queue, agg *Aggregator) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != queue.MessageTypeAttendance {
			continue
		}
		var evt Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("decode attendance event failed: %v", err)
			continue
		}
		outcome, err := agg.OnAttendanceEvent(ctx, evt)
		if err != nil {
			log.Printf("apply attendance event failed: %v", err)
			continue
		}
		if outcome == Applied {
			log.Printf("student %s checked in", evt.Student.ID)
		}
	}
	return nil
}
