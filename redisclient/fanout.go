package redisclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/progress"
)

const progressChannelPrefix = "scanner:progress:"

// envelope is what actually crosses the wire on a progress channel: the
// progress.Event plus the publishing replica's Origin, so a replica that
// both publishes and subscribes to the same channel can recognize and
// discard its own echo instead of double-delivering the event to its
// local Hub subscribers.
type envelope struct {
	Origin string         `json:"origin"`
	Event  progress.Event `json:"event"`
}

// ProgressFanout mirrors progress.Hub.Publish across every replica
// sharing a Redis instance: a scan dispatched on one replica is followed
// over SSE by a client connected to another. Each event is still
// delivered to the local Hub directly (no Redis round trip on the
// publishing replica), and mirrored to Redis only so *other* replicas'
// fanouts can relay it into their own local Hub.
type ProgressFanout struct {
	client *Client
	hub    *progress.Hub
	origin string
	log    zerolog.Logger
}

// NewProgressFanout builds a fanout that publishes through hub locally
// and via client across replicas.
func NewProgressFanout(client *Client, hub *progress.Hub, log zerolog.Logger) *ProgressFanout {
	return &ProgressFanout{client: client, hub: hub, origin: uuid.NewString(), log: log}
}

// Publish satisfies the same Publish(scanID, Event) shape as
// *progress.Hub, so the orchestrator can hold either behind one field.
func (f *ProgressFanout) Publish(scanID string, ev progress.Event) {
	f.hub.Publish(scanID, ev)

	data, err := json.Marshal(envelope{Origin: f.origin, Event: ev})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.client.c.Publish(ctx, progressChannelPrefix+scanID, data).Err(); err != nil {
		f.log.Warn().Err(err).Str("scan_id", scanID).Msg("progress fanout publish failed")
	}
}

// Start subscribes to every replica's progress channel and relays
// foreign events (anything not carrying this fanout's own Origin) into
// the local Hub, until ctx is canceled.
func (f *ProgressFanout) Start(ctx context.Context) {
	sub := f.client.c.PSubscribe(ctx, progressChannelPrefix+"*")
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				f.relay(msg.Channel, msg.Payload)
			}
		}
	}()
}

func (f *ProgressFanout) relay(channel, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return
	}
	if env.Origin == f.origin {
		return
	}
	scanID := channel[len(progressChannelPrefix):]
	f.hub.Publish(scanID, env.Event)
}
