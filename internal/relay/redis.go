// Package relay fans broadcast frames out across server instances through
// Redis pub/sub, so collaborators on one instance see edits made by
// collaborators connected to another.
package relay

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel all instances share.
const Channel = "collab:rooms"

// Deliverer applies a relayed frame to the local rooms. *ws.Handler
// satisfies it.
type Deliverer interface {
	DeliverRemote(projectID string, frame []byte)
}

// message is the wire format between instances. The origin id lets an
// instance skip its own publications.
type message struct {
	Origin    string          `json:"origin"`
	ProjectID string          `json:"project_id"`
	Frame     json.RawMessage `json:"frame"`
}

// Relay bridges the local room layer and the shared Redis channel.
type Relay struct {
	client   *redis.Client
	local    Deliverer
	instance string
}

// New creates a relay over an established Redis client.
func New(client *redis.Client, local Deliverer) *Relay {
	return &Relay{
		client:   client,
		local:    local,
		instance: uuid.New().String(),
	}
}

// Publish sends a broadcast frame to the other instances. Failures are
// logged and dropped; the local delivery already happened, and presence
// self-heals on the next roster snapshot.
func (r *Relay) Publish(projectID string, frame []byte) {
	payload, err := json.Marshal(message{
		Origin:    r.instance,
		ProjectID: projectID,
		Frame:     frame,
	})
	if err != nil {
		log.Printf("relay: failed to encode frame for %s: %v", projectID, err)
		return
	}

	if err := r.client.Publish(context.Background(), Channel, payload).Err(); err != nil {
		log.Printf("relay: publish failed for %s: %v", projectID, err)
	}
}

// Run subscribes to the shared channel and delivers remote frames into the
// local rooms until ctx is cancelled. It blocks; run it on its own goroutine.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, Channel)
	defer sub.Close()

	// Force the subscription before consuming, so a broken Redis fails
	// loudly at startup instead of silently dropping traffic.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("relay: dropping malformed relay message: %v", err)
		return
	}
	if msg.Origin == r.instance {
		return
	}
	if msg.ProjectID == "" || len(msg.Frame) == 0 {
		return
	}

	r.local.DeliverRemote(msg.ProjectID, msg.Frame)
}
