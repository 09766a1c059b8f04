package gateway

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lers-io/lers-ce/internal/models"
)

const bridgeChannel = "lers:gateway"

// remoteOrigin marks frames replayed from the bridge so local fan-out does
// not publish them back and loop.
var remoteOrigin = &Client{}

// bridgeFrame is the cross-instance fan-out envelope. Scope selects the
// audience on the receiving instance.
type bridgeFrame struct {
	Origin   string          `json:"origin"`
	Scope    string          `json:"scope"` // "room", "user" or "all"
	Target   string          `json:"target,omitempty"`
	Envelope models.Envelope `json:"envelope"`
}

// RedisBridge relays broadcast frames between gateway instances through a
// Redis pub/sub channel. Single-instance deployments run without one.
type RedisBridge struct {
	client *redis.Client
	id     string
	hub    *Hub
	logger *log.Logger
}

// NewRedisBridge creates a bridge on the given Redis client.
func NewRedisBridge(client *redis.Client, logger *log.Logger) *RedisBridge {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisBridge{
		client: client,
		id:     uuid.New().String(),
		logger: logger,
	}
}

func (b *RedisBridge) bind(h *Hub) {
	b.hub = h
}

// Run subscribes to the fan-out channel and replays remote frames into the
// local hub until the context is canceled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.apply(msg.Payload)
		}
	}
}

func (b *RedisBridge) apply(payload string) {
	var frame bridgeFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		b.logger.Printf("gateway: bad bridge frame: %v", err)
		return
	}
	if frame.Origin == b.id || b.hub == nil {
		return
	}

	switch frame.Scope {
	case "room":
		b.hub.broadcastRoom(frame.Target, frame.Envelope, remoteOrigin)
	case "user":
		b.hub.sendToUser(frame.Target, frame.Envelope)
	case "all":
		b.hub.broadcastAll(frame.Envelope, remoteOrigin)
	}
}

func (b *RedisBridge) publish(frame bridgeFrame) {
	frame.Origin = b.id
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := b.client.Publish(context.Background(), bridgeChannel, raw).Err(); err != nil {
		b.logger.Printf("gateway: bridge publish: %v", err)
	}
}

func (b *RedisBridge) publishRoom(requestID string, env models.Envelope) {
	b.publish(bridgeFrame{Scope: "room", Target: requestID, Envelope: env})
}

func (b *RedisBridge) publishUser(userID string, env models.Envelope) {
	b.publish(bridgeFrame{Scope: "user", Target: userID, Envelope: env})
}

func (b *RedisBridge) publishAll(env models.Envelope) {
	b.publish(bridgeFrame{Scope: "all", Envelope: env})
}
