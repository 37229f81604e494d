// Package fanout delivers mutation events to every interested connection:
// locally through the registry, and to other server instances over a shared
// Redis pub/sub channel.
package fanout

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ommvpatel/Real-Time-Taskboard/registry"
)

// Envelope wraps an event for cross-instance relay. Origin identifies the
// publishing instance so it can discard its own envelopes on receipt.
type Envelope struct {
	BoardID string          `json:"boardId"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`
}

// Engine performs both fanout legs. Safe for concurrent use.
type Engine struct {
	instanceID string
	registry   *registry.Registry
	redis      *redis.Client
	channel    string
}

// New creates an Engine publishing on the given channel. rc may be nil for
// single-instance deployments; the relay leg then becomes a no-op.
func New(instanceID string, reg *registry.Registry, rc *redis.Client, channel string) *Engine {
	return &Engine{instanceID: instanceID, registry: reg, redis: rc, channel: channel}
}

// InstanceID returns the identity this engine stamps on published envelopes.
func (e *Engine) InstanceID() string { return e.instanceID }

// Fan delivers payload to every local connection on the board except the
// originator, then relays it to other instances. Publish failures are logged
// and swallowed: the mutation already committed and was acknowledged, only
// cross-instance visibility degrades.
func (e *Engine) Fan(ctx context.Context, boardID string, payload []byte, exceptConnID string) {
	e.broadcast(boardID, payload, exceptConnID)
	e.publish(ctx, boardID, payload)
}

func (e *Engine) broadcast(boardID string, payload []byte, exceptConnID string) {
	for _, conn := range e.registry.ConnectionsOf(boardID) {
		if conn.ID() == exceptConnID {
			continue
		}
		if err := conn.Send(payload); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"board": boardID,
				"conn":  conn.ID(),
			}).Debug("broadcast send failed")
		}
	}
}

func (e *Engine) publish(ctx context.Context, boardID string, payload []byte) {
	if e.redis == nil {
		return
	}
	env := Envelope{BoardID: boardID, Payload: payload, Origin: e.instanceID}
	data, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).WithField("board", boardID).Error("failed to marshal fanout envelope")
		return
	}
	if err := e.redis.Publish(ctx, e.channel, data).Err(); err != nil {
		log.WithError(err).WithField("board", boardID).Warn("fanout publish failed")
	}
}
