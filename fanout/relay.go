package fanout

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
)

// Run subscribes to the relay channel and re-broadcasts foreign envelopes to
// local connections. Envelopes originating from this instance are discarded;
// their local delivery already happened on the mutation path. The loop
// re-subscribes if the pub/sub channel closes and exits on ctx cancellation.
func (e *Engine) Run(ctx context.Context) {
	if e.redis == nil {
		return
	}
	for {
		sub := e.redis.Subscribe(ctx, e.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				e.handleEnvelope([]byte(msg.Payload))
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("relay channel closed, resubscribing")
		time.Sleep(time.Second)
	}
}

func (e *Engine) handleEnvelope(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WithError(err).Error("unable to parse fanout envelope")
		return
	}
	if env.Origin == e.instanceID {
		return
	}
	// No exception connection: the true originator lives on another
	// instance, so every local connection on the board gets the event.
	e.broadcast(env.BoardID, env.Payload, "")
}
