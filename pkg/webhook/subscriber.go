package webhook

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/signbridge/signbridge/pkg/events"
)

// Subscriber implements queue.SubscribeWorker to forward events to matching
// endpoints.
type Subscriber struct {
	Endpoints []Endpoint
	Deliverer *Deliverer
	Pool      workerpool.WorkerPool
}

// Handle is called by frame's pub/sub for each event message.
func (ws *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("webhook subscriber: unmarshal envelope")
		return err
	}

	// Deliveries outlive the message acknowledgement.
	deliverCtx := context.WithoutCancel(ctx)
	for _, ep := range ws.Endpoints {
		if !ep.Accepts(env.Type) {
			continue
		}
		ep := ep
		fn := func() {
			_ = ws.Deliverer.Deliver(deliverCtx, ep, env)
		}
		if ws.Pool != nil {
			if err := ws.Pool.Submit(deliverCtx, fn); err != nil {
				slog.WarnContext(ctx, "webhook pool full", slog.String("webhook_id", ep.ID))
			}
		} else {
			go fn()
		}
	}

	return nil
}

// Status returns delivery counters for every endpoint.
func (ws *Subscriber) Status() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(ws.Endpoints))
	for _, ep := range ws.Endpoints {
		out = append(out, ws.Deliverer.Status(ep))
	}
	return out
}
