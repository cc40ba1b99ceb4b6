package main

import (
	"context"
	"log"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	sbconfig "github.com/signbridge/signbridge/config"
	"github.com/signbridge/signbridge/internal/api"
	"github.com/signbridge/signbridge/internal/runtime"
	"github.com/signbridge/signbridge/pkg/events"
	"github.com/signbridge/signbridge/pkg/webhook"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[sbconfig.TranslatorConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("signbridge"),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	pub := events.NewPublisher(srv.QueueManager(), "signbridge", eventRef)
	recorder := events.NewRecorder(cfg.EventRecorderSize)

	tr, err := runtime.NewTranslator(&cfg,
		runtime.WithPool(pool),
		runtime.WithPublisher(pub),
	)
	if err != nil {
		log.Fatalf("building translator: %v", err)
	}
	defer tr.Close(ctx)

	tr.WatchLabels(ctx)

	// --- Event forwarding ---
	endpoints, err := webhook.ParseEndpoints(cfg.WebhookURLs, cfg.WebhookSecret, cfg.WebhookEventTypes, cfg.WebhookMaxRPS)
	if err != nil {
		log.Fatalf("parsing webhooks: %v", err)
	}
	backoffInitial, backoffMax := cfg.WebhookBackoff()
	whSubscriber := &webhook.Subscriber{
		Endpoints: endpoints,
		Deliverer: webhook.NewDeliverer(webhook.DelivererConfig{
			MaxRetries:       cfg.WebhookMaxRetries,
			Timeout:          time.Duration(cfg.WebhookTimeoutSec) * time.Second,
			BackoffInitial:   backoffInitial,
			BackoffMax:       backoffMax,
			BreakerThreshold: cfg.CBFailThreshold,
			BreakerReset:     time.Duration(cfg.CBResetTimeoutSec) * time.Second,
		}, nil),
		Pool: pool,
	}

	handler := api.NewHandler(tr,
		api.WithRecorder(recorder),
		api.WithWebhooks(whSubscriber),
	)

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".recorder", eventURL, recorder),
		frame.WithRegisterSubscriber(eventRef+".webhooks", eventURL, whSubscriber),
		frame.WithHTTPHandler(handler.Routes()),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
