package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stayware/eventbus/pkg/audit"
	"github.com/stayware/eventbus/pkg/broadcast"
	"github.com/stayware/eventbus/pkg/config"
	"github.com/stayware/eventbus/pkg/event"
	"github.com/stayware/eventbus/pkg/publisher"
	"github.com/stayware/eventbus/pkg/queue"
	"github.com/stayware/eventbus/pkg/telemetry"
)

func main() {
	ctx := context.Background()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/eventbus-worker")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	// Initialize telemetry
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry()

	// Connect the durable queue engine
	engine, err := queue.Connect(ctx, cfg.Queue)
	if err != nil {
		log.Fatal("Failed to connect queue engine: ", err)
	}
	defer engine.Close()

	// Open the long-lived audit trail
	auditLog, err := audit.Connect(cfg.Audit)
	if err != nil {
		log.Fatal("Failed to connect audit store: ", err)
	}

	// Best-effort side channel; the worker runs without one if the
	// gateway transport is not configured.
	var announcer publisher.Announcer
	if cfg.Broadcast.Type != "" {
		notifier, err := broadcast.NewNotifier(cfg.Broadcast)
		if err != nil {
			log.Fatal("Failed to initialize broadcast notifier: ", err)
		}
		b := broadcast.NewBroadcaster(notifier, cfg.Broadcast.Channel)
		defer b.Close()
		announcer = b
	}

	router := publisher.New(engine, auditLog, announcer, cfg.Queue.Stream, cfg.Consumer.TargetSystem)
	defer router.Close()

	// Shut the consume loop down on SIGINT/SIGTERM; the engine's
	// disconnect signal interrupts blocking reads and backoff sleeps.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutting down")
		engine.Disconnect()
	}()

	consumerID := cfg.Consumer.ConsumerID
	if consumerID == "" {
		host, _ := os.Hostname()
		consumerID = cfg.Consumer.TargetSystem + "-" + host
	}

	handler := subscriptionHandler(cfg.Consumer)
	err = engine.Consume(ctx, cfg.Queue.Stream, cfg.Consumer.Group, consumerID, handler)
	if err != nil {
		log.Fatal("Consume loop terminated: ", err)
	}
}

// subscriptionHandler acknowledges events addressed to this system and
// matching its subscriptions. Events outside the subscription set are
// acknowledged without processing.
func subscriptionHandler(cfg config.ConsumerSettings) queue.Handler {
	subscribed := make(map[event.Type]bool, len(cfg.Subscriptions))
	for _, s := range cfg.Subscriptions {
		subscribed[event.Type(s)] = true
	}

	return func(ctx context.Context, e *event.Envelope, messageID string) error {
		if len(subscribed) > 0 && !subscribed[e.Type] {
			return nil
		}
		addressed := false
		for _, target := range e.Targets {
			if target == cfg.TargetSystem {
				addressed = true
				break
			}
		}
		if !addressed {
			return nil
		}
		log.Printf("Processing event %s (%s/%s) for tenant %s [message %s]",
			e.EventID, e.Type, e.Action, e.TenantID, messageID)
		return nil
	}
}
