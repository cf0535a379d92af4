// Package ingest carries webhook events from the HTTP edge to enrichment and storage
// over a watermill message bus.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/markwave/chatvault/internal/config"
)

// Broker kinds accepted in config.
const (
	BrokerMemory = "memory"
	BrokerAMQP   = "amqp"
)

// PubSub is the publisher/subscriber pair for one broker.
type PubSub struct {
	Kind       string
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both sides.
func (p PubSub) Close() error {
	var errs []error
	if p.Publisher != nil {
		errs = append(errs, p.Publisher.Close())
	}
	if p.Subscriber != nil && any(p.Subscriber) != any(p.Publisher) {
		errs = append(errs, p.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// NewPubSub builds the broker selected by cfg.Broker. The in-memory broker loses
// queued events on restart; amqp keeps them in a durable queue.
func NewPubSub(log *slog.Logger, cfg config.IngestConfig) (PubSub, error) {
	wlog := watermill.NewSlogLogger(log.With(slog.String("service", "ingest_bus")))
	kind := strings.ToLower(strings.TrimSpace(cfg.Broker))
	switch kind {
	case "", BrokerMemory:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wlog)
		return PubSub{Kind: BrokerMemory, Publisher: ch, Subscriber: ch}, nil
	case BrokerAMQP:
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return PubSub{}, errors.New("ingest.amqp_url is required for the amqp broker")
		}
		amqpCfg := amqp.NewDurableQueueConfig(cfg.AMQPURL)
		pub, err := amqp.NewPublisher(amqpCfg, wlog)
		if err != nil {
			return PubSub{}, fmt.Errorf("amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, wlog)
		if err != nil {
			_ = pub.Close()
			return PubSub{}, fmt.Errorf("amqp subscriber: %w", err)
		}
		return PubSub{Kind: BrokerAMQP, Publisher: pub, Subscriber: sub}, nil
	default:
		return PubSub{}, fmt.Errorf("unknown ingest broker %q (use: %s, %s)", cfg.Broker, BrokerMemory, BrokerAMQP)
	}
}
