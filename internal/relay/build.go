package relay

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/znsio/pubsub-relay-go/internal/buffer"
	"github.com/znsio/pubsub-relay-go/internal/codec"
	"github.com/znsio/pubsub-relay-go/internal/config"
	"github.com/znsio/pubsub-relay-go/internal/models"
	"github.com/znsio/pubsub-relay-go/internal/services"
	"github.com/znsio/pubsub-relay-go/internal/transform"
)

var ErrKafkaNotConfigured = errors.New("kafka host is required for this relay mode")

// Components are the Pub/Sub endpoints shared by the relay and the API.
type Components struct {
	Client *services.PubsubClient
	Sink   *services.PubsubSink
	Source *services.PubsubSource
}

func NewComponents(cfg *config.Config) (*Components, error) {
	enc, err := codec.ParseEncoding(cfg.PubsubEncoding)
	if err != nil {
		return nil, err
	}
	client := services.NewPubsubClientFromConfig(cfg)
	return &Components{
		Client: client,
		Sink: services.NewPubsubSink(client, services.PubsubSinkConfig{
			Topic:        cfg.PubsubTopic,
			Encoding:     enc,
			MaxEvents:    cfg.BatchMaxEvents,
			MaxBytes:     cfg.BatchMaxBytes,
			BatchTimeout: time.Duration(cfg.BatchTimeout) * time.Second,
		}),
		Source: services.NewPubsubSource(client, services.PubsubSourceConfig{
			Subscription: cfg.PubsubSubscription,
			MaxMessages:  cfg.PubsubMaxMessages,
			AckDeadline:  time.Duration(cfg.PubsubAckDeadline) * time.Second,
			RetryDelay:   time.Duration(cfg.PubsubRetryDelay) * time.Second,
		}),
	}, nil
}

// Build assembles the relay for cfg.RelayMode. It returns nil for ModeNone.
func Build(cfg *config.Config, c *Components) (*Relay, error) {
	if cfg.RelayMode == config.ModeNone {
		return nil, nil
	}

	whenFull, err := buffer.ParseWhenFull(cfg.BufferWhenFull)
	if err != nil {
		return nil, err
	}
	buf, err := buffer.New(cfg.BufferMaxEvents, whenFull)
	if err != nil {
		return nil, err
	}
	chain, err := Transforms(cfg)
	if err != nil {
		return nil, err
	}

	r := &Relay{Buffer: buf}
	if len(chain) > 0 {
		r.Transform = chain
	}

	if cfg.KafkaHost == "" {
		return nil, ErrKafkaNotConfigured
	}
	brokers := []string{net.JoinHostPort(cfg.KafkaHost, cfg.KafkaPort)}

	switch cfg.RelayMode {
	case config.ModePubsubToKafka:
		r.Source = c.Source
		r.Sink = services.NewKafkaSink(brokers, cfg.KafkaTopic)
	case config.ModeKafkaToPubsub:
		r.Source = services.NewKafkaSource(brokers, cfg.KafkaTopic, cfg.KafkaGroup)
		r.Sink = c.Sink
	default:
		return nil, fmt.Errorf("unknown relay mode %q", cfg.RelayMode)
	}
	return r, nil
}

// Transforms builds the configured transform chain; it may be empty.
func Transforms(cfg *config.Config) (transform.Chain, error) {
	var chain transform.Chain
	if cfg.FilterSuffix != "" {
		field := cfg.FilterField
		if field == "" {
			field = models.FieldMessage
		}
		chain = append(chain, transform.Filter{Field: field, Suffix: cfg.FilterSuffix, CaseSensitive: cfg.FilterCaseSensitive})
	}
	if cfg.ExtractPattern != "" {
		field := cfg.ExtractField
		if field == "" {
			field = models.FieldMessage
		}
		extract, err := transform.NewExtract(field, cfg.ExtractPattern, "", cfg.ExtractNumericGroups)
		if err != nil {
			return nil, err
		}
		chain = append(chain, extract)
	}
	return chain, nil
}
