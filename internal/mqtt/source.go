// Package mqtt is an optional telemetry source for devices that publish
// readings instead of polling the HTTP handshake.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/soilbridge/pumpd/internal/config"
	"github.com/soilbridge/pumpd/internal/pump"
)

// Connect establishes the broker connection with exponential-backoff retry.
// The connection is closed when ctx is cancelled.
func Connect(ctx context.Context, cfg config.MQTTConfig) (paho.Client, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID("pumpd-" + uuid.NewString())
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client paho.Client
	err := backoff.Retry(func() error {
		client = paho.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("broker", broker).Msg("MQTT connect failed, retrying")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection: %w", err)
	}

	log.Info().Str("broker", broker).Msg("Connected to MQTT broker")

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Info().Msg("MQTT connection closed")
	}()

	return client, nil
}

// Source subscribes to the telemetry topic and feeds readings into the pump
// bridge. Flood traffic beyond the configured rate is dropped, not queued.
type Source struct {
	client  paho.Client
	topic   string
	bridge  *pump.Bridge
	limiter *rate.Limiter
	dropped uint64
}

// NewSource creates a Source consuming from topic at most rps messages/sec.
func NewSource(client paho.Client, topic string, bridge *pump.Bridge, rps float64) *Source {
	return &Source{
		client:  client,
		topic:   topic,
		bridge:  bridge,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// Run subscribes and blocks until the context is cancelled.
func (s *Source) Run(ctx context.Context) error {
	token := s.client.Subscribe(s.topic, 1, func(_ paho.Client, msg paho.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.topic, token.Error())
	}

	log.Info().Str("topic", s.topic).Msg("Subscribed to telemetry topic")

	<-ctx.Done()

	unsub := s.client.Unsubscribe(s.topic)
	unsub.Wait()
	return nil
}

// handleMessage ingests one published reading. Malformed payloads are skipped
// without error: telemetry tolerance applies on this path exactly as on HTTP.
func (s *Source) handleMessage(topic string, payload []byte) {
	if !s.limiter.Allow() {
		s.dropped++
		if s.dropped%100 == 1 {
			log.Warn().Str("topic", topic).Uint64("dropped", s.dropped).Msg("Dropping flood telemetry")
		}
		return
	}

	var p pump.Payload
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		log.Debug().Err(err).Str("topic", topic).Msg("Skipping malformed telemetry payload")
		return
	}

	source := p.Source
	if source == "" {
		source = "mqtt:" + topic
	}
	result := s.bridge.Ingest(p, source)

	log.Debug().
		Str("topic", topic).
		Str("desired_action", string(result.DesiredAction)).
		Msg("Ingested MQTT telemetry")
}
