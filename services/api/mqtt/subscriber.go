// Package mqtt bridges broker-delivered uplinks into the ingestion gateway.
// TTN-style deployments publish the same uplink JSON over MQTT that the HTTP
// webhook receives; both channels share one gateway, so the idempotent
// insert contract applies either way.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/opws/opws-telemetry/services/api/config"
	"github.com/opws/opws-telemetry/services/api/ingest"
)

// Subscriber consumes uplink messages from a broker topic and feeds them to
// the gateway.
type Subscriber struct {
	client  paho.Client
	cfg     config.Config
	gateway *ingest.Gateway
	log     *slog.Logger
}

// NewSubscriber configures a paho client with auto-reconnect; it does not
// connect yet.
func NewSubscriber(cfg config.Config, gateway *ingest.Gateway, log *slog.Logger) *Subscriber {
	s := &Subscriber{cfg: cfg, gateway: gateway, log: log}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.MQTTBrokerURL)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ paho.Client) {
		log.Info("mqtt connected", "broker", cfg.MQTTBrokerURL)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	s.client = paho.NewClient(opts)
	return s
}

// Connect establishes the broker connection and subscribes to the uplink
// topic at QoS 1.
func (s *Subscriber) Connect(ctx context.Context) error {
	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	sub := s.client.Subscribe(s.cfg.MQTTTopic, 1, s.handleMessage)
	if !sub.WaitTimeout(5 * time.Second) {
		s.client.Disconnect(0)
		return fmt.Errorf("subscribe timeout for topic %s", s.cfg.MQTTTopic)
	}
	if err := sub.Error(); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("subscribe to %s: %w", s.cfg.MQTTTopic, err)
	}

	s.log.Info("subscribed to mqtt uplink topic", "topic", s.cfg.MQTTTopic)
	return nil
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}

func (s *Subscriber) handleMessage(_ paho.Client, msg paho.Message) {
	var uplink ingest.Uplink
	if err := json.Unmarshal(msg.Payload(), &uplink); err != nil {
		s.log.Warn("unparsable uplink message", "topic", msg.Topic(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := s.gateway.Ingest(ctx, uplink)
	if err != nil {
		s.log.Warn("mqtt uplink rejected", "topic", msg.Topic(), "dev_eui", uplink.DevEUI, "error", err)
		return
	}

	s.log.Debug("mqtt uplink ingested",
		"dev_eui", uplink.DevEUI,
		"station", result.Station,
		"inserted", result.Inserted,
	)
}
