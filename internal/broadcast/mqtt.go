package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultConnectTimeout = 5 * time.Second
	maxConnectElapsed     = 30 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMs   = 250
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retained bool
	// ConnectRetries bounds the initial connection attempts after the first.
	ConnectRetries uint64
	// PublishTimeout bounds each publish, including the wait for a QoS 1 or
	// 2 acknowledgement.
	PublishTimeout time.Duration
}

// MQTTPublisher publishes each payload to a single topic.
type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	log    logger.Logger
	closed atomic.Bool
}

// NewMQTT connects to the broker, retrying with exponential backoff.
func NewMQTT(cfg MQTTConfig, log logger.Logger) (*MQTTPublisher, error) {
	errFactory := errors.New()

	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errFactory.WithMessage(errors.ErrMissingConfig, "mqtt broker and topic are required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "thermobeacon-" + uuid.NewString()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetWriteTimeout(cfg.PublishTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxConnectElapsed

	var client mqtt.Client
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Int("attempt", attempt).Msg("Failed to connect to MQTT broker")
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, cfg.ConnectRetries))
	if err != nil {
		return nil, errFactory.Wrap(ErrConnect, err)
	}

	log.Info().
		Str("broker", cfg.Broker).
		Str("topic", cfg.Topic).
		Str("client_id", cfg.ClientID).
		Msg("Connected to MQTT broker")

	return &MQTTPublisher{client: client, cfg: cfg, log: log}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, payload []byte) error {
	errFactory := errors.New()

	if p.closed.Load() {
		return errFactory.New(ErrClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		p.log.Warn().
			Str("topic", p.cfg.Topic).
			Dur("timeout", p.cfg.PublishTimeout).
			Bool("connected", p.client.IsConnectionOpen()).
			Msg("MQTT publish not acknowledged")
		return errFactory.Wrap(ErrSend, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrSend, err)
	}

	p.log.Debug().Str("topic", p.cfg.Topic).Int("size", len(payload)).Msg("Published to MQTT")

	return nil
}

func (p *MQTTPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesceMs)
		p.log.Info().Msg("MQTT client disconnected")
	}
	return nil
}
