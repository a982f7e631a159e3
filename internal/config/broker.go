package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lumostream/socialcore/internal/bus"
	"github.com/lumostream/socialcore/internal/bus/inmemory"
	"github.com/lumostream/socialcore/internal/bus/kafkabus"
	"github.com/lumostream/socialcore/internal/bus/natsbus"
	"github.com/lumostream/socialcore/internal/bus/rabbitmq"
)

// NewBroker builds the configured event bus transport. clientName
// identifies the service on transports that support connection naming.
func NewBroker(cfg BrokerConfig, clientName string, log *slog.Logger) (bus.Broker, error) {
	switch cfg.Backend {
	case BrokerRabbitMQ:
		c, err := rabbitmq.New(rabbitmq.Config{
			URL:      cfg.URL,
			Exchange: cfg.Exchange,
			Options:  cfg.Options,
		}, log)
		if err != nil {
			return nil, err
		}

		return c, nil
	case BrokerNATS:
		c, err := natsbus.New(natsbus.Config{
			URL:     cfg.URL,
			Name:    clientName,
			Options: cfg.Options,
		}, log)
		if err != nil {
			return nil, err
		}

		return c, nil
	case BrokerKafka:
		c, err := kafkabus.New(kafkabus.Config{
			Brokers:  strings.Split(cfg.URL, ","),
			ClientID: clientName,
			Options:  cfg.Options,
		}, log)
		if err != nil {
			return nil, err
		}

		return c, nil
	case BrokerMemory:
		return inmemory.New(cfg.Options), nil
	default:
		return nil, fmt.Errorf("config: unknown broker backend %q", cfg.Backend)
	}
}
