package broker

import (
	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/config"
)

// NewBroker builds the MessageBroker selected by BROKER_DRIVER. With no
// driver set it uses Kafka when KAFKA_BROKERS is set and the in-memory
// broker otherwise. The caller must Connect it.
func NewBroker(cfg *config.Config, logger *zap.Logger) (MessageBroker, error) {
	driver := cfg.BrokerDriver
	if driver == "" {
		driver = "memory"
		if cfg.KafkaBrokers != "" {
			driver = "kafka"
		}
	}

	switch driver {
	case "kafka":
		brokers := cfg.KafkaBrokerList()
		logger.Info("using kafka broker", zap.Strings("brokers", brokers), zap.String("group", cfg.KafkaConsumerGroup))
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			ClientID:      cfg.KafkaClientID,
		}, logger)
	case "rabbitmq":
		logger.Info("using rabbitmq broker", zap.String("group", cfg.KafkaConsumerGroup))
		return NewRabbitMQBroker(RabbitMQConfig{
			URL:           cfg.RabbitMQURL,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			ClientID:      cfg.KafkaClientID,
		}, logger)
	default:
		logger.Info("using in-memory broker")
		return NewInMemoryBroker(cfg.KafkaClientID, logger), nil
	}
}
