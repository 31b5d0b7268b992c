package broker

import (
	"testing"

	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/config"
)

func TestNewBroker(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"default is memory", config.Config{}, "memory"},
		{"kafka brokers imply kafka", config.Config{KafkaBrokers: "localhost:9092"}, "kafka"},
		{"explicit memory wins", config.Config{BrokerDriver: "memory", KafkaBrokers: "localhost:9092"}, "memory"},
		{"rabbitmq", config.Config{BrokerDriver: "rabbitmq", RabbitMQURL: "amqp://localhost"}, "rabbitmq"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBroker(&tt.cfg, zap.NewNop())
			if err != nil {
				t.Fatalf("NewBroker failed: %v", err)
			}
			defer b.Close()

			var got string
			switch b.(type) {
			case *InMemoryBroker:
				got = "memory"
			case *KafkaBroker:
				got = "kafka"
			case *RabbitMQBroker:
				got = "rabbitmq"
			}
			if got != tt.want {
				t.Errorf("expected %s broker, got %T", tt.want, b)
			}
		})
	}
}
