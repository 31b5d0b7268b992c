package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fast-fab/Seller-service/internal/broker"
	"github.com/fast-fab/Seller-service/internal/config"
	"github.com/fast-fab/Seller-service/internal/events"
	"github.com/fast-fab/Seller-service/internal/logging"
	"github.com/fast-fab/Seller-service/internal/notifications"
)

const cliSource = "sellerctl"

// withProducer connects to the configured broker, runs fn and closes the
// broker. The in-memory broker is refused: nothing outside this process
// would see the message.
func withProducer(ctx context.Context, fn func(*notifications.EventProducer) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.BrokerDriver == "memory" || (cfg.BrokerDriver == "" && cfg.KafkaBrokers == "") {
		return fmt.Errorf("no external broker configured: set KAFKA_BROKERS or BROKER_DRIVER=rabbitmq")
	}
	cfg.KafkaClientID = cliSource

	logger := logging.New(cfg.LogLevel, cliSource)
	defer logger.Sync() //nolint:errcheck

	b, err := broker.NewBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck

	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	producer := notifications.NewEventProducer(b, notifications.ProducerConfig{
		Topics:  cfg.Topics,
		Retries: cfg.PublishRetries,
		Timeout: cfg.PublishTimeout,
	}, logger.With(zap.String("component", "producer")))
	return fn(producer)
}

func newPublishOrderCmd() *cobra.Command {
	var order events.OrderEvent

	cmd := &cobra.Command{
		Use:   "publish-order",
		Short: "Publish a NEW_ORDER event to the order-notifications topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if order.ProductID == "" {
				return fmt.Errorf("--product-id is required")
			}
			if order.OrderID == "" {
				order.OrderID = uuid.New().String()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return withProducer(ctx, func(p *notifications.EventProducer) error {
				if err := p.PublishNewOrder(ctx, order); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published order %s for product %s.\n", order.OrderID, order.ProductID)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&order.OrderID, "order-id", "", "Order ID (generated when empty)")
	f.StringVar(&order.ProductID, "product-id", "", "Product ID")
	f.StringVar(&order.ProductName, "product-name", "", "Product name shown in the notification")
	f.IntVar(&order.Quantity, "quantity", 1, "Quantity ordered")
	f.Float64Var(&order.DeliveryLatitude, "lat", 0, "Delivery latitude")
	f.Float64Var(&order.DeliveryLongitude, "lon", 0, "Delivery longitude")
	return cmd
}

func newRespondCmd() *cobra.Command {
	var resp events.SellerResponse

	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Publish a SELLER_RESPONSE event as if it came from the seller app",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resp.OrderID == "" || resp.SellerID == "" {
				return fmt.Errorf("--order-id and --seller-id are required")
			}
			resp.Timestamp = time.Now().UTC()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return withProducer(ctx, func(p *notifications.EventProducer) error {
				if err := p.PublishSellerResponse(ctx, resp); err != nil {
					return err
				}
				decision := "rejected"
				if resp.Accepted {
					decision = "accepted"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seller %s %s order %s.\n", resp.SellerID, decision, resp.OrderID)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&resp.OrderID, "order-id", "", "Order ID")
	f.StringVar(&resp.SellerID, "seller-id", "", "Seller ID")
	f.BoolVar(&resp.Accepted, "accepted", false, "Accept the order")
	f.StringVar(&resp.Reason, "reason", "", "Optional reason")
	return cmd
}
