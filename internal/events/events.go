// Package events defines the JSON payloads exchanged over the broker and the
// message-type header values that identify them.
package events

import (
	"time"

	"github.com/fast-fab/Seller-service/internal/geo"
)

// Message types, carried in the message-type header.
const (
	TypeNewOrder         = "NEW_ORDER"
	TypeSellerResponse   = "SELLER_RESPONSE"
	TypeStatusUpdate     = "STATUS_UPDATE"
	TypeNotificationSent = "NOTIFICATION_SENT"
)

// Status change kinds published on the order-status topic.
const (
	StatusOutOfStock        = "OUT_OF_STOCK"
	StatusRestocked         = "RESTOCKED"
	StatusSellerDeactivated = "SELLER_DEACTIVATED"
	StatusSellerActivated   = "SELLER_ACTIVATED"
)

// OrderEvent is an inbound request to find sellers for an order.
type OrderEvent struct {
	OrderID           string  `json:"orderId"`
	ProductID         string  `json:"productId"`
	ProductName       string  `json:"productName"`
	Quantity          int     `json:"quantity"`
	DeliveryLatitude  float64 `json:"deliveryLatitude"`
	DeliveryLongitude float64 `json:"deliveryLongitude"`
}

// MatchOrder is the view of the event the geo matcher needs.
func (o OrderEvent) MatchOrder() geo.Order {
	return geo.Order{
		ProductID: o.ProductID,
		Delivery:  geo.Point{Lat: o.DeliveryLatitude, Lon: o.DeliveryLongitude},
	}
}

// SellerResponse is a seller's accept/reject decision for an order.
type SellerResponse struct {
	OrderID   string    `json:"orderId"`
	SellerID  string    `json:"sellerId"`
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChange describes what changed. ProductID and Stock are set for
// stock changes only.
type StatusChange struct {
	Type      string `json:"type"`
	ProductID string `json:"productId,omitempty"`
	Stock     *int   `json:"stock,omitempty"`
}

type StatusUpdate struct {
	OrderID   string       `json:"orderId,omitempty"`
	SellerID  string       `json:"sellerId,omitempty"`
	Status    StatusChange `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// Key is the partition key: the order when there is one, else the seller.
func (s StatusUpdate) Key() string {
	if s.OrderID != "" {
		return s.OrderID
	}
	return s.SellerID
}

// NotificationSent summarises one dispatch for downstream consumers.
type NotificationSent struct {
	OrderID        string    `json:"orderId"`
	SellerIDs      []string  `json:"sellerIds"`
	NotifiedCount  int       `json:"notifiedCount"`
	DeliveredCount int       `json:"deliveredCount"`
	Timestamp      time.Time `json:"timestamp"`
}
