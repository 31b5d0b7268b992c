package notifications

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/fast-fab/Seller-service/internal/events"
	"github.com/fast-fab/Seller-service/internal/notifications/push"
)

const (
	TypeOrderRequest = "ORDER_REQUEST"
	orderTitle       = "New Order Request"
)

// Order/seller states kept in order_seller_status.
const (
	StatusNotified = "NOTIFIED"
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// Notification is a stored notification for a seller. Records are written
// once per eligible seller per dispatch and never updated.
type Notification struct {
	ID        string          `json:"id"`
	SellerID  string          `json:"sellerId"`
	OrderID   string          `json:"orderId"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Delivered bool            `json:"delivered"`
	CreatedAt time.Time       `json:"createdAt"`
}

// OrderResponse is one accept/reject submission. Repeated submissions each
// get their own row.
type OrderResponse struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"orderId"`
	SellerID     string    `json:"sellerId"`
	Accepted     bool      `json:"accepted"`
	Reason       string    `json:"reason,omitempty"`
	ResponseTime time.Time `json:"responseTime"`
}

// OrderStatus is the latest state of one seller for one order.
type OrderStatus struct {
	OrderID   string    `json:"orderId"`
	SellerID  string    `json:"sellerId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func responseStatus(accepted bool) string {
	if accepted {
		return StatusAccepted
	}
	return StatusRejected
}

// orderPush builds the push shown on the seller's device.
func orderPush(order events.OrderEvent) push.Notification {
	return push.Notification{
		Title: orderTitle,
		Body:  "New order for " + order.ProductName + ". Are you available to fulfill?",
		Data: map[string]string{
			"orderId":   order.OrderID,
			"productId": order.ProductID,
			"quantity":  strconv.Itoa(order.Quantity),
			"type":      TypeOrderRequest,
		},
	}
}

// orderRecord builds the stored notification for sellerID. metadata is the
// order event as JSON.
func orderRecord(order events.OrderEvent, sellerID string, metadata json.RawMessage, delivered bool) Notification {
	return Notification{
		SellerID:  sellerID,
		OrderID:   order.OrderID,
		Title:     orderTitle,
		Message:   "New order for " + order.ProductName,
		Type:      TypeOrderRequest,
		Metadata:  metadata,
		Delivered: delivered,
	}
}
