// internal/service/negotiation/domain/event.go
package domain

import "time"

// EventType 是出价状态流转对应的通知类型
type EventType string

const (
	EventBidCreated   EventType = "bid.created"
	EventBidCountered EventType = "bid.countered"
	EventBidAccepted  EventType = "bid.accepted"
	EventBidRejected  EventType = "bid.rejected"
	EventBidWithdrawn EventType = "bid.withdrawn"
	EventBidExpired   EventType = "bid.expired"
)

// BidEvent 是每次状态流转后发给双方的通知载荷
type BidEvent struct {
	EventID        string    `json:"eventId"`
	TraceID        string    `json:"traceId,omitempty"`
	Type           EventType `json:"type"`
	BidID          string    `json:"bidId"`
	ProductID      string    `json:"productId"`
	BuyerID        string    `json:"buyerId"`
	VendorID       string    `json:"vendorId"`
	Actor          Party     `json:"actor,omitempty"`
	Status         Status    `json:"status"`
	AwaitingAction Party     `json:"awaitingAction"`
	Amount         float64   `json:"amount"`
	Quantity       int       `json:"quantity"`
	OrderID        string    `json:"orderId,omitempty"`
	InvoiceID      string    `json:"invoiceId,omitempty"`
	Version        int64     `json:"version"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewBidEvent 从聚合当前快照构造事件
func NewBidEvent(eventID string, typ EventType, bid *Bid, actor Party, at time.Time) *BidEvent {
	ev := &BidEvent{
		EventID:        eventID,
		Type:           typ,
		BidID:          bid.ID,
		ProductID:      bid.ProductID,
		BuyerID:        bid.BuyerID,
		VendorID:       bid.VendorID,
		Actor:          actor,
		Status:         bid.Status(),
		AwaitingAction: bid.AwaitingAction,
		Amount:         bid.Amount,
		Quantity:       bid.Quantity,
		Version:        bid.Version,
		OccurredAt:     at,
	}
	if a := bid.Agreement(); a != nil {
		ev.OrderID = a.OrderID
		ev.InvoiceID = a.InvoiceID
	}
	return ev
}
