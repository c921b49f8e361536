// internal/service/negotiation/application/dto.go
package application

import (
	"time"

	"bidhub/internal/service/negotiation/domain"
)

// CreateBidRequest 是发起出价用例的输入
type CreateBidRequest struct {
	BuyerID   string  `json:"buyerId"`
	VendorID  string  `json:"vendorId"`
	ProductID string  `json:"productId"`
	Amount    float64 `json:"amount"`
	Quantity  int     `json:"quantity"`
	Message   string  `json:"message,omitempty"`
}

// CounterBidRequest 是还价用例的输入，ActorID 由接口层从请求头填入
type CounterBidRequest struct {
	BidID    string  `json:"bidId"`
	ActorID  string  `json:"-"`
	Amount   float64 `json:"amount"`
	Quantity int     `json:"quantity"`
	Message  string  `json:"message,omitempty"`
}

type CounterView struct {
	Actor     domain.Party `json:"actor"`
	Amount    float64      `json:"amount"`
	Quantity  int          `json:"quantity"`
	Message   string       `json:"message,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

type AgreementView struct {
	Amount      float64   `json:"amount"`
	Quantity    int       `json:"quantity"`
	Total       float64   `json:"total"`
	ConfirmedAt time.Time `json:"confirmedAt"`
	OrderID     string    `json:"orderId"`
	InvoiceID   string    `json:"invoiceId"`
}

// BidView 是对外返回的出价快照
type BidView struct {
	ID             string         `json:"id"`
	ProductID      string         `json:"productId"`
	BuyerID        string         `json:"buyerId"`
	VendorID       string         `json:"vendorId"`
	Amount         float64        `json:"amount"`
	Quantity       int            `json:"quantity"`
	Message        string         `json:"message,omitempty"`
	Status         domain.Status  `json:"status"`
	AwaitingAction domain.Party   `json:"awaitingAction"`
	RejectReason   string         `json:"rejectReason,omitempty"`
	CounterHistory []CounterView  `json:"counterHistory"`
	Agreement      *AgreementView `json:"agreement,omitempty"`
	ValidUntil     time.Time      `json:"validUntil"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// AcceptResponse 在出价视图之外附带订单号和发票号
type AcceptResponse struct {
	Bid       BidView `json:"bid"`
	OrderID   string  `json:"orderId"`
	InvoiceID string  `json:"invoiceId"`
}

func ToBidView(b *domain.Bid) BidView {
	v := BidView{
		ID:             b.ID,
		ProductID:      b.ProductID,
		BuyerID:        b.BuyerID,
		VendorID:       b.VendorID,
		Amount:         b.Amount,
		Quantity:       b.Quantity,
		Message:        b.Message,
		Status:         b.Status(),
		AwaitingAction: b.AwaitingAction,
		CounterHistory: make([]CounterView, 0, len(b.CounterHistory)),
		ValidUntil:     b.ValidUntil,
		Version:        b.Version,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	for _, e := range b.CounterHistory {
		v.CounterHistory = append(v.CounterHistory, CounterView{
			Actor: e.Actor, Amount: e.Amount, Quantity: e.Quantity, Message: e.Message, CreatedAt: e.CreatedAt,
		})
	}
	if r, ok := b.State.(domain.Rejected); ok {
		v.RejectReason = r.Reason
	}
	if a := b.Agreement(); a != nil {
		v.Agreement = &AgreementView{
			Amount:      a.Amount,
			Quantity:    a.Quantity,
			Total:       a.Amount * float64(a.Quantity),
			ConfirmedAt: a.ConfirmedAt,
			OrderID:     a.OrderID,
			InvoiceID:   a.InvoiceID,
		}
	}
	return v
}

func ToBidViews(bids []*domain.Bid) []BidView {
	out := make([]BidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, ToBidView(b))
	}
	return out
}
