package port

import "context"

// OrderRequest 是成交后创建订单所需的信息，条款来自出价的当前有效条款。
// IdempotencyKey 每次成交尝试唯一（取预占 ID），同一出价的并发尝试不会共用订单
type OrderRequest struct {
	IdempotencyKey string  `json:"idempotencyKey"`
	BidID          string  `json:"bidId"`
	BuyerID        string  `json:"buyerId"`
	VendorID       string  `json:"vendorId"`
	ProductID      string  `json:"productId"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unitPrice"`
}

// OrderService 是订单服务的出站端口。
type OrderService interface {
	CreateOrder(ctx context.Context, req OrderRequest) (orderID string, err error)

	// CancelOrder 是 CreateOrder 的补偿操作（尽力而为）
	CancelOrder(ctx context.Context, orderID string) error
}

type InvoiceRequest struct {
	IdempotencyKey string  `json:"idempotencyKey"`
	BidID          string  `json:"bidId"`
	OrderID        string  `json:"orderId"`
	UnitPrice      float64 `json:"unitPrice"`
	Quantity       int     `json:"quantity"`
	Total          float64 `json:"total"`
}

// InvoiceService 是发票服务的出站端口。
type InvoiceService interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (invoiceID string, err error)
	VoidInvoice(ctx context.Context, invoiceID string) error
}
