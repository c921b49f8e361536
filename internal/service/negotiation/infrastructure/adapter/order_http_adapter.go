package adapter

import (
	"context"
	"fmt"

	"bidhub/internal/pkg/httpclient"
	"bidhub/internal/service/negotiation/domain/port"
)

const (
	orderCreatePath = "/orders"
	orderCancelPath = "/orders/cancel"
)

// OrderHTTPAdapter 实现了 port.OrderService 接口。
type OrderHTTPAdapter struct {
	client  *httpclient.Client
	service string
}

func NewOrderHTTPAdapter(client *httpclient.Client, serviceName string) *OrderHTTPAdapter {
	return &OrderHTTPAdapter{client: client, service: serviceName}
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

// CreateOrder 以 idempotencyKey（每次成交尝试的预占 ID）作为幂等键，
// 同一次尝试的重试返回同一订单，不同尝试各自下单
func (a *OrderHTTPAdapter) CreateOrder(ctx context.Context, req port.OrderRequest) (string, error) {
	body := map[string]interface{}{
		"idempotencyKey": req.IdempotencyKey,
		"bidId":          req.BidID,
		"buyerId":        req.BuyerID,
		"vendorId":       req.VendorID,
		"productId":      req.ProductID,
		"quantity":       req.Quantity,
		"unitPrice":      req.UnitPrice,
	}
	var resp createOrderResponse
	if err := a.client.PostJSON(ctx, a.service, orderCreatePath, body, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("%s returned empty orderId", a.service)
	}
	return resp.OrderID, nil
}

// CancelOrder 是成交失败时的补偿调用
func (a *OrderHTTPAdapter) CancelOrder(ctx context.Context, orderID string) error {
	return a.client.PostJSON(ctx, a.service, orderCancelPath, map[string]string{"orderId": orderID}, nil)
}
