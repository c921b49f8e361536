package adapter

import (
	"context"
	"fmt"

	"bidhub/internal/pkg/httpclient"
	"bidhub/internal/service/negotiation/domain/port"
)

const (
	invoiceCreatePath = "/invoices"
	invoiceVoidPath   = "/invoices/void"
)

// InvoiceHTTPAdapter 实现了 port.InvoiceService 接口。
type InvoiceHTTPAdapter struct {
	client  *httpclient.Client
	service string
}

func NewInvoiceHTTPAdapter(client *httpclient.Client, serviceName string) *InvoiceHTTPAdapter {
	return &InvoiceHTTPAdapter{client: client, service: serviceName}
}

type createInvoiceResponse struct {
	InvoiceID string `json:"invoiceId"`
}

func (a *InvoiceHTTPAdapter) CreateInvoice(ctx context.Context, req port.InvoiceRequest) (string, error) {
	body := map[string]interface{}{
		"idempotencyKey": req.IdempotencyKey,
		"bidId":          req.BidID,
		"orderId":        req.OrderID,
		"unitPrice":      req.UnitPrice,
		"quantity":       req.Quantity,
		"total":          req.Total,
	}
	var resp createInvoiceResponse
	if err := a.client.PostJSON(ctx, a.service, invoiceCreatePath, body, &resp); err != nil {
		return "", err
	}
	if resp.InvoiceID == "" {
		return "", fmt.Errorf("%s returned empty invoiceId", a.service)
	}
	return resp.InvoiceID, nil
}

func (a *InvoiceHTTPAdapter) VoidInvoice(ctx context.Context, invoiceID string) error {
	return a.client.PostJSON(ctx, a.service, invoiceVoidPath, map[string]string{"invoiceId": invoiceID}, nil)
}
