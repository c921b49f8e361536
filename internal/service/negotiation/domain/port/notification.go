package port

import (
	"context"

	"bidhub/internal/service/negotiation/domain"
)

// Notifier 是通知服务的出站端口。
// 引擎只负责发出，不等待送达结果。
type Notifier interface {
	Notify(ctx context.Context, partyID string, event *domain.BidEvent) error
}

// AdmissionFact 是出价准入规则的输入
type AdmissionFact struct {
	ProductID string  `json:"productId"`
	Actor     string  `json:"actor"`
	Amount    float64 `json:"amount"`
	Quantity  int     `json:"quantity"`
}

// BidPolicy 对报价条款执行可配置的准入规则
type BidPolicy interface {
	Admit(ctx context.Context, fact AdmissionFact) (bool, error)
}
