// internal/service/negotiation/application/service.go
package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bidhub/internal/pkg/logger"
	"bidhub/internal/pkg/metrics"
	"bidhub/internal/service/negotiation/application/saga"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

// NegotiationService 编排出价的完整生命周期：创建、还价、成交、拒绝、撤回和查询。
// 它不持有任何跨请求的锁，所有写入都走仓储的版本号 CAS。
type NegotiationService struct {
	repo        domain.BidRepository
	ledger      *InventoryLedger
	coordinator *saga.Coordinator
	events      *EventDispatcher
	policy      port.BidPolicy
	tracer      trace.Tracer
	metrics     *metrics.Negotiation
	validity    time.Duration
	now         func() time.Time
}

func NewNegotiationService(
	repo domain.BidRepository,
	ledger *InventoryLedger,
	coordinator *saga.Coordinator,
	events *EventDispatcher,
	policy port.BidPolicy,
	tracer trace.Tracer,
	m *metrics.Negotiation,
	validity time.Duration,
) *NegotiationService {
	if validity <= 0 {
		validity = domain.DefaultValidity
	}
	s := &NegotiationService{
		repo:        repo,
		ledger:      ledger,
		coordinator: coordinator,
		events:      events,
		policy:      policy,
		tracer:      tracer,
		metrics:     m,
		validity:    validity,
		now:         time.Now,
	}
	coordinator.OnExpired(func(ctx context.Context, bid *domain.Bid) {
		s.recordTransition(ctx, domain.EventBidExpired, bid, "")
	})
	return s
}

// WithClock 替换时钟，测试使用；会同步到成交协调器
func (s *NegotiationService) WithClock(now func() time.Time) *NegotiationService {
	s.now = now
	s.coordinator.WithClock(now)
	return s
}

// CreateBid 买家对商品发起出价，轮到卖家处理
func (s *NegotiationService) CreateBid(ctx context.Context, req *CreateBidRequest) (*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateBid")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.String("buyer.id", req.BuyerID),
		attribute.String("vendor.id", req.VendorID),
	)

	terms := domain.Terms{Amount: req.Amount, Quantity: req.Quantity}
	bid, err := domain.NewBid(uuid.New().String(), req.BuyerID, req.VendorID, req.ProductID, terms, req.Message, s.now(), s.validity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.admit(ctx, bid.ProductID, domain.PartyBuyer, terms); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.checkAvailable(ctx, req.ProductID, req.Quantity); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.repo.Create(ctx, bid); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save bid")
		return nil, err
	}

	s.recordTransition(ctx, domain.EventBidCreated, bid, domain.PartyBuyer)
	return bid, nil
}

// CounterBid 由当前轮次的一方提出新条款
func (s *NegotiationService) CounterBid(ctx context.Context, req *CounterBidRequest) (*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "app.CounterBid")
	defer span.End()
	span.SetAttributes(attribute.String("bid.id", req.BidID))

	bid, actor, err := s.loadForAction(ctx, req.BidID, req.ActorID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	terms := domain.Terms{Amount: req.Amount, Quantity: req.Quantity}
	expected := bid.Version
	if err := bid.Counter(actor, terms, req.Message, s.now()); err != nil {
		return nil, err
	}
	if err := s.admit(ctx, bid.ProductID, actor, terms); err != nil {
		return nil, err
	}
	if err := s.checkAvailable(ctx, bid.ProductID, terms.Quantity); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.repo.Update(ctx, bid, expected); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordTransition(ctx, domain.EventBidCountered, bid, actor)
	return bid, nil
}

// AcceptBid 由当前轮次的一方接受对方的最新条款，成交过程见 saga.Coordinator
func (s *NegotiationService) AcceptBid(ctx context.Context, bidID, actorID string) (*AcceptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.AcceptBid")
	defer span.End()

	res, err := s.coordinator.Accept(ctx, bidID, actorID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	actor, _ := res.Bid.PartyOf(actorID)
	s.recordTransition(ctx, domain.EventBidAccepted, res.Bid, actor)
	return &AcceptResponse{Bid: ToBidView(res.Bid), OrderID: res.OrderID, InvoiceID: res.InvoiceID}, nil
}

// RejectBid 由当前轮次的一方终止谈判
func (s *NegotiationService) RejectBid(ctx context.Context, bidID, actorID, reason string) (*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "app.RejectBid")
	defer span.End()
	span.SetAttributes(attribute.String("bid.id", bidID))

	bid, actor, err := s.loadForAction(ctx, bidID, actorID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	expected := bid.Version
	if err := bid.Reject(actor, reason, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, bid, expected); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordTransition(ctx, domain.EventBidRejected, bid, actor)
	return bid, nil
}

// WithdrawBid 买家撤回出价，不受轮次限制
func (s *NegotiationService) WithdrawBid(ctx context.Context, bidID, requesterID string) (*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "app.WithdrawBid")
	defer span.End()
	span.SetAttributes(attribute.String("bid.id", bidID))

	bid, err := s.repo.FindByID(ctx, bidID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	requester, err := bid.PartyOf(requesterID)
	if err != nil {
		return nil, err
	}
	if requester != domain.PartyBuyer {
		return nil, domain.ErrUnauthorized
	}
	if err := s.expireIfOverdue(ctx, bid); err != nil {
		return nil, err
	}

	expected := bid.Version
	if err := bid.Withdraw(requester, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, bid, expected); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordTransition(ctx, domain.EventBidWithdrawn, bid, requester)
	return bid, nil
}

// GetBid 只允许出价双方查看
func (s *NegotiationService) GetBid(ctx context.Context, bidID, actorID string) (*domain.Bid, error) {
	bid, err := s.repo.FindByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if _, err := bid.PartyOf(actorID); err != nil {
		return nil, err
	}
	return bid, nil
}

// ListMyBids 返回买家发起的出价，status 为空时不过滤
func (s *NegotiationService) ListMyBids(ctx context.Context, buyerID string, status domain.Status) ([]*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListMyBids")
	defer span.End()
	return s.repo.ListByBuyer(ctx, buyerID, status)
}

// ListVendorProposals 返回卖家收到的出价
func (s *NegotiationService) ListVendorProposals(ctx context.Context, vendorID string, status domain.Status) ([]*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListVendorProposals")
	defer span.End()
	return s.repo.ListByVendor(ctx, vendorID, status)
}

// HighestPending 是只读投影：某商品仍在有效期内的 pending 出价中单价最高的一条。
// 单价相同时取更早创建的。
func (s *NegotiationService) HighestPending(ctx context.Context, productID string) (*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "app.HighestPending")
	defer span.End()

	bids, err := s.repo.ListPendingByProduct(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := s.now()
	live := bids[:0]
	for _, b := range bids {
		if !b.IsOverdue(now) {
			live = append(live, b)
		}
	}
	if len(live) == 0 {
		return nil, domain.ErrBidNotFound
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Amount != live[j].Amount {
			return live[i].Amount > live[j].Amount
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	return live[0], nil
}

// loadForAction 是 Counter/Reject 的公共前置：读取、解析角色、惰性过期
func (s *NegotiationService) loadForAction(ctx context.Context, bidID, actorID string) (*domain.Bid, domain.Party, error) {
	bid, err := s.repo.FindByID(ctx, bidID)
	if err != nil {
		return nil, "", err
	}
	actor, err := bid.PartyOf(actorID)
	if err != nil {
		return nil, "", err
	}
	if err := s.expireIfOverdue(ctx, bid); err != nil {
		return nil, "", err
	}
	return bid, actor, nil
}

// expireIfOverdue 在变更前检查有效期；已过期则先写入 Expired，再返回 ErrBidExpired
func (s *NegotiationService) expireIfOverdue(ctx context.Context, bid *domain.Bid) error {
	now := s.now()
	if !bid.IsOverdue(now) {
		return nil
	}
	written, err := domain.ExpireOverdue(ctx, s.repo, bid, now)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("bid", bid.ID).Msg("Failed to persist lazy expiry")
	}
	if written {
		s.recordTransition(ctx, domain.EventBidExpired, bid, "")
	}
	return domain.ErrBidExpired
}

func (s *NegotiationService) admit(ctx context.Context, productID string, actor domain.Party, terms domain.Terms) error {
	if s.policy == nil {
		return nil
	}
	ok, err := s.policy.Admit(ctx, port.AdmissionFact{
		ProductID: productID,
		Actor:     string(actor),
		Amount:    terms.Amount,
		Quantity:  terms.Quantity,
	})
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrPolicyViolation
	}
	return nil
}

// checkAvailable 是软校验：只读、不预占，真正的库存保证在成交时
func (s *NegotiationService) checkAvailable(ctx context.Context, productID string, quantity int) error {
	ok, err := s.ledger.CheckAvailable(ctx, productID, quantity)
	if err != nil {
		trace.SpanFromContext(ctx).SetStatus(codes.Error, "availability check failed")
		return err
	}
	if !ok {
		return domain.ErrProductUnavailable
	}
	return nil
}

func (s *NegotiationService) recordTransition(ctx context.Context, typ domain.EventType, bid *domain.Bid, actor domain.Party) {
	s.metrics.Transition(transitionName(typ))
	logger.Ctx(ctx).Info().
		Str("bid", bid.ID).
		Str("event", string(typ)).
		Str("status", string(bid.Status())).
		Int64("version", bid.Version).
		Msg("Bid transition committed")
	s.events.Publish(ctx, typ, bid, actor)
}

func transitionName(typ domain.EventType) string {
	switch typ {
	case domain.EventBidCreated:
		return "created"
	case domain.EventBidCountered:
		return "countered"
	case domain.EventBidAccepted:
		return "accepted"
	case domain.EventBidRejected:
		return "rejected"
	case domain.EventBidWithdrawn:
		return "withdrawn"
	case domain.EventBidExpired:
		return "expired"
	}
	return "unknown"
}

// IsRetryable 标记调用方可以刷新后重试的错误
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrOutOfStock)
}
