// internal/service/negotiation/domain/bid.go
package domain

import (
	"time"
)

// DefaultValidity 是新出价的默认有效期
const DefaultValidity = 7 * 24 * time.Hour

// Terms 是一组报价条款，Amount 为单价
type Terms struct {
	Amount   float64
	Quantity int
}

// Validate 校验条款的基本不变式
func (t Terms) Validate() error {
	if t.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// CounterEntry 是一次还价记录，追加后不可修改
type CounterEntry struct {
	Actor     Party
	Amount    float64
	Quantity  int
	Message   string
	CreatedAt time.Time
}

// Bid 是谈判聚合的根实体
type Bid struct {
	ID        string
	ProductID string
	BuyerID   string
	VendorID  string

	// 当前有效条款（最后一次还价，或创建时的条款）
	Amount   float64
	Quantity int

	InitialAmount   float64
	InitialQuantity int
	Message         string

	State          BidState
	AwaitingAction Party
	CounterHistory []CounterEntry
	ValidUntil     time.Time

	// Version 是乐观并发令牌，每次成功写入后由仓储递增
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBid 工厂函数：买家对某商品发起出价
func NewBid(id, buyerID, vendorID, productID string, terms Terms, message string, now time.Time, validity time.Duration) (*Bid, error) {
	if buyerID == "" || vendorID == "" || buyerID == vendorID {
		return nil, ErrInvalidParty
	}
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Bid{
		ID:              id,
		ProductID:       productID,
		BuyerID:         buyerID,
		VendorID:        vendorID,
		Amount:          terms.Amount,
		Quantity:        terms.Quantity,
		InitialAmount:   terms.Amount,
		InitialQuantity: terms.Quantity,
		Message:         message,
		State:           Pending{},
		AwaitingAction:  PartyVendor,
		ValidUntil:      now.Add(validity),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (b *Bid) Status() Status {
	return b.State.Status()
}

func (b *Bid) IsPending() bool {
	_, ok := b.State.(Pending)
	return ok
}

// Agreement 仅在已成交时返回非 nil
func (b *Bid) Agreement() *Agreement {
	if acc, ok := b.State.(Accepted); ok {
		a := acc.Agreement
		return &a
	}
	return nil
}

// LiveTerms 返回当前有效条款：最后一条还价，或创建时的条款
func (b *Bid) LiveTerms() Terms {
	if n := len(b.CounterHistory); n > 0 {
		last := b.CounterHistory[n-1]
		return Terms{Amount: last.Amount, Quantity: last.Quantity}
	}
	return Terms{Amount: b.InitialAmount, Quantity: b.InitialQuantity}
}

// PartyOf 将参与者 ID 解析为其在本出价中的角色
func (b *Bid) PartyOf(actorID string) (Party, error) {
	switch {
	case actorID == "":
		return "", ErrUnauthorized
	case actorID == b.BuyerID:
		return PartyBuyer, nil
	case actorID == b.VendorID:
		return PartyVendor, nil
	default:
		return "", ErrUnauthorized
	}
}

// PartyID 返回某一方的参与者 ID
func (b *Bid) PartyID(p Party) string {
	if p == PartyBuyer {
		return b.BuyerID
	}
	return b.VendorID
}

// IsOverdue 判断待处理出价是否已超过有效期
func (b *Bid) IsOverdue(now time.Time) bool {
	return b.IsPending() && !now.Before(b.ValidUntil)
}

// checkActionable 是 Counter/Accept/Reject 的共同前置条件，
// 顺序固定为：状态 -> 有效期 -> 轮次。
func (b *Bid) checkActionable(actor Party, now time.Time) error {
	if !b.IsPending() {
		return ErrBidNotPending
	}
	if b.IsOverdue(now) {
		return ErrBidExpired
	}
	if actor != b.AwaitingAction {
		return ErrNotYourTurn
	}
	return nil
}

// Counter 追加一次还价并把轮次交给对方
func (b *Bid) Counter(actor Party, terms Terms, message string, now time.Time) error {
	if err := b.checkActionable(actor, now); err != nil {
		return err
	}
	if err := terms.Validate(); err != nil {
		return err
	}
	b.CounterHistory = append(b.CounterHistory, CounterEntry{
		Actor:     actor,
		Amount:    terms.Amount,
		Quantity:  terms.Quantity,
		Message:   message,
		CreatedAt: now,
	})
	b.Amount = terms.Amount
	b.Quantity = terms.Quantity
	b.AwaitingAction = actor.Other()
	b.UpdatedAt = now
	return nil
}

// CanAccept 只做校验，不修改状态。成交需要先经过库存预占。
func (b *Bid) CanAccept(actor Party, now time.Time) error {
	return b.checkActionable(actor, now)
}

// Accept 记录成交协议。条款必须来自 LiveTerms，而不是客户端提交的值。
func (b *Bid) Accept(actor Party, agreement Agreement, now time.Time) error {
	if err := b.checkActionable(actor, now); err != nil {
		return err
	}
	agreement.ConfirmedAt = now
	b.State = Accepted{Agreement: agreement}
	b.UpdatedAt = now
	return nil
}

func (b *Bid) Reject(actor Party, reason string, now time.Time) error {
	if err := b.checkActionable(actor, now); err != nil {
		return err
	}
	b.State = Rejected{Reason: reason, At: now}
	b.UpdatedAt = now
	return nil
}

// Withdraw 只允许原出价的买家撤回，轮次不限
func (b *Bid) Withdraw(requester Party, now time.Time) error {
	if requester != PartyBuyer {
		return ErrUnauthorized
	}
	if !b.IsPending() {
		return ErrBidNotPending
	}
	if b.IsOverdue(now) {
		return ErrBidExpired
	}
	b.State = Withdrawn{At: now}
	b.UpdatedAt = now
	return nil
}

// Expire 由过期清理器或惰性检查调用
func (b *Bid) Expire(now time.Time) error {
	if !b.IsPending() {
		return ErrBidNotPending
	}
	if !b.IsOverdue(now) {
		return ErrNotOverdue
	}
	b.State = Expired{At: now}
	b.UpdatedAt = now
	return nil
}

// Clone 深拷贝，内存仓储用它隔离调用方的修改
func (b *Bid) Clone() *Bid {
	c := *b
	c.CounterHistory = append([]CounterEntry(nil), b.CounterHistory...)
	return &c
}
