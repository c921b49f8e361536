// internal/service/negotiation/domain/state.go
package domain

import "time"

// Party 标识谈判中的一方
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartyVendor Party = "vendor"
)

// Other 返回对手方
func (p Party) Other() Party {
	if p == PartyBuyer {
		return PartyVendor
	}
	return PartyBuyer
}

func (p Party) Valid() bool {
	return p == PartyBuyer || p == PartyVendor
}

// Status 是出价状态的对外表示（持久化、API 响应）
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
	StatusExpired   Status = "expired"
)

// BidState 是出价生命周期的标签化状态。
// 只有 Pending 是非终态；成交协议只存在于 Accepted 中，
// 因此"已拒绝但带有协议"这类非法组合无法被构造出来。
type BidState interface {
	Status() Status
	Terminal() bool
	sealed()
}

// Pending 等待 AwaitingAction 一方响应
type Pending struct{}

// Accepted 携带成交快照
type Accepted struct {
	Agreement Agreement
}

// Rejected 携带拒绝时的留言
type Rejected struct {
	Reason string
	At     time.Time
}

type Withdrawn struct {
	At time.Time
}

type Expired struct {
	At time.Time
}

func (Pending) Status() Status   { return StatusPending }
func (Accepted) Status() Status  { return StatusAccepted }
func (Rejected) Status() Status  { return StatusRejected }
func (Withdrawn) Status() Status { return StatusWithdrawn }
func (Expired) Status() Status   { return StatusExpired }

func (Pending) Terminal() bool   { return false }
func (Accepted) Terminal() bool  { return true }
func (Rejected) Terminal() bool  { return true }
func (Withdrawn) Terminal() bool { return true }
func (Expired) Terminal() bool   { return true }

func (Pending) sealed()   {}
func (Accepted) sealed()  {}
func (Rejected) sealed()  {}
func (Withdrawn) sealed() {}
func (Expired) sealed()   {}

// Agreement 是成交时锁定的条款
type Agreement struct {
	Amount        float64
	Quantity      int
	ConfirmedAt   time.Time
	OrderID       string
	InvoiceID     string
	ReservationID string
}

// RestoreState 根据持久化字段重建标签化状态，供仓储层使用。
func RestoreState(status Status, at time.Time, reason string, agreement *Agreement) (BidState, error) {
	switch status {
	case StatusPending:
		return Pending{}, nil
	case StatusAccepted:
		if agreement == nil {
			return nil, ErrCorruptState
		}
		return Accepted{Agreement: *agreement}, nil
	case StatusRejected:
		return Rejected{Reason: reason, At: at}, nil
	case StatusWithdrawn:
		return Withdrawn{At: at}, nil
	case StatusExpired:
		return Expired{At: at}, nil
	default:
		return nil, ErrCorruptState
	}
}
