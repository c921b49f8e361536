package infrastructure

import (
	"database/sql"

	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
)

// ToDomainBid 将数据库模型和还价记录还原为领域聚合
func ToDomainBid(m *BidModel, entries []CounterEntryModel) (*domain.Bid, error) {
	var agreement *domain.Agreement
	if m.AgreementQuantity.Valid {
		agreement = &domain.Agreement{
			Amount:        m.AgreementAmount.Float64,
			Quantity:      int(m.AgreementQuantity.Int64),
			ConfirmedAt:   m.ConfirmedAt.Time,
			OrderID:       m.OrderID.String,
			InvoiceID:     m.InvoiceID.String,
			ReservationID: m.ReservationID.String,
		}
	}
	state, err := domain.RestoreState(domain.Status(m.Status), m.StateAt.Time, m.StateReason, agreement)
	if err != nil {
		return nil, err
	}

	history := make([]domain.CounterEntry, 0, len(entries))
	for _, e := range entries {
		history = append(history, domain.CounterEntry{
			Actor:     domain.Party(e.Actor),
			Amount:    e.Amount,
			Quantity:  e.Quantity,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}

	return &domain.Bid{
		ID:              m.ID,
		ProductID:       m.ProductID,
		BuyerID:         m.BuyerID,
		VendorID:        m.VendorID,
		Amount:          m.Amount,
		Quantity:        m.Quantity,
		InitialAmount:   m.InitialAmount,
		InitialQuantity: m.InitialQuantity,
		Message:         m.Message,
		State:           state,
		AwaitingAction:  domain.Party(m.AwaitingAction),
		CounterHistory:  history,
		ValidUntil:      m.ValidUntil,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

// FromDomainBid 将聚合转换为可插入的模型（不含还价记录）
func FromDomainBid(b *domain.Bid) *BidModel {
	m := &BidModel{
		ID:              b.ID,
		ProductID:       b.ProductID,
		BuyerID:         b.BuyerID,
		VendorID:        b.VendorID,
		Amount:          b.Amount,
		Quantity:        b.Quantity,
		InitialAmount:   b.InitialAmount,
		InitialQuantity: b.InitialQuantity,
		Message:         b.Message,
		AwaitingAction:  string(b.AwaitingAction),
		ValidUntil:      b.ValidUntil,
		Version:         b.Version,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	applyState(m, b.State)
	return m
}

// applyState 把标签化状态展开为扁平列
func applyState(m *BidModel, state domain.BidState) {
	m.Status = string(state.Status())
	switch s := state.(type) {
	case domain.Accepted:
		a := s.Agreement
		m.StateAt = sql.NullTime{Time: a.ConfirmedAt, Valid: true}
		m.AgreementAmount = sql.NullFloat64{Float64: a.Amount, Valid: true}
		m.AgreementQuantity = sql.NullInt64{Int64: int64(a.Quantity), Valid: true}
		m.ConfirmedAt = sql.NullTime{Time: a.ConfirmedAt, Valid: true}
		m.OrderID = sql.NullString{String: a.OrderID, Valid: true}
		m.InvoiceID = sql.NullString{String: a.InvoiceID, Valid: true}
		m.ReservationID = sql.NullString{String: a.ReservationID, Valid: true}
	case domain.Rejected:
		m.StateReason = s.Reason
		m.StateAt = sql.NullTime{Time: s.At, Valid: true}
	case domain.Withdrawn:
		m.StateAt = sql.NullTime{Time: s.At, Valid: true}
	case domain.Expired:
		m.StateAt = sql.NullTime{Time: s.At, Valid: true}
	}
}

// stateColumns 返回 Update 时需要写回的状态相关列
func stateColumns(b *domain.Bid) map[string]interface{} {
	m := FromDomainBid(b)
	return map[string]interface{}{
		"amount":             m.Amount,
		"quantity":           m.Quantity,
		"status":             m.Status,
		"awaiting_action":    m.AwaitingAction,
		"state_reason":       m.StateReason,
		"state_at":           m.StateAt,
		"agreement_amount":   m.AgreementAmount,
		"agreement_quantity": m.AgreementQuantity,
		"confirmed_at":       m.ConfirmedAt,
		"order_id":           m.OrderID,
		"invoice_id":         m.InvoiceID,
		"reservation_id":     m.ReservationID,
		"updated_at":         m.UpdatedAt,
	}
}

func toCounterModels(bidID string, from int, entries []domain.CounterEntry) []CounterEntryModel {
	out := make([]CounterEntryModel, 0, len(entries))
	for i, e := range entries {
		out = append(out, CounterEntryModel{
			BidID:     bidID,
			Seq:       from + i + 1,
			Actor:     string(e.Actor),
			Amount:    e.Amount,
			Quantity:  e.Quantity,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

func toDomainAvailability(m *ProductAvailabilityModel) *port.Availability {
	return &port.Availability{
		ProductID:         m.ProductID,
		Active:            m.Active,
		TotalQuantity:     m.TotalQuantity,
		AvailableQuantity: m.AvailableQuantity,
		Version:           m.Version,
	}
}

func toDomainReservation(m *ReservationModel) port.Reservation {
	return port.Reservation{
		ID:        m.ID,
		BidID:     m.BidID,
		ProductID: m.ProductID,
		Quantity:  m.Quantity,
		Status:    port.ReservationStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
}
