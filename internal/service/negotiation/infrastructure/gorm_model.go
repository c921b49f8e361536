package infrastructure

import (
	"database/sql"
	"time"
)

// BidModel 对应 bids 表，Version 列承载乐观并发控制
type BidModel struct {
	ID              string  `gorm:"primaryKey;type:varchar(64)"`
	ProductID       string  `gorm:"type:varchar(64);index:idx_bids_product_status,priority:1"`
	BuyerID         string  `gorm:"type:varchar(64);index"`
	VendorID        string  `gorm:"type:varchar(64);index"`
	Amount          float64 `gorm:"type:decimal(14,2)"`
	Quantity        int
	InitialAmount   float64 `gorm:"type:decimal(14,2)"`
	InitialQuantity int
	Message         string `gorm:"type:text"`
	Status          string `gorm:"type:varchar(16);index:idx_bids_product_status,priority:2;index:idx_bids_status_valid,priority:1"`
	AwaitingAction  string `gorm:"type:varchar(16)"`
	StateReason     string `gorm:"type:text"`
	StateAt         sql.NullTime

	// 仅 accepted 时有值
	AgreementAmount   sql.NullFloat64 `gorm:"type:decimal(14,2)"`
	AgreementQuantity sql.NullInt64
	ConfirmedAt       sql.NullTime
	OrderID           sql.NullString `gorm:"type:varchar(64)"`
	InvoiceID         sql.NullString `gorm:"type:varchar(64)"`
	ReservationID     sql.NullString `gorm:"type:varchar(64)"`

	ValidUntil time.Time `gorm:"index:idx_bids_status_valid,priority:2"`
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (BidModel) TableName() string {
	return "bids"
}

// CounterEntryModel 对应 bid_counter_entries 表，只追加不修改
type CounterEntryModel struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	BidID     string  `gorm:"type:varchar(64);uniqueIndex:uk_counter_bid_seq,priority:1"`
	Seq       int     `gorm:"uniqueIndex:uk_counter_bid_seq,priority:2"`
	Actor     string  `gorm:"type:varchar(16)"`
	Amount    float64 `gorm:"type:decimal(14,2)"`
	Quantity  int
	Message   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (CounterEntryModel) TableName() string {
	return "bid_counter_entries"
}

// ProductAvailabilityModel 对应 product_availability 表
type ProductAvailabilityModel struct {
	ProductID         string `gorm:"primaryKey;type:varchar(64)"`
	Active            bool
	TotalQuantity     int
	AvailableQuantity int
	Version           int64
	UpdatedAt         time.Time
}

func (ProductAvailabilityModel) TableName() string {
	return "product_availability"
}

// ReservationModel 对应 inventory_reservations 表
type ReservationModel struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	BidID     string `gorm:"type:varchar(64);index"`
	ProductID string `gorm:"type:varchar(64)"`
	Quantity  int
	Status    string    `gorm:"type:varchar(16);index:idx_reservations_status_created,priority:1"`
	CreatedAt time.Time `gorm:"index:idx_reservations_status_created,priority:2"`
	UpdatedAt time.Time
}

func (ReservationModel) TableName() string {
	return "inventory_reservations"
}
