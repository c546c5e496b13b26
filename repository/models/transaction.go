package models

import (
	"encoding/json"
	"time"
)

// Transaction statuses
const (
	TxnStatusSuccess = "success"
	TxnStatusFailed  = "failed"
	TxnStatusPending = "pending"
)

// Transaction is the append-only audit record of one gateway callback.
// A row is written for every callback received, including ones that fail
// signature verification; rows are never mutated afterwards.
type Transaction struct {
	ID            uint            `gorm:"column:transaction_id;primaryKey;autoIncrement"`
	OrderID       uint            `gorm:"column:order_id;index;not null"`
	Order         *Order          `gorm:"foreignKey:OrderID"`
	ProviderTxnID string          `gorm:"column:provider_txn_id;type:varchar(200);index"`
	Status        string          `gorm:"column:status;type:varchar(20);default:'pending'"`
	RawPayload    json.RawMessage `gorm:"column:raw_payload;type:jsonb"`
	SignedOk      bool            `gorm:"column:signed_ok;default:false"`
	IPNVerified   bool            `gorm:"column:ipn_verified;default:false"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
