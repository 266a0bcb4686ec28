package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type EntryType string

const (
	TypeEscrowCredit      EntryType = "escrow_credit"
	TypeFallbackCredit    EntryType = "fallback_credit"
	TypeWithdrawalDebit   EntryType = "withdrawal_debit"
	TypeWithdrawalRefund  EntryType = "withdrawal_refund"
	TypeFundingCharge     EntryType = "funding_charge"
	TypeDisputeAdjustment EntryType = "dispute_adjustment"
)

type ReferenceType string

const (
	RefContract   ReferenceType = "contract"
	RefWithdrawal ReferenceType = "withdrawal"
	RefPayment    ReferenceType = "job_payment"
)

// Transaction is an append-only record of one monetary event. Rows are
// hash-chained per creator; PaidAt is set once and the row is never mutated
// afterwards except for status correction on a confirmed failure.
type Transaction struct {
	ID            string          `gorm:"column:id;primaryKey"`
	CreatorID     string          `gorm:"column:creator_id;index;not null"`
	Type          EntryType       `gorm:"column:type;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(15,2);not null"`
	ReferenceType ReferenceType   `gorm:"column:reference_type"`
	ReferenceID   string          `gorm:"column:reference_id;index"`
	Description   string          `gorm:"column:description"`
	Status        string          `gorm:"column:status;default:'paid'"`
	PreviousHash  string          `gorm:"column:previous_hash"`
	Hash          string          `gorm:"column:hash"`
	Metadata      datatypes.JSON  `gorm:"column:metadata"`
	PaidAt        *time.Time      `gorm:"column:paid_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) HashFields() map[string]string {
	return map[string]string{
		"id":             t.ID,
		"creator_id":     t.CreatorID,
		"type":           string(t.Type),
		"amount":         t.Amount.StringFixed(2),
		"reference_type": string(t.ReferenceType),
		"reference_id":   t.ReferenceID,
		"description":    t.Description,
		"previous_hash":  t.PreviousHash,
	}
}

func (t *Transaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
