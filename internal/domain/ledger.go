package domain

import "time"

// EntryKind enumerates credit ledger entry types.
type EntryKind string

const (
	EntryKindCharge EntryKind = "CHARGE"
	EntryKindRefund EntryKind = "REFUND"
)

// LedgerEntry records a credit movement tied to a generation task. Amount is
// negative for charges and positive for refunds.
type LedgerEntry struct {
	ID            string
	UserID        string
	Amount        int64
	RelatedTaskID string
	Kind          EntryKind
	CreatedAt     time.Time
}
