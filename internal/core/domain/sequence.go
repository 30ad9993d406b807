// internal/core/domain/sequence.go
package domain

import (
	"fmt"
	"time"
)

// TransactionType scopes a sequence counter and prefixes its identifiers.
type TransactionType string

const (
	TransactionSale  TransactionType = "S"
	TransactionOrder TransactionType = "O"
)

const dateKeyLayout = "060102"

// DateKey renders t as YYMMDD in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateKeyLayout)
}

// FormatTransactionID builds identifiers such as S2405170007.
func FormatTransactionID(txType TransactionType, dateKey string, seq int64) string {
	return fmt.Sprintf("%s%s%04d", txType, dateKey, seq)
}
