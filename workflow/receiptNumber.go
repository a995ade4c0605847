package workflow

import (
	"fmt"
	"time"
)

// NewReceiptNumber builds a receipt number from the current time, e.g.
// RCP20260831143005123. Uniqueness is enforced by the database index on
// package_distributions.receipt_number; on a 1062 collision the caller
// retries with a fresh number.
func NewReceiptNumber(now time.Time) string {
	return fmt.Sprintf("RCP%s%03d", now.Format("20060102150405"), now.Nanosecond()/1e6)
}
