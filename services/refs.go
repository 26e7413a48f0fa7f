package services

import (
	"fmt"
	"sync/atomic"
	"time"
)

var refSeq atomic.Uint64

// nextReference builds a monotonic, collision-free reference like
// INV-1735689600000-0042. The sequence disambiguates references generated
// within the same millisecond.
func nextReference(prefix string) string {
	seq := refSeq.Add(1) % 10000
	return fmt.Sprintf("%s-%d-%04d", prefix, time.Now().UnixMilli(), seq)
}

func nextInvoiceNumber() string {
	return nextReference("INV")
}

func nextPaymentReference() string {
	return nextReference("PAY")
}
