package ledger

import "fmt"

// Document number prefixes per record kind.
const (
	PrefixInvoice = "INV"
	PrefixExpense = "EXP"
	PrefixJobCost = "JOB"
	PrefixPayment = "PAY"
)

// FormatDocumentNumber renders the canonical reference number layout,
// e.g. INV-2026-000123. Sequences are allocated by an atomic per-year
// counter row, so concurrent creates never collide; gaps from rolled-back
// transactions are acceptable.
func FormatDocumentNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, seq)
}
