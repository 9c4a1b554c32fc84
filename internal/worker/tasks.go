package worker

// Task type names shared between the enqueueing services and this
// worker. Kept in sync with the constants in internal/services to
// avoid an import cycle.
const (
	TypePaymentEvent = "payment:event"
	TypeLedgerAlert  = "ledger:alert"
)
