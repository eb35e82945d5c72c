package types

// Event is a structured notification emitted by the ledger while applying an
// instruction.
type Event struct {
	Type       string
	Attributes map[string]string
}
