package types

// Event is a typed record emitted while a program executes an instruction.
// The local ledger attaches them to the confirmed transaction as log messages.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
