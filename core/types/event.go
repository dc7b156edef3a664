package types

// Event represents a typed event emitted by a state-changing market
// operation. Attributes carry the canonical string encoding of each field.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
