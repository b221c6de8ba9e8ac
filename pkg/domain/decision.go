// Package domain holds the shared vocabulary of the decision engine: the
// decision wire types and the error taxonomy. It depends on nothing else in
// the repository so every layer can speak it.
package domain

// DecisionPayload is the state/value pair nested inside a wire decision.
type DecisionPayload struct {
	State string `json:"state"`
	Value any    `json:"value"`
}

// Decision is the wire representation of a single rule evaluation outcome.
// The JSON shape is part of the HTTP contract and must not drift.
type Decision struct {
	Policy      string          `json:"policy"`
	Namespace   string          `json:"namespace"`
	Rule        string          `json:"rule"`
	Decision    DecisionPayload `json:"decision"`
	Attachments map[string]any  `json:"attachments"`
}

// BatchResult is the response envelope for an evaluation request. Error is
// empty on full success; a batch with partial failures still carries the
// successful decisions.
type BatchResult struct {
	Decisions []Decision `json:"decisions"`
	Error     string     `json:"error"`
}
