package websocket

import (
	"github.com/conneroisu/breach/internal/errors"
)

// MessageType identifies a server to browser frame.
type MessageType string

const (
	// MessageHello is sent once per connection with the latest sequence.
	MessageHello MessageType = "hello"
	// MessageReload announces a newly published snapshot.
	MessageReload MessageType = "reload"
	// MessageDiagnostics carries problems that did not produce a snapshot.
	MessageDiagnostics MessageType = "diagnostics"
)

// Message is the JSON frame written to browser sessions.
type Message struct {
	Type        MessageType         `json:"type"`
	Sequence    uint64              `json:"sequence"`
	Status      string              `json:"status,omitempty"`
	Diagnostics []errors.Diagnostic `json:"diagnostics,omitempty"`
}
