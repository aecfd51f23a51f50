// Package storage provides optional durable history for conversation
// logs. The core keeps everything in memory; a HistoryStore mirrors
// mutations to disk so history survives restarts. The default is Nop
// (volatile memory only), matching the core's in-memory design.
package storage

import "github.com/opd-ai/chatkit/message"

// HistoryStore mirrors conversation log mutations to durable storage.
// Implementations must tolerate deletes of unknown messages.
type HistoryStore interface {
	// SaveMessage writes the message's current state, overwriting any
	// previous version.
	SaveMessage(conversationID string, m *message.Message) error
	// LoadConversation returns the stored log in append order.
	LoadConversation(conversationID string) ([]*message.Message, error)
	// Conversations returns every stored conversation ID.
	Conversations() ([]string, error)
	// DeleteMessage removes the message; unknown messages are a no-op.
	DeleteMessage(conversationID string, seq uint64) error
	// Close releases underlying resources.
	Close() error
}

// Nop is the default HistoryStore: it stores nothing.
type Nop struct{}

// SaveMessage discards the message.
func (Nop) SaveMessage(string, *message.Message) error { return nil }

// LoadConversation returns no history.
func (Nop) LoadConversation(string) ([]*message.Message, error) { return nil, nil }

// Conversations returns no conversations.
func (Nop) Conversations() ([]string, error) { return nil, nil }

// DeleteMessage does nothing.
func (Nop) DeleteMessage(string, uint64) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
