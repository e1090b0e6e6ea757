package sync

import (
	"github.com/google/uuid"
	"github.com/matheus3301/lined/internal/chat"
)

// DeltaKind classifies a delta.
type DeltaKind string

// NewMessage is emitted for every message applied from SEND_MESSAGE or
// RECEIVE_MESSAGE.
const NewMessage DeltaKind = "NEW_MESSAGE"

// Delta is one application-visible change produced by the loop.
type Delta struct {
	ID           uuid.UUID
	Kind         DeltaKind
	Conversation *chat.Conversation
	Message      chat.Message
	Revision     int64
}
