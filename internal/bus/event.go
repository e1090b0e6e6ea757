package bus

import "time"

// Event kinds published by the client.
const (
	KindDelta            = "sync.delta"
	KindSuperseded       = "sync.superseded"
	KindSyncState        = "sync.state_changed"
	KindMessageApplied   = "chat.message_applied"
	KindHistoryReplaced  = "chat.history_replaced"
	KindDirectoryRefresh = "directory.refreshed"
	KindIndexed          = "index.updated"
)

// Event is a unit published on the bus. Seq is assigned by Publish and
// increases across all kinds.
type Event struct {
	Seq       uint64
	Kind      string
	Timestamp time.Time
	Payload   any
}
