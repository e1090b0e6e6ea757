package store

// Contact is an indexed directory entry.
type Contact struct {
	ID            string
	DisplayName   string
	StatusMessage string
	IsSelf        bool
}

// Message is an indexed message. ID is the row id; MsgID the server id.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	SenderName     string
	RecipientID    string
	Kind           string
	Body           string
	CreatedAt      int64 // unix millis
}

// SearchResult holds a message with a snippet around the match.
type SearchResult struct {
	Message Message
	Snippet string
}

// Stats summarizes the index.
type Stats struct {
	Contacts      int64
	Conversations int64
	Messages      int64
}
