package store

import (
	"strings"
	"unicode/utf8"
)

const snippetContext = 32

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages returns messages whose body contains query, ignoring ASCII
// case, newest first. conversationID narrows the search when not empty.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := selectMessageSQL + ` WHERE m.body LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY m.created_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.MsgID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.RecipientID,
			&r.Message.Kind, &r.Message.Body, &r.Message.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Snippet = snippet(r.Message.Body, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

// snippet marks the first match of query in body with << >> and trims the
// surrounding text to snippetContext bytes on each side.
func snippet(body, query string) string {
	lower, needle := strings.ToLower(body), strings.ToLower(query)
	if query == "" || len(lower) != len(body) {
		return body
	}
	i := strings.Index(lower, needle)
	if i < 0 {
		return body
	}
	end := i + len(needle)
	start := max(i-snippetContext, 0)
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	stop := min(end+snippetContext, len(body))
	for stop < len(body) && !utf8.RuneStart(body[stop]) {
		stop++
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(body[start:i])
	b.WriteString("<<")
	b.WriteString(body[i:end])
	b.WriteString(">>")
	b.WriteString(body[end:stop])
	if stop < len(body) {
		b.WriteString("...")
	}
	return b.String()
}
