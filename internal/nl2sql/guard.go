package nl2sql

import (
	"fmt"
	"strings"
)

// PlaceholderSQL replaces any statement that would modify the database. It
// returns one row telling the responder to answer from conversation memory.
const PlaceholderSQL = "SELECT 'No query was executed: answer as an assistant using the conversation memory only.' AS instruction"

// DeniedKeywords are matched case-insensitively as substrings anywhere in
// the statement, so identifiers like updated_at are blocked too.
var DeniedKeywords = []string{"create", "drop", "delete", "alter", "insert", "update"}

// Denylisted reports the first denied keyword, in DeniedKeywords order, that
// sql contains.
func Denylisted(sql string) (string, bool) {
	lower := strings.ToLower(sql)
	for _, keyword := range DeniedKeywords {
		if strings.Contains(lower, keyword) {
			return keyword, true
		}
	}
	return "", false
}

// ExtractSQL returns the body of the first ```sql fenced block. The closing
// fence is optional; stray backticks inside the block are dropped.
func ExtractSQL(completion string) (string, error) {
	lower := strings.ToLower(completion)
	start := strings.Index(lower, "```sql")
	if start < 0 {
		return "", ErrMalformedCompletion
	}
	body := completion[start+len("```sql"):]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	body = strings.TrimSpace(strings.ReplaceAll(body, "`", ""))
	if body == "" {
		return "", fmt.Errorf("%w: empty block", ErrMalformedCompletion)
	}
	return body, nil
}
