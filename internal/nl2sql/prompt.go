package nl2sql

import (
	"fmt"
	"strings"

	"github.com/duckmesh/sqlchat/internal/llm"
)

const systemPrompt = `You translate questions about a relational database into one read-only SQL query.

Rules:
- Use only the tables and columns listed in the schema.
- Write a single SELECT statement for the %s dialect. Never modify data or schema.
- Select only the columns needed to answer the question.
- When the question refers to an earlier answer, build on the previous query.
- Reply with the query inside a ` + "```sql" + ` fenced block and nothing else.`

// BuildMessages renders the synthesis prompt for req.
func BuildMessages(req Request) []llm.Message {
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = "standard"
	}
	lastQuery := strings.TrimSpace(req.LastQuery)
	if lastQuery == "" {
		lastQuery = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tables: %s\n\n", strings.Join(req.Tables, ", "))
	if info := strings.TrimSpace(req.TableInfo); info != "" {
		fmt.Fprintf(&b, "Schema and sample rows:\n%s\n\n", info)
	}
	fmt.Fprintf(&b, "Previous query:\n%s\n\n", lastQuery)
	fmt.Fprintf(&b, "Question:\n%s\n", strings.TrimSpace(req.Question))

	return []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(systemPrompt, dialect)},
		{Role: llm.RoleUser, Content: b.String()},
	}
}
