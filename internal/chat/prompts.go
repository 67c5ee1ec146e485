package chat

import (
	"fmt"
	"strings"

	"github.com/duckmesh/sqlchat/internal/llm"
	"github.com/duckmesh/sqlchat/internal/memory"
	"github.com/duckmesh/sqlchat/internal/query"
)

// DegradedResponse is streamed when the model fails twice on the same turn.
const DegradedResponse = "The context is too broad for me to answer. Please ask a more specific question."

const responseSystemPrompt = `You are a data assistant answering questions about a relational database.
You are given the user's question, the SQL query that was run for it and the query result.
Answer in plain language using only the result and the conversation so far.
If the result is empty or missing, say that no matching data was found and suggest a narrower question.
If the query is an instruction rather than data, answer from the conversation history alone.
Do not invent numbers that are not in the result.`

const responseQuestionTemplate = `SQL query:
%s

Query result:
%s

Question:
%s`

func repairRequest(question, failingSQL string, cause error) string {
	failing := strings.TrimSpace(failingSQL)
	if failing == "" {
		failing = "(no query was produced)"
	}
	return fmt.Sprintf(`Original request: %s
Generated SQL that failed: %s
Error returned by the database: %s
Fix this SQL query so that its syntax is valid and it matches the database schema.`, question, failing, cause)
}

func simplifyRequest(question, emptySQL string) string {
	return fmt.Sprintf(`The request %q produced the query %s, but it returned no results.
Redesign and simplify the query so that it returns rows from the database.`, question, strings.TrimSpace(emptySQL))
}

func renderContext(result *query.Result) string {
	if result == nil {
		return "(no result)"
	}
	return result.Text()
}

// responseMessages renders system instructions, the remembered exchanges in
// order and the current question with its query and result.
func responseMessages(history []memory.Exchange, prompt, sql string, result *query.Result) []llm.Message {
	messages := make([]llm.Message, 0, 2+2*len(history))
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: responseSystemPrompt})
	for _, exchange := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: exchange.Question},
			llm.Message{Role: llm.RoleAssistant, Content: exchange.Response},
		)
	}
	if strings.TrimSpace(sql) == "" {
		sql = "(none)"
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(responseQuestionTemplate, sql, renderContext(result), prompt),
	})
	return messages
}
