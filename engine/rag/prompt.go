package rag

import "fmt"

// DefaultSystemPrompt constrains the model to the assembled context and the
// citation wire format.
const DefaultSystemPrompt = `You are a document assistant for a private corpus.
Follow these rules strictly:
1) Use ONLY the provided CONTEXT. Do not use outside knowledge.
2) Include 1-3 citations in the exact form: [source: filename §Section].
3) If the answer is not clearly supported by the context, say you don't know.
4) Be concise.`

const answerTemplate = `USER QUESTION:
%s

CONTEXT (from indexed documents):
%s

INSTRUCTIONS:
- Answer ONLY based on the context above.
- If the context does not support an answer, say you don't know.
- Always add 1-3 citations like [source: filename §Section].`

// buildPrompt embeds the question and assembled context into the user prompt.
func buildPrompt(question, context string) string {
	return fmt.Sprintf(answerTemplate, question, context)
}
