package service

import "encoding/json"

const answerSystemTemplate = "# Role: Expert Research Assistant\n" +
	"You are a precise and analytical research assistant. Your goal is to provide accurate answers " +
	"based ONLY on the provided <context>.\n\n" +
	"# Constraints:\n" +
	"1. STRICT GROUNDING: Use only information from the <context> section. No external knowledge.\n" +
	"2. UNCERTAINTY: If the answer is missing in the context, answer strictly: '{refusal}' and return no citations.\n" +
	"3. CITATION PROTOCOL: Every claim must be followed by a citation: [ID]. " +
	"ID is the Source ID from the context metadata. Fill `citations` with the source_id, the page " +
	"and a short verbatim quote for every source you used.\n" +
	"4. NO FILLER: Start directly with the answer. No 'Based on...' or 'According to...'.\n" +
	"5. FORMAT: Use Markdown with clear headings and bullet points.\n" +
	"6. LANGUAGE: Respond in the language of the question and, if necessary, translate the information " +
	"from the context into that language.\n\n" +
	"<context>\n" +
	"{context}\n" +
	"</context>"

const rephraseSystemInstruction = "Given a chat history and the latest user question which might reference " +
	"context in the chat history, formulate a standalone, descriptive search query which can be understood " +
	"without the chat history. Name the subject of the conversation explicitly instead of using pronouns " +
	"or phrases like 'tell me more' or 'elaborate'. Do NOT answer the question and do NOT ask for " +
	"clarification. If the question is already standalone, return it as is. " +
	"Put the query in the `answer` field and leave `citations` empty."

// answerSchema 是回答与改写共用的结构化输出格式。
var answerSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "answer": {"type": "string"},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "source_id": {"type": "integer"},
          "page": {"type": "integer"},
          "quote": {"type": "string"}
        },
        "required": ["source_id", "page", "quote"],
        "additionalProperties": false
      }
    }
  },
  "required": ["answer", "citations"],
  "additionalProperties": false
}`)
