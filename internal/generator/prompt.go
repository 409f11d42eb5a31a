package generator

import "fmt"

// Instruction is the fixed prompt sent with every generation request. It
// describes the node grammar and the recognised field and comparator names.
const Instruction = `
You are a Logic Converter. Your goal is to translate natural language filtering requirements into a recursive JSON logic tree.

The JSON structure represents a boolean logic tree.
There are two types of nodes: 'group' and 'condition'.

1. 'group' nodes:
   - type: "group"
   - operator: "AND" or "OR"
   - children: Array of nodes (can be groups or conditions)

2. 'condition' nodes:
   - type: "condition"
   - field: "message_text" (default), "sender" or "chat_name"
   - condition: "contains", "equals", "not_contains", "regex", "starts_with", "ends_with"
   - value: string (the keyword or pattern)

The root node must be a 'group'.
Output a single strict JSON object only. Do not wrap it in markdown code blocks and do not add any commentary.

Example Input: "Messages about Apple or Tesla, but not if they mention 'rumor'"
Example Output:
{
  "id": "root",
  "type": "group",
  "operator": "AND",
  "children": [
    {
      "id": "g1",
      "type": "group",
      "operator": "OR",
      "children": [
        { "id": "c1", "type": "condition", "field": "message_text", "condition": "contains", "value": "Apple" },
        { "id": "c2", "type": "condition", "field": "message_text", "condition": "contains", "value": "Tesla" }
      ]
    },
    {
      "id": "c3",
      "type": "condition",
      "field": "message_text",
      "condition": "not_contains",
      "value": "rumor"
    }
  ]
}
`

// UserPrompt wraps the operator's request the way the generator expects it.
func UserPrompt(prompt string) string {
	return fmt.Sprintf("User Request: %q", prompt)
}

func analysisPrompt(instruction, message string) string {
	return fmt.Sprintf(`System Instruction: %s

Task: Analyze the following message and decide if it meets the criteria.
Respond in JSON format: { "decision": boolean, "reason": "short explanation" }

Message: %q
`, instruction, message)
}
