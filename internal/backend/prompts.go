package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

const systemPrompt = `You are the analysis component of an agent safety guard. ` +
	`You judge whether an autonomous agent's pending tool call matches what the user asked for ` +
	`and what could go wrong. Reply with a single JSON object and nothing else.`

var (
	intentTmpl = template.Must(template.New("intent").Funcs(promptFuncs).Parse(`Analyze the user's intent.

User message: {{.UserMessage}}
Pending tool call: {{.ToolName}} {{json .ToolParams}}
Recent session history: {{json .SessionHistory}}

Reply as JSON:
{"understood": "<one-line restatement>", "confidence": <0..1>, "keyActions": ["..."],
 "constraints": ["<restrictions the user stated>"],
 "dataInvolved": [{"category": "files|emails|financial|system|credentials|other", "description": "...", "estimatedVolume": "small|medium|large|unknown"}]}`))

	consequenceTmpl = template.Must(template.New("consequence").Funcs(promptFuncs).Parse(`Predict the possible negative consequences of this tool call.

User message: {{.UserMessage}}
Pending tool call: {{.ToolName}} {{json .ToolParams}}
Recent session history: {{json .SessionHistory}}

Reply as JSON:
{"consequences": [{"type": "data_loss|financial_loss|privacy_breach|system_damage|scope_escape|permission_violation|other",
  "description": "...", "severity": "low|medium|high|critical", "reversibility": "reversible|partially_reversible|irreversible",
  "affectedData": "...", "estimatedImpact": "...", "likelihood": <0..1>}],
 "overallSeverity": "low|medium|high|critical", "reversibility": "reversible|partially_reversible|irreversible",
 "confidence": <0..1>, "reasoning": "..."}`))

	decisionTmpl = template.Must(template.New("decision").Funcs(promptFuncs).Parse(`Decide whether the tool call should proceed, require user confirmation, or be rejected.

User message: {{.UserMessage}}
Pending tool call: {{.ToolName}} {{json .ToolParams}}
Rule-based assessment: {{json .Assessment}}

Reply as JSON:
{"action": "proceed|confirm|reject", "reason": "...", "confidence": <0..1>}`))

	constraintTmpl = template.Must(template.New("constraints").Funcs(promptFuncs).Parse(`Extract every restriction the user places on the agent in this message.
Use priority "critical" for absolute prohibitions, "high" for firm requirements, "normal" otherwise.
Use scope "operation" when the restriction only applies to the current step, "session" otherwise.
Return an empty list when there are none.

User message: {{.UserMessage}}
Recent session history: {{json .SessionHistory}}

Reply as JSON:
{"constraints": [{"content": "...", "priority": "critical|high|normal", "scope": "session|operation"}], "confidence": <0..1>}`))
)

var promptFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	},
}

func renderPrompt(t *template.Template, req *Request) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("renderPrompt %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
