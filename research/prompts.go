package research

import (
	"fmt"
	"strings"
)

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

func summarizePrompt(question string) string {
	return fmt.Sprintf(`Summarize this medical question clearly.
Question: %s
Extract the condition, the symptoms, any tests or treatments, and the core clinical goal.
Strict output format:
- Condition:
- Symptoms:
- Tests/Treatments:
- Core Clinical Goal:`, question)
}

func planPrompt(st QueryState, webCtx, ragCtx string, avoid []string, maxSubqueries int) string {
	avoidText := "None"
	if len(avoid) > 0 {
		lines := make([]string, len(avoid))
		for i, a := range avoid {
			lines[i] = "- " + a
		}
		avoidText = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(`Generate 3-%d subquestions that together answer the main question:
%q

Use when present:
- Structured summary: %s
- Web evidence: %s
- RAG results: %s
- Reviewer feedback: %s

Do not repeat any of these earlier subquestions:
%s

Output a numbered list of distinct, answerable, medically valid subquestions and nothing else.`,
		maxSubqueries, st.Question, orNone(st.Summary), orNone(webCtx), orNone(ragCtx), orNone(st.Feedback), avoidText)
}

func pageSummaryPrompt(subquery, text string) string {
	return fmt.Sprintf("Question: %s\n\nProvide a concise summary (max 50 words) of the following text:\n\n%s", subquery, text)
}

func conciseSummaryPrompt(text string) string {
	return fmt.Sprintf("Provide a very concise summary (max 50 words) of the following text:\n\n%s", text)
}

func answerPrompt(question, subquery, webCtx, ragCtx string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Answer concisely in at most 4 sentences.
Use ONLY the evidence below and add inline citations like [1] that refer to the numbered evidence.

Parent question: %q
Subquestion: %s

Evidence:
%s`, question, subquery, orNone(webCtx))
	if ragCtx != "" {
		b.WriteString("\n\nRAG: ")
		b.WriteString(ragCtx)
	}
	return b.String()
}

func synthesizePrompt(question, evidence, sources, ragSummary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are writing a concise, evidence-grounded medical answer.

Question:
%s

Evidence snippets (cite ONLY these numbers):
%s

Sources list (use these numbers for inline citations):
%s

Rules:
- Base claims ONLY on the evidence snippets above.
- Add inline citations like [1], [2] matching the numbered sources list.
- If the evidence is insufficient, state the gap explicitly.
- At most 3 sentences.`, question, orNone(evidence), orNone(sources))
	if ragSummary != "" {
		b.WriteString("\nRAG Summary: ")
		b.WriteString(ragSummary)
	}
	return b.String()
}

func evaluatePrompt(question, answer, digest string) string {
	return fmt.Sprintf(`Return STRICT JSON with keys:
coverage (0..1), grounding (0..1), coherence (0..1), overall (0..1), replan_needed (true/false), critique (string).

Question: %s
Final Answer: %s
Evidence: %s`, question, answer, digest)
}

func repairPrompt(raw string) string {
	return "Return valid JSON only (no prose):\n" + raw
}
