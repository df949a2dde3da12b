package generation

import (
	"fmt"
	"strings"
)

const lessonSystemPrompt = `You are an expert instructional designer. You write focused, accurate lessons.
Reply with a single JSON object and nothing else, using this shape:
{"title": string, "summary": string, "objectives": [string], "estimatedMinutes": number,
 "sections": [{"title": string, "content": string (markdown),
   "quiz": [{"question": string, "options": [4 strings], "correctIndex": number, "explanation": string}]}]}`

const outlineSystemPrompt = `You are an expert curriculum designer. You plan learning paths that build up step by step.
Reply with a single JSON object and nothing else, using this shape:
{"title": string, "description": string,
 "items": [{"title": string, "description": string, "objectives": [string]}]}
The items array must contain exactly the requested number of lessons, in teaching order.`

func lessonUserPrompt(req LessonRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a lesson about: %s\n", req.Topic)
	if c := strings.TrimSpace(req.Context); c != "" {
		fmt.Fprintf(&b, "\n%s\n", c)
	}
	return b.String()
}

func outlineUserPrompt(req OutlineRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a learning path about: %s\n", req.Topic)
	fmt.Fprintf(&b, "Number of lessons: %d\n", req.ItemCount)
	if c := strings.TrimSpace(req.Context); c != "" {
		fmt.Fprintf(&b, "Learner context: %s\n", c)
	}
	return b.String()
}
