package generation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"lessonforge/internal/model"
)

const (
	optionsPerQuestion      = 4
	defaultEstimatedMinutes = 15
)

var escapeReplacer = strings.NewReplacer(
	`\r\n`, "\n",
	`\n`, "\n",
	`\t`, "\t",
	`\r`, "\n",
)

// CoerceEscapes turns literal escape sequences left in provider text into real whitespace.
func CoerceEscapes(s string) string {
	return strings.TrimSpace(escapeReplacer.Replace(s))
}

// NormalizeLesson validates a raw lesson and fills every optional field.
// Missing or empty content sections are a contract violation.
func NormalizeLesson(raw *RawLesson, topic string) (*model.Lesson, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty lesson", ErrContractViolation)
	}

	lesson := &model.Lesson{
		Topic:            topic,
		Title:            CoerceEscapes(raw.Title),
		Summary:          CoerceEscapes(raw.Summary),
		Objectives:       []string{},
		EstimatedMinutes: parseMinutes(raw.EstimatedMinutes),
		Sections:         []model.Section{},
	}
	if lesson.Title == "" {
		lesson.Title = strings.TrimSpace(topic)
	}
	if lesson.Title == "" {
		lesson.Title = "Untitled lesson"
	}
	for _, o := range raw.Objectives {
		if o = CoerceEscapes(o); o != "" {
			lesson.Objectives = append(lesson.Objectives, o)
		}
	}

	for i, rs := range raw.Sections {
		content := CoerceEscapes(rs.Content)
		if content == "" {
			continue
		}
		title := CoerceEscapes(rs.Title)
		if title == "" {
			title = fmt.Sprintf("Part %d", i+1)
		}
		lesson.Sections = append(lesson.Sections, model.Section{
			Title:   title,
			Content: content,
			Quiz:    normalizeQuiz(rs.Quiz),
		})
	}
	if len(lesson.Sections) == 0 {
		return nil, fmt.Errorf("%w: lesson %q has no content sections", ErrContractViolation, lesson.Title)
	}
	lesson.Quiz = normalizeQuiz(raw.Quiz)
	return lesson, nil
}

func normalizeQuiz(raw []RawQuestion) []model.QuizQuestion {
	var out []model.QuizQuestion
	for _, rq := range raw {
		q := CoerceEscapes(rq.Question)
		if q == "" {
			continue
		}
		options := normalizeOptions(rq.Options)
		out = append(out, model.QuizQuestion{
			Question:     q,
			Options:      options,
			CorrectIndex: clampIndex(parseInt(rq.CorrectIndex), len(options)),
			Explanation:  CoerceEscapes(rq.Explanation),
		})
	}
	return out
}

// normalizeOptions returns the provider's options when they are exactly four
// non-empty strings and the placeholders Option A..D otherwise.
func normalizeOptions(raw json.RawMessage) []string {
	var parsed []string
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil && len(parsed) == optionsPerQuestion {
		out := make([]string, 0, optionsPerQuestion)
		for _, opt := range parsed {
			text := CoerceEscapes(opt)
			if text == "" {
				break
			}
			out = append(out, text)
		}
		if len(out) == optionsPerQuestion {
			return out
		}
	}
	return placeholderOptions()
}

func placeholderOptions() []string {
	out := make([]string, optionsPerQuestion)
	for i := range out {
		out[i] = fmt.Sprintf("Option %c", 'A'+i)
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 || n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// parseInt accepts a JSON number or numeric string and returns 0 otherwise.
func parseInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}

func parseMinutes(raw json.RawMessage) int {
	if n := parseInt(raw); n > 0 {
		return n
	}
	return defaultEstimatedMinutes
}

// ValidateOutline checks that an outline has exactly want items.
func ValidateOutline(raw *RawOutline, want int) error {
	if raw == nil || raw.Items == nil {
		return fmt.Errorf("%w: outline has no items", ErrContractViolation)
	}
	if len(raw.Items) != want {
		return fmt.Errorf("%w: outline has %d items, want %d", ErrContractViolation, len(raw.Items), want)
	}
	return nil
}

// decodeJSON extracts the first JSON object from model output, tolerating code fences.
func decodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in provider output", ErrContractViolation)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: decoding provider output: %v", ErrContractViolation, err)
	}
	return nil
}
