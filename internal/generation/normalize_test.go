package generation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLessonFillsDefaults(t *testing.T) {
	raw := &RawLesson{
		Sections: []RawSection{
			{Content: `Line one\nLine two`},
			{Title: "Empty", Content: "   "},
		},
	}

	lesson, err := NormalizeLesson(raw, "Go channels")
	require.NoError(t, err)

	assert.Equal(t, "Go channels", lesson.Title)
	assert.Equal(t, defaultEstimatedMinutes, lesson.EstimatedMinutes)
	assert.NotNil(t, lesson.Objectives)
	require.Len(t, lesson.Sections, 1)
	assert.Equal(t, "Part 1", lesson.Sections[0].Title)
	assert.Equal(t, "Line one\nLine two", lesson.Sections[0].Content)
}

func TestNormalizeLessonWithoutSectionsIsContractViolation(t *testing.T) {
	_, err := NormalizeLesson(&RawLesson{Title: "Nothing here"}, "topic")
	assert.ErrorIs(t, err, ErrContractViolation)

	_, err = NormalizeLesson(nil, "topic")
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestNormalizeQuizRepairsOptionsAndIndex(t *testing.T) {
	raw := &RawLesson{
		Sections: []RawSection{{
			Title:   "Basics",
			Content: "content",
			Quiz: []RawQuestion{
				{Question: "Too few", Options: json.RawMessage(`["a", "b"]`), CorrectIndex: json.RawMessage(`7`)},
				{Question: "Malformed", Options: json.RawMessage(`"not a list"`), CorrectIndex: json.RawMessage(`"2"`)},
				{Question: "Negative", Options: json.RawMessage(`["a","b","c","d","e"]`), CorrectIndex: json.RawMessage(`-3`)},
				{Question: "", Options: json.RawMessage(`["a","b","c","d"]`)},
				{Question: "Blank", Options: json.RawMessage(`["a","","c","d"]`), CorrectIndex: json.RawMessage(`1`)},
				{Question: "Mixed", Options: json.RawMessage(`["a",2,"c","d"]`)},
				{Question: "Exact", Options: json.RawMessage(`["w","x","y","z"]`), CorrectIndex: json.RawMessage(`2`)},
			},
		}},
	}

	lesson, err := NormalizeLesson(raw, "topic")
	require.NoError(t, err)
	quiz := lesson.Sections[0].Quiz
	require.Len(t, quiz, 6)

	placeholders := []string{"Option A", "Option B", "Option C", "Option D"}
	for _, i := range []int{0, 1, 2, 3, 4} {
		assert.Equal(t, placeholders, quiz[i].Options, quiz[i].Question)
	}
	assert.Equal(t, 3, quiz[0].CorrectIndex)
	assert.Equal(t, 2, quiz[1].CorrectIndex)
	assert.Equal(t, 0, quiz[2].CorrectIndex)

	assert.Equal(t, []string{"w", "x", "y", "z"}, quiz[5].Options)
	assert.Equal(t, 2, quiz[5].CorrectIndex)
}

func TestNormalizeLessonParsesMinutes(t *testing.T) {
	raw := &RawLesson{
		EstimatedMinutes: json.RawMessage(`"25"`),
		Sections:         []RawSection{{Content: "x"}},
	}
	lesson, err := NormalizeLesson(raw, "topic")
	require.NoError(t, err)
	assert.Equal(t, 25, lesson.EstimatedMinutes)
}

func TestCoerceEscapes(t *testing.T) {
	assert.Equal(t, "a\nb\tc", CoerceEscapes(`a\nb\tc`))
	assert.Equal(t, "a\nb", CoerceEscapes(`a\r\nb`))
	assert.Equal(t, "plain", CoerceEscapes("  plain  "))
}

func TestValidateOutline(t *testing.T) {
	assert.ErrorIs(t, ValidateOutline(&RawOutline{}, 3), ErrContractViolation)
	assert.ErrorIs(t, ValidateOutline(&RawOutline{Items: make([]RawOutlineItem, 2)}, 3), ErrContractViolation)
	assert.NoError(t, ValidateOutline(&RawOutline{Items: make([]RawOutlineItem, 3)}, 3))
}

func TestDecodeJSONToleratesFences(t *testing.T) {
	var out RawOutline
	err := decodeJSON("```json\n{\"title\": \"Go\", \"items\": []}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "Go", out.Title)
	assert.NotNil(t, out.Items)

	err = decodeJSON("sorry, I cannot help", &out)
	assert.ErrorIs(t, err, ErrContractViolation)
}
