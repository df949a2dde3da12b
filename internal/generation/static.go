package generation

import (
	"context"
	"encoding/json"
	"fmt"

	"lessonforge/internal/model"
)

// StaticProvider produces deterministic placeholder content without calling out.
// It backs local development when no provider credentials are configured.
type StaticProvider struct{}

func (StaticProvider) GenerateLesson(_ context.Context, req LessonRequest) (*RawLesson, error) {
	return &RawLesson{
		Title:            req.Topic,
		Summary:          fmt.Sprintf("A short introduction to %s.", req.Topic),
		Objectives:       []string{fmt.Sprintf("Explain the core ideas of %s", req.Topic)},
		EstimatedMinutes: json.RawMessage(`10`),
		Sections: []RawSection{
			{Title: "Overview", Content: fmt.Sprintf("%s in a nutshell.", req.Topic)},
			{
				Title:   "Check your understanding",
				Content: fmt.Sprintf("Review the key points of %s.", req.Topic),
				Quiz: []RawQuestion{{
					Question:     fmt.Sprintf("Which statement best describes %s?", req.Topic),
					Options:      json.RawMessage(`["The first idea","The second idea","The third idea","None of these"]`),
					CorrectIndex: json.RawMessage(`0`),
				}},
			},
		},
		Usage: model.TokenUsage{},
	}, nil
}

func (StaticProvider) GenerateOutline(_ context.Context, req OutlineRequest) (*RawOutline, error) {
	items := make([]RawOutlineItem, req.ItemCount)
	for i := range items {
		items[i] = RawOutlineItem{
			Title:      fmt.Sprintf("%s, part %d", req.Topic, i+1),
			Objectives: []string{fmt.Sprintf("Master step %d of %s", i+1, req.Topic)},
		}
	}
	return &RawOutline{
		Title:       req.Topic,
		Description: fmt.Sprintf("A %d-lesson path through %s.", req.ItemCount, req.Topic),
		Items:       items,
	}, nil
}
