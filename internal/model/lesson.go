package model

import "time"

type ArtifactKind string

const (
	ArtifactLesson ArtifactKind = "lesson"
	ArtifactPath   ArtifactKind = "path"
)

type QuizQuestion struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
}

type Section struct {
	Title   string         `json:"title"`
	Content string         `json:"content"`
	Quiz    []QuizQuestion `json:"quiz,omitempty"`
}

// Lesson is a generated single learning unit.
type Lesson struct {
	ID               string         `db:"id" json:"id"`
	OwnerID          string         `db:"owner_id" json:"owner_id"`
	PathID           string         `db:"path_id" json:"path_id,omitempty"`
	Position         int            `db:"position" json:"position,omitempty"`
	Topic            string         `db:"topic" json:"topic"`
	Title            string         `db:"title" json:"title"`
	Summary          string         `json:"summary"`
	Objectives       []string       `json:"objectives"`
	EstimatedMinutes int            `json:"estimated_minutes"`
	Sections         []Section      `json:"sections"`
	Quiz             []QuizQuestion `json:"quiz,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// Path is an ordered sequence of lessons generated from one outline.
type Path struct {
	ID          string    `db:"id" json:"id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	Topic       string    `db:"topic" json:"topic"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Lessons     []Lesson  `json:"lessons"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TokenUsage is the provider-reported token consumption.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}
