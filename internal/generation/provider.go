// Package generation talks to the content generation provider and turns its
// raw output into well-formed lessons.
package generation

import (
	"context"
	"encoding/json"
	"errors"

	"lessonforge/internal/model"
)

var (
	// ErrContractViolation means the provider answered with output that does not fit the expected structure.
	ErrContractViolation = errors.New("generation_contract_violation")
	// ErrProviderUnavailable means the provider could not be reached or failed transiently.
	ErrProviderUnavailable = errors.New("generation_provider_unavailable")
)

type LessonRequest struct {
	Topic   string `json:"topic"`
	Context string `json:"context,omitempty"`
}

type OutlineRequest struct {
	Topic     string `json:"topic"`
	Variant   string `json:"variant"`
	ItemCount int    `json:"itemCount"`
	Context   string `json:"context,omitempty"`
}

// RawQuestion mirrors a provider quiz question before normalization. Options and
// CorrectIndex are kept raw because providers do not reliably type them.
type RawQuestion struct {
	Question     string          `json:"question"`
	Options      json.RawMessage `json:"options"`
	CorrectIndex json.RawMessage `json:"correctIndex"`
	Explanation  string          `json:"explanation"`
}

type RawSection struct {
	Title   string        `json:"title"`
	Content string        `json:"content"`
	Quiz    []RawQuestion `json:"quiz"`
}

type RawLesson struct {
	Title            string           `json:"title"`
	Summary          string           `json:"summary"`
	Objectives       []string         `json:"objectives"`
	EstimatedMinutes json.RawMessage  `json:"estimatedMinutes"`
	Sections         []RawSection     `json:"sections"`
	Quiz             []RawQuestion    `json:"quiz"`
	Usage            model.TokenUsage `json:"usage"`
}

type RawOutlineItem struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Objectives  []string `json:"objectives"`
}

type RawOutline struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Items       []RawOutlineItem `json:"items"`
	Usage       model.TokenUsage `json:"usage"`
}

// Provider produces raw lessons and path outlines.
type Provider interface {
	GenerateLesson(ctx context.Context, req LessonRequest) (*RawLesson, error)
	GenerateOutline(ctx context.Context, req OutlineRequest) (*RawOutline, error)
}
