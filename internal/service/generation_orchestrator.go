package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lessonforge/internal/clock"
	"lessonforge/internal/generation"
	"lessonforge/internal/metrics"
	"lessonforge/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ProgressGenerating = "generating"
	ProgressComplete   = "complete"

	maxTopicLength   = 200
	maxContextLength = 2000
)

// Progress is reported once per path item before it is generated, and once more
// with Status ProgressComplete after the last item.
type Progress struct {
	Current     int
	Total       int
	LessonTitle string
	Status      string
}

type ProgressFunc func(Progress)

// GenerationResult holds exactly one of Lesson or Path.
type GenerationResult struct {
	Kind   model.ArtifactKind
	Lesson *model.Lesson
	Path   *model.Path
	Usage  model.TokenUsage
}

// GenerationOrchestrator turns a request into a normalized lesson or path,
// enforcing admission before and recording usage after.
type GenerationOrchestrator interface {
	GenerateLesson(ctx context.Context, subscriberID string, req model.GenerationRequest) (*GenerationResult, error)
	GeneratePath(ctx context.Context, subscriberID string, req model.GenerationRequest, progress ProgressFunc) (*GenerationResult, error)
	// Generate dispatches on req.Variant.
	Generate(ctx context.Context, subscriberID string, req model.GenerationRequest, progress ProgressFunc) (*GenerationResult, error)
}

type OrchestratorConfig struct {
	// ItemDelay is waited between consecutive path items.
	ItemDelay time.Duration
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type generationOrchestrator struct {
	provider generation.Provider
	ledger   UsageLedger
	cfg      OrchestratorConfig
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewGenerationOrchestrator creates a new GenerationOrchestrator.
func NewGenerationOrchestrator(provider generation.Provider, ledger UsageLedger, cfg OrchestratorConfig, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) GenerationOrchestrator {
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &generationOrchestrator{
		provider: provider,
		ledger:   ledger,
		cfg:      cfg,
		clock:    clk,
		metrics:  m,
		logger:   logger.With().Str("service", "GenerationOrchestrator").Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ValidateRequest normalizes req in place and rejects malformed input.
func ValidateRequest(req *model.GenerationRequest) error {
	req.Topic = strings.TrimSpace(req.Topic)
	req.Context = strings.TrimSpace(req.Context)
	if req.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	if len(req.Topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d characters", ErrInvalidRequest, maxTopicLength)
	}
	if len(req.Context) > maxContextLength {
		return fmt.Errorf("%w: context exceeds %d characters", ErrInvalidRequest, maxContextLength)
	}
	switch req.Variant {
	case "", model.VariantSingle:
		req.Variant = model.VariantSingle
		req.ItemCount = 0
	case model.VariantMulti:
		if req.ItemCount < model.MinPathItems || req.ItemCount > model.MaxPathItems {
			return fmt.Errorf("%w: item count must be between %d and %d", ErrInvalidRequest, model.MinPathItems, model.MaxPathItems)
		}
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidRequest, req.Variant)
	}
	return nil
}

func (o *generationOrchestrator) Generate(ctx context.Context, subscriberID string, req model.GenerationRequest, progress ProgressFunc) (*GenerationResult, error) {
	if req.Variant == model.VariantMulti {
		return o.GeneratePath(ctx, subscriberID, req, progress)
	}
	return o.GenerateLesson(ctx, subscriberID, req)
}

func (o *generationOrchestrator) GenerateLesson(ctx context.Context, subscriberID string, req model.GenerationRequest) (*GenerationResult, error) {
	req.Variant = model.VariantSingle
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}

	adm, err := o.ledger.CheckAdmission(ctx, subscriberID, model.UnitLesson)
	if err != nil {
		return nil, fmt.Errorf("checking admission for subscriber %s: %w", subscriberID, err)
	}
	if !adm.Allowed {
		o.metrics.GenerationRequest(string(model.ArtifactLesson), "denied")
		return nil, &AdmissionDeniedError{Tier: adm.Tier, Kind: model.UnitLesson, UpgradeTier: adm.UpgradeTier}
	}

	lesson, usage, err := o.generateItem(ctx, req.Topic, req.Context)
	if err != nil {
		o.metrics.GenerationRequest(string(model.ArtifactLesson), outcomeOf(err))
		return nil, err
	}
	lesson.ID = uuid.NewString()
	lesson.OwnerID = subscriberID
	lesson.CreatedAt = o.clock.Now()

	o.commit(ctx, subscriberID)
	o.metrics.GenerationRequest(string(model.ArtifactLesson), "success")
	o.metrics.GenerationTokens(string(model.ArtifactLesson), usage.TotalTokens)
	return &GenerationResult{Kind: model.ArtifactLesson, Lesson: lesson, Usage: usage}, nil
}

func (o *generationOrchestrator) GeneratePath(ctx context.Context, subscriberID string, req model.GenerationRequest, progress ProgressFunc) (*GenerationResult, error) {
	req.Variant = model.VariantMulti
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(Progress) {}
	}
	kind := string(model.ArtifactPath)

	// Admission fails open here: an unreachable ledger must not block a path that
	// was already accepted upstream.
	adm, err := o.ledger.CheckAdmission(ctx, subscriberID, model.UnitPath)
	switch {
	case err != nil:
		o.logger.Warn().Err(err).Str("subscriber_id", subscriberID).Msg("Admission check failed, continuing with path generation")
	case !adm.Allowed:
		o.metrics.GenerationRequest(kind, "denied")
		return nil, &AdmissionDeniedError{Tier: adm.Tier, Kind: model.UnitPath, UpgradeTier: adm.UpgradeTier}
	}

	outline, err := o.provider.GenerateOutline(ctx, generation.OutlineRequest{
		Topic:     req.Topic,
		Variant:   string(req.Variant),
		ItemCount: req.ItemCount,
		Context:   req.Context,
	})
	if err != nil {
		o.metrics.GenerationRequest(kind, outcomeOf(err))
		return nil, fmt.Errorf("generating outline for %q: %w", req.Topic, err)
	}
	if err := generation.ValidateOutline(outline, req.ItemCount); err != nil {
		o.metrics.GenerationRequest(kind, outcomeOf(err))
		return nil, err
	}
	usage := outline.Usage

	pathTitle := generation.CoerceEscapes(outline.Title)
	if pathTitle == "" {
		pathTitle = req.Topic
	}

	total := req.ItemCount
	completed := make([]model.Lesson, 0, total)
	for i, item := range outline.Items {
		title := generation.CoerceEscapes(item.Title)
		if title == "" {
			title = fmt.Sprintf("%s, lesson %d", pathTitle, i+1)
		}
		progress(Progress{Current: i + 1, Total: total, LessonTitle: title, Status: ProgressGenerating})

		itemCtx := itemContext(pathTitle, completed, item, i, total, req.Context)
		lesson, itemUsage, err := o.generateItem(ctx, title, itemCtx)
		if err != nil {
			o.metrics.GenerationRequest(kind, outcomeOf(err))
			o.logger.Error().Err(err).
				Str("subscriber_id", subscriberID).
				Int("failed_index", i+1).
				Int("total", total).
				Msg("Path item generation failed")
			return nil, &PathGenerationError{Completed: completed, FailedIndex: i + 1, Total: total, Err: err}
		}
		usage = usage.Add(itemUsage)
		lesson.ID = uuid.NewString()
		lesson.OwnerID = subscriberID
		lesson.Position = i + 1
		completed = append(completed, *lesson)

		if i < total-1 {
			if err := o.cfg.Sleep(ctx, o.cfg.ItemDelay); err != nil {
				o.metrics.GenerationRequest(kind, "canceled")
				return nil, &PathGenerationError{Completed: completed, FailedIndex: i + 2, Total: total, Err: err}
			}
		}
	}
	progress(Progress{Current: total, Total: total, Status: ProgressComplete})

	now := o.clock.Now()
	path := &model.Path{
		ID:          uuid.NewString(),
		OwnerID:     subscriberID,
		Topic:       req.Topic,
		Title:       pathTitle,
		Description: generation.CoerceEscapes(outline.Description),
		Lessons:     completed,
		CreatedAt:   now,
	}
	for i := range path.Lessons {
		path.Lessons[i].PathID = path.ID
		path.Lessons[i].CreatedAt = now
	}

	o.commit(ctx, subscriberID)
	o.metrics.GenerationRequest(kind, "success")
	o.metrics.GenerationTokens(kind, usage.TotalTokens)
	return &GenerationResult{Kind: model.ArtifactPath, Path: path, Usage: usage}, nil
}

func (o *generationOrchestrator) generateItem(ctx context.Context, topic, itemContext string) (*model.Lesson, model.TokenUsage, error) {
	raw, err := o.provider.GenerateLesson(ctx, generation.LessonRequest{Topic: topic, Context: itemContext})
	if err != nil {
		return nil, model.TokenUsage{}, fmt.Errorf("generating lesson %q: %w", topic, err)
	}
	lesson, err := generation.NormalizeLesson(raw, topic)
	if err != nil {
		return nil, raw.Usage, err
	}
	return lesson, raw.Usage, nil
}

// commit records usage after a successful generation. The content is already
// produced, so a ledger failure is logged rather than returned.
func (o *generationOrchestrator) commit(ctx context.Context, subscriberID string) {
	if err := o.ledger.Commit(ctx, subscriberID); err != nil {
		o.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to commit usage")
	}
}

// itemContext tells the provider where an item sits in its path so lessons build on each other.
func itemContext(pathTitle string, prior []model.Lesson, item generation.RawOutlineItem, index, total int, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This lesson is part %d of %d in the learning path %q.\n", index+1, total, pathTitle)
	if len(prior) > 0 {
		b.WriteString("Lessons already covered:\n")
		for i, l := range prior {
			fmt.Fprintf(&b, "%d. %s\n", i+1, l.Title)
		}
	}
	if len(item.Objectives) > 0 {
		fmt.Fprintf(&b, "Focus on: %s\n", strings.Join(item.Objectives, "; "))
	} else if d := generation.CoerceEscapes(item.Description); d != "" {
		fmt.Fprintf(&b, "Focus on: %s\n", d)
	}
	switch {
	case index == 0:
		b.WriteString("Lay the foundation: assume no prior lessons.\n")
	case index == total-1:
		b.WriteString("Conclude the path: tie together everything covered so far.\n")
	default:
		b.WriteString("Build directly on the previous lessons without repeating them.\n")
	}
	if extra != "" {
		fmt.Fprintf(&b, "Learner context: %s\n", extra)
	}
	return b.String()
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, generation.ErrContractViolation):
		return "contract_violation"
	case errors.Is(err, generation.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
