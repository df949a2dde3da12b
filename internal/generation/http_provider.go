package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPProvider calls a standalone generation service over JSON.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewHTTPProvider(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("provider", "http").Logger(),
	}
}

func (p *HTTPProvider) GenerateLesson(ctx context.Context, req LessonRequest) (*RawLesson, error) {
	var out RawLesson
	if err := p.post(ctx, "/lessons", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) GenerateOutline(ctx context.Context, req OutlineRequest) (*RawOutline, error) {
	var out RawOutline
	if err := p.post(ctx, "/outlines", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrProviderUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d: %s", ErrContractViolation, resp.StatusCode, respBody)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, respBody)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("generation service returned status %d: %s", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		p.logger.Warn().Str("path", path).Err(err).Msg("Undecodable response from generation service")
		return fmt.Errorf("%w: decoding response: %v", ErrContractViolation, err)
	}
	return nil
}
