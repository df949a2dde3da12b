package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderGenerateOutline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/outlines", r.URL.Path)
		var req OutlineRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.ItemCount)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"SQL","items":[{"title":"a"},{"title":"b"},{"title":"c"}],"usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/", time.Second, zerolog.Nop())
	out, err := p.GenerateOutline(context.Background(), OutlineRequest{Topic: "SQL", Variant: "multi", ItemCount: 3})
	require.NoError(t, err)
	assert.Len(t, out.Items, 3)
	assert.Equal(t, int64(42), out.Usage.TotalTokens)
}

func TestHTTPProviderClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusBadGateway, "upstream down", ErrProviderUnavailable},
		{"rate limited", http.StatusTooManyRequests, "slow down", ErrProviderUnavailable},
		{"unprocessable", http.StatusUnprocessableEntity, "bad shape", ErrContractViolation},
		{"undecodable", http.StatusOK, "{not json", ErrContractViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider(srv.URL, time.Second, zerolog.Nop())
			_, err := p.GenerateLesson(context.Background(), LessonRequest{Topic: "x"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHTTPProviderUnreachable(t *testing.T) {
	p := NewHTTPProvider("http://127.0.0.1:1", 200*time.Millisecond, zerolog.Nop())
	_, err := p.GenerateLesson(context.Background(), LessonRequest{Topic: "x"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestStaticProviderOutlineMatchesCount(t *testing.T) {
	out, err := StaticProvider{}.GenerateOutline(context.Background(), OutlineRequest{Topic: "Kubernetes", ItemCount: 4})
	require.NoError(t, err)
	assert.NoError(t, ValidateOutline(out, 4))

	raw, err := StaticProvider{}.GenerateLesson(context.Background(), LessonRequest{Topic: "Kubernetes"})
	require.NoError(t, err)
	lesson, err := NormalizeLesson(raw, "Kubernetes")
	require.NoError(t, err)
	assert.NotEmpty(t, lesson.Sections)
}
