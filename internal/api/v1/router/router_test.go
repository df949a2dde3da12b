package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lessonforge/internal/api/v1/dto"
	"lessonforge/internal/app"
	"lessonforge/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	testJWTSecret     = "router-test-secret"
	testWebhookSecret = "whsec_router"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Environment:            "test",
		StoreDriver:            "memory",
		JWTSecret:              testJWTSecret,
		JobDispatcher:          "inline",
		JobTimeoutSec:          30,
		NotifyRecencyWindowSec: 120,
		GenerationProvider:     "static",
		StripeWebhookSecret:    testWebhookSecret,
		StripePricePremium:     "price_premium",
	}
	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = a.RunHub(ctx)
	}()

	srv := httptest.NewServer(New(a))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hubDone
		a.Close()
	})
	return srv
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func call(t *testing.T, srv *httptest.Server, method, path, userID string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+bearer(t, userID))
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp := call(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Generate something so the counters have a sample.
	resp = call(t, srv, http.MethodPost, "/v1/lessons/generate", "user-1", dto.GenerateRequestDTO{Topic: "Photosynthesis"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = call(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lessonforge_generation_requests_total{kind="lesson",outcome="success"} 1`)
}

func TestRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/v1/usage", "/v1/jobs", "/v1/artifacts/a1/rating"} {
		resp := call(t, srv, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestFreeTierAllowance(t *testing.T) {
	srv := newTestServer(t)

	usage := decode[dto.UsageResponseDTO](t, call(t, srv, http.MethodGet, "/v1/usage", "user-1", nil))
	assert.Equal(t, "free", usage.Tier)
	assert.Equal(t, 1, usage.Remaining)
	assert.True(t, usage.CanGenerate)
	assert.False(t, usage.CanGeneratePath)

	resp := call(t, srv, http.MethodPost, "/v1/lessons/generate", "user-1", dto.GenerateRequestDTO{Topic: "Plate tectonics"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	generated := decode[dto.GenerateResponseDTO](t, resp)
	assert.Equal(t, "lesson", generated.Kind)
	require.NotNil(t, generated.Lesson)
	assert.Equal(t, generated.ID, generated.Lesson.ID)

	resp = call(t, srv, http.MethodPost, "/v1/lessons/generate", "user-1", dto.GenerateRequestDTO{Topic: "Volcanoes"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = call(t, srv, http.MethodPost, "/v1/jobs", "user-1", dto.GenerateRequestDTO{Topic: "Volcanoes"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	usage = decode[dto.UsageResponseDTO](t, call(t, srv, http.MethodGet, "/v1/usage", "user-1", nil))
	assert.Equal(t, 0, usage.Remaining)
	assert.Equal(t, "basic", usage.UpgradeTier)
}

func TestGenerateValidation(t *testing.T) {
	srv := newTestServer(t)
	cases := []dto.GenerateRequestDTO{
		{},
		{Topic: strings.Repeat("x", 201)},
		{Topic: "Rivers", Variant: "triple"},
		{Topic: "Rivers", Variant: "multi", ItemCount: 11},
	}
	for _, body := range cases {
		resp := call(t, srv, http.MethodPost, "/v1/jobs", "user-1", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%+v", body)
	}
}

func waitForJob(t *testing.T, srv *httptest.Server, userID, jobID string) dto.JobResponseDTO {
	t.Helper()
	var job dto.JobResponseDTO
	require.Eventually(t, func() bool {
		job = decode[dto.JobResponseDTO](t, call(t, srv, http.MethodGet, "/v1/jobs/"+jobID, userID, nil))
		return job.Status == "completed" || job.Status == "failed"
	}, 5*time.Second, 20*time.Millisecond)
	return job
}

func TestDetachedJobLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := call(t, srv, http.MethodPost, "/v1/jobs", "user-1", dto.GenerateRequestDTO{Topic: "Tides"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[dto.JobResponseDTO](t, resp)
	assert.Equal(t, "pending", submitted.Status)

	job := waitForJob(t, srv, "user-1", submitted.ID)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotEmpty(t, job.ResultID)
	assert.Equal(t, "lesson", job.ResultKind)

	resp = call(t, srv, http.MethodGet, "/v1/jobs/"+submitted.ID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	list := decode[dto.JobListResponseDTO](t, call(t, srv, http.MethodGet, "/v1/jobs?limit=5", "user-1", nil))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, submitted.ID, list.Jobs[0].ID)

	// A finished job streams its final record once and closes the stream.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/jobs/"+submitted.ID+"/events?access_token="+bearer(t, "user-1"), nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	stream, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))
	raw, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "event: job\n"))
	assert.Contains(t, string(raw), `"status":"completed"`)
}

func TestWebhookUpgradeUnlocksPaths(t *testing.T) {
	srv := newTestServer(t)

	resp := call(t, srv, http.MethodPost, "/v1/jobs", "user-1", dto.GenerateRequestDTO{Topic: "Rivers", Variant: "multi", ItemCount: 3})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	now := time.Now().Unix()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"customer.subscription.updated","data":{"object":{
		"id":"sub_1","object":"subscription","status":"active","cancel_at_period_end":false,
		"metadata":{"user_id":"user-1"},
		"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","current_period_start":%d,"current_period_end":%d,"price":{"id":"price_premium","object":"price"}}]}
	}}}`, now-3600, now+30*24*3600))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret, Timestamp: time.Now()})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/stripe", bytes.NewReader(signed.Payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "bogus")
	bad, err := srv.Client().Do(req)
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	req, err = http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/stripe", bytes.NewReader(signed.Payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", signed.Header)
	ok, err := srv.Client().Do(req)
	require.NoError(t, err)
	ok.Body.Close()
	require.Equal(t, http.StatusOK, ok.StatusCode)

	usage := decode[dto.UsageResponseDTO](t, call(t, srv, http.MethodGet, "/v1/usage", "user-1", nil))
	assert.Equal(t, "premium", usage.Tier)
	assert.Equal(t, -1, usage.Remaining)

	resp = call(t, srv, http.MethodPost, "/v1/jobs", "user-1", dto.GenerateRequestDTO{Topic: "Rivers", Variant: "multi", ItemCount: 3})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[dto.JobResponseDTO](t, resp)
	job := waitForJob(t, srv, "user-1", submitted.ID)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, "path", job.ResultKind)
}

func TestCommunityArtifactFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := call(t, srv, http.MethodPost, "/v1/lessons/generate", "owner", dto.GenerateRequestDTO{Topic: "Fractions"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	lessonID := decode[dto.GenerateResponseDTO](t, resp).ID

	resp = call(t, srv, http.MethodPost, "/v1/artifacts/"+lessonID+"/publish", "someone-else", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = call(t, srv, http.MethodPost, "/v1/artifacts/"+lessonID+"/publish", "owner", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	published := decode[dto.ArtifactResponseDTO](t, resp)
	assert.True(t, published.IsPublic)
	assert.Equal(t, 0, published.Rating.RatingCount)

	resp = call(t, srv, http.MethodPost, "/v1/artifacts/"+lessonID+"/ratings", "rater-1", dto.RatingCreateDTO{Value: 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = call(t, srv, http.MethodPost, "/v1/artifacts/"+lessonID+"/ratings", "rater-2", dto.RatingCreateDTO{Value: 4, Comment: "Clear"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	agg := decode[dto.RatingAggregateResponseDTO](t, resp)
	assert.Equal(t, 2, agg.RatingCount)
	assert.InDelta(t, 4.5, agg.AverageRating, 1e-9)
	assert.Equal(t, map[string]int{"1": 0, "2": 0, "3": 0, "4": 1, "5": 1}, agg.RatingDistribution)

	resp = call(t, srv, http.MethodPost, "/v1/artifacts/"+lessonID+"/ratings", "rater-1", dto.RatingCreateDTO{Value: 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	mine := decode[dto.UserRatingResponseDTO](t, call(t, srv, http.MethodGet, "/v1/artifacts/"+lessonID+"/ratings/me", "rater-2", nil))
	assert.Equal(t, 4, mine.Value)
	assert.Equal(t, "Clear", mine.Comment)
	resp = call(t, srv, http.MethodGet, "/v1/artifacts/"+lessonID+"/ratings/me", "rater-3", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for i := 0; i < 2; i++ {
		cloned := decode[dto.CloneResponseDTO](t, call(t, srv, http.MethodPost, "/v1/artifacts/"+lessonID+"/clone", "rater-1", nil))
		assert.Equal(t, 1, cloned.CloneCount)
	}

	resp = call(t, srv, http.MethodPatch, "/v1/artifacts/"+lessonID+"/visibility", "rater-1", map[string]bool{"is_public": false})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = call(t, srv, http.MethodPatch, "/v1/artifacts/"+lessonID+"/visibility", "owner", map[string]bool{"is_public": false})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = call(t, srv, http.MethodGet, "/v1/artifacts/"+lessonID+"/rating", "rater-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = call(t, srv, http.MethodPost, "/v1/artifacts/"+lessonID+"/clone", "rater-2", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = call(t, srv, http.MethodGet, "/v1/artifacts/"+lessonID+"/rating", "owner", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = call(t, srv, http.MethodPost, "/v1/artifacts/missing/ratings", "rater-1", dto.RatingCreateDTO{Value: 3})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
