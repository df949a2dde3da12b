package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lessonforge/internal/api/v1/dto"
	"lessonforge/internal/model"
	"lessonforge/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const sseHeartbeat = 25 * time.Second

// JobHandler handles detached generation jobs and their event streams
type JobHandler struct {
	jobService service.JobService
	validate   *validator.Validate
	logger     zerolog.Logger
}

func NewJobHandler(jobService service.JobService, validate *validator.Validate, logger zerolog.Logger) *JobHandler {
	return &JobHandler{jobService: jobService, validate: validate, logger: logger}
}

// RegisterRoutes mounts job routes
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /jobs", authMw(http.HandlerFunc(h.submitJob)))
	mux.Handle("GET /jobs", authMw(http.HandlerFunc(h.listJobs)))
	mux.Handle("GET /jobs/{id}", authMw(http.HandlerFunc(h.getJob)))
	mux.Handle("GET /jobs/{id}/events", authMw(http.HandlerFunc(h.streamJob)))
	mux.Handle("GET /notifications/stream", authMw(http.HandlerFunc(h.streamNotifications)))
}

// submitJob godoc
// @Summary Submit a generation job
// @Description Stores a pending job and starts generation in the background. Admission is checked before the job is created.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body dto.GenerateRequestDTO true "Generation request"
// @Success 202 {object} dto.JobResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 402 {string} string "Usage limit reached"
// @Failure 500 {string} string "Failed to submit job"
// @Router /jobs [post]
func (h *JobHandler) submitJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req dto.GenerateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.jobService.Submit(r.Context(), userID, req.ToModel())
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, dto.NewJobResponse(*job))
}

// listJobs godoc
// @Summary List jobs
// @Description Lists the caller's generation jobs, newest first.
// @Tags jobs
// @Produce json
// @Param limit query int false "Maximum number of jobs (default 20, max 100)"
// @Success 200 {object} dto.JobListResponseDTO
// @Failure 400 {string} string "Invalid limit"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 500 {string} string "Failed to list jobs"
// @Router /jobs [get]
func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	jobs, err := h.jobService.List(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list jobs")
		return
	}
	resp := dto.JobListResponseDTO{Jobs: make([]dto.JobResponseDTO, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, dto.NewJobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// getJob godoc
// @Summary Get a job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} dto.JobResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Job not found"
// @Router /jobs/{id} [get]
func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	job, err := h.jobService.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to retrieve job")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewJobResponse(*job))
}

// streamJob godoc
// @Summary Stream job status
// @Description Streams the job's current record, then every change, as Server-Sent Events. The stream ends once the job completes or fails.
// @Tags jobs
// @Produce text/event-stream
// @Param id path string true "Job ID"
// @Success 200 {string} string "Server-Sent Events stream"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Job not found"
// @Router /jobs/{id}/events [get]
func (h *JobHandler) streamJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	done := make(chan struct{})
	defer close(done)
	updates := make(chan model.GenerationJob, 8)
	cancel, err := h.jobService.Subscribe(r.Context(), userID, r.PathValue("id"), func(job model.GenerationJob) {
		select {
		case updates <- job:
		case <-done:
		}
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to subscribe to job")
		return
	}
	defer cancel()

	setSSEHeaders(w)
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case job := <-updates:
			if err := writeEvent(w, "job", dto.NewJobResponse(job)); err != nil {
				h.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Job stream closed by client")
				return
			}
			flusher.Flush()
			if job.Status.Terminal() {
				return
			}
		}
	}
}

// streamNotifications godoc
// @Summary Stream completed jobs
// @Description Streams batches of the caller's newly completed jobs as Server-Sent Events. Each completion is reported at most once; completions older than the recency window are not replayed on connect.
// @Tags jobs
// @Produce text/event-stream
// @Success 200 {string} string "Server-Sent Events stream"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Router /notifications/stream [get]
func (h *JobHandler) streamNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	done := make(chan struct{})
	defer close(done)
	batches := make(chan []model.GenerationJob, 4)
	cancel, err := h.jobService.SubscribeAllForSubscriber(r.Context(), userID, func(jobs []model.GenerationJob) {
		select {
		case batches <- jobs:
		case <-done:
		}
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to subscribe to notifications")
		return
	}
	defer cancel()

	setSSEHeaders(w)
	flusher.Flush()
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case jobs := <-batches:
			if len(jobs) == 0 {
				continue
			}
			resp := dto.JobNotificationDTO{Jobs: make([]dto.JobResponseDTO, 0, len(jobs))}
			for _, job := range jobs {
				resp.Jobs = append(resp.Jobs, dto.NewJobResponse(job))
			}
			if err := writeEvent(w, "completed", resp); err != nil {
				h.logger.Debug().Err(err).Str("user_id", userID).Msg("Notification stream closed by client")
				return
			}
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
