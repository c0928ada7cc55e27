package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/api/dto"
	"github.com/genstudio/genstudio-be/internal/blobstore"
	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/internal/jobstore"
	"github.com/genstudio/genstudio-be/internal/lifecycle"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	coordinator Submitter
	jobs        JobReader
	metadata    MetadataReader
	blobs       blobstore.Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:      deps.Logger,
		coordinator: deps.Coordinator,
		jobs:        deps.Jobs,
		metadata:    deps.Metadata,
		blobs:       deps.Blobs,
	}
}

// CreateImageJob handles POST /api/v1/jobs/image-generation
func (h *JobHandler) CreateImageJob(c *gin.Context) {
	var req dto.CreateImageJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payload := &domain.ImageGenerationPayload{
		Prompt:         req.Prompt,
		Style:          req.Style,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		ReferenceKey:   req.ReferenceKey,
	}
	payload.ApplyDefaults()

	h.submit(c, payload, nil)
}

// CreateClothSwapJob handles POST /api/v1/jobs/cloth-swap
// Takes multipart form data: person_image and cloth_image file parts
// plus optional category / preserve_face fields.
func (h *JobHandler) CreateClothSwapJob(c *gin.Context) {
	var form dto.ClothSwapForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}

	personFile, err := c.FormFile("person_image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "person_image file is required"})
		return
	}
	clothFile, err := c.FormFile("cloth_image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cloth_image file is required"})
		return
	}

	// A user who cannot afford the job never pays the upload cost.
	userID := c.GetString(UserIDKey)
	if err := h.coordinator.CheckBalance(c.Request.Context(), userID, domain.JobTypeClothSwap); err != nil {
		h.submitError(c, domain.JobTypeClothSwap, err)
		return
	}

	// Inputs are persisted before the job record exists; on later
	// failure the orphaned blobs are garbage, not corruption.
	personInput, err := h.storeUpload(c, personFile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store person image"})
		return
	}
	clothInput, err := h.storeUpload(c, clothFile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store cloth image"})
		return
	}

	payload := &domain.ClothSwapPayload{
		PersonKey:    personInput.Key,
		ClothKey:     clothInput.Key,
		Category:     form.Category,
		PreserveFace: form.PreserveFace,
	}

	h.submit(c, payload, []domain.InputFile{personInput, clothInput})
}

// CreateInfluencerJob handles POST /api/v1/jobs/influencer-creation
func (h *JobHandler) CreateInfluencerJob(c *gin.Context) {
	var req dto.CreateInfluencerJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payload := &domain.InfluencerCreationPayload{
		Gender:       req.Gender,
		Ethnicity:    req.Ethnicity,
		AgeRange:     req.AgeRange,
		Style:        req.Style,
		Poses:        req.Poses,
		ReferenceKey: req.ReferenceKey,
	}
	payload.ApplyDefaults()

	h.submit(c, payload, nil)
}

// Create3DVideoJob handles POST /api/v1/jobs/3d-video
func (h *JobHandler) Create3DVideoJob(c *gin.Context) {
	var req dto.Create3DVideoJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payload := &domain.Video3DPayload{
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		CameraMovement:  req.CameraMovement,
		Style:           req.Style,
	}
	payload.ApplyDefaults()

	h.submit(c, payload, nil)
}

// CreateStudyAnimationJob handles POST /api/v1/jobs/study-animation
func (h *JobHandler) CreateStudyAnimationJob(c *gin.Context) {
	var req dto.CreateStudyAnimationJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payload := &domain.StudyAnimationPayload{
		Topic:           req.Topic,
		Script:          req.Script,
		Subject:         req.Subject,
		AnimationStyle:  req.AnimationStyle,
		DurationSeconds: req.DurationSeconds,
	}
	payload.ApplyDefaults()

	h.submit(c, payload, nil)
}

// CreateStoryVideoJob handles POST /api/v1/jobs/story-video
func (h *JobHandler) CreateStoryVideoJob(c *gin.Context) {
	var req dto.CreateStoryVideoJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payload := &domain.StoryVideoPayload{
		Script:          req.Script,
		VisualStyle:     req.VisualStyle,
		VoiceStyle:      req.VoiceStyle,
		BackgroundMusic: req.BackgroundMusic,
		DurationSeconds: req.DurationSeconds,
	}
	payload.ApplyDefaults()

	h.submit(c, payload, nil)
}

// submit runs the shared submission path for every job type
func (h *JobHandler) submit(c *gin.Context, payload domain.JobPayload, inputs []domain.InputFile) {
	userID := c.GetString(UserIDKey)

	job, err := h.coordinator.Submit(c.Request.Context(), lifecycle.SubmitInput{
		UserID:         userID,
		Payload:        payload,
		IdempotencyKey: c.GetHeader("X-Idempotency-Key"),
		InputFiles:     inputs,
	})
	if err != nil {
		h.submitError(c, payload.Type(), err)
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:       job.JobID,
		JobType:     job.JobType,
		Status:      job.Status,
		CreditsUsed: job.CreditsCharged,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
	})
}

func (h *JobHandler) submitError(c *gin.Context, jobType string, err error) {
	h.logger.Error("Job submission failed",
		slog.String("job_type", jobType),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrUnknownJobType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrQueueUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
	}
}

// storeUpload persists one uploaded file and describes it
func (h *JobHandler) storeUpload(c *gin.Context, file *multipart.FileHeader) (domain.InputFile, error) {
	src, err := file.Open()
	if err != nil {
		return domain.InputFile{}, err
	}
	defer src.Close()

	userID := c.GetString(UserIDKey)
	key, err := h.blobs.Put(c.Request.Context(), userID, "inputs", file.Filename, src)
	if err != nil {
		return domain.InputFile{}, err
	}

	return domain.InputFile{
		Filename: file.Filename,
		Key:      key,
		Size:     file.Size,
		MimeType: file.Header.Get("Content-Type"),
	}, nil
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the authoritative record merged with the metadata history.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	userID := c.GetString(UserIDKey)
	job, err := h.jobs.GetByID(c.Request.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	resp := dto.JobDetailResponse{JobDTO: toJobDTO(job)}

	// The side record may lag the job record or be missing entirely; it
	// is merged as empty history rather than failing the read.
	meta, err := h.metadata.Get(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Warn("Job metadata unavailable",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	} else {
		resp.Parameters = meta.Parameters
		resp.ProcessingSteps = marshalOrNull(meta.ProcessingSteps)
		resp.OutputFiles = marshalOrNull(meta.OutputFiles)
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	jobs, err := h.jobs.ListForUser(c.Request.Context(), jobstore.Filter{
		UserID:   c.GetString(UserIDKey),
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	out := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		out[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&jobstore.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: out, NextCursor: nextCursor})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancellation is advisory: it only wins while the job is still
// pending, and a worker that already picked the entry up runs anyway.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	userID := c.GetString(UserIDKey)
	ok, err := h.coordinator.Cancel(c.Request.Context(), jobID, userID)
	if err != nil {
		h.logger.Error("Failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel job"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Job is no longer pending"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusCancelled,
	})
}

// GetJobResult handles GET /api/v1/jobs/:job_id/result
// Streams one output artifact of a completed job. The optional file
// query parameter selects by filename; the first artifact is default.
func (h *JobHandler) GetJobResult(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	userID := c.GetString(UserIDKey)
	job, err := h.jobs.GetByID(c.Request.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	if job.Status != domain.JobStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Job has not completed"})
		return
	}

	meta, err := h.metadata.Get(c.Request.Context(), jobID)
	if err != nil || len(meta.OutputFiles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No output available"})
		return
	}

	target := meta.OutputFiles[0]
	if want := c.Query("file"); want != "" {
		found := false
		for _, f := range meta.OutputFiles {
			if f.Filename == want {
				target = f
				found = true
				break
			}
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "No such output file"})
			return
		}
	}

	reader, err := h.blobs.Get(c.Request.Context(), target.Key)
	if err != nil {
		h.logger.Error("Failed to open output blob",
			slog.String("job_id", jobID),
			slog.String("key", target.Key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read output"})
		return
	}
	defer reader.Close()

	contentType := target.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := target.Size
	if size <= 0 {
		size = -1
	}
	c.Header("Content-Disposition", `attachment; filename="`+target.Filename+`"`)
	c.DataFromReader(http.StatusOK, size, contentType, reader, nil)
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          job.JobID,
		JobType:        job.JobType,
		Status:         job.Status,
		CreditsCharged: job.CreditsCharged,
		Output:         job.OutputData,
		Error:          job.ErrorMessage,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}

func marshalOrNull(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
