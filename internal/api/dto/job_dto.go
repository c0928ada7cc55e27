package dto

import "encoding/json"

type CreateImageJobRequest struct {
	Prompt         string `json:"prompt" binding:"required"`
	Style          string `json:"style"`
	NegativePrompt string `json:"negative_prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	ReferenceKey   string `json:"reference_key"`
}

type CreateInfluencerJobRequest struct {
	Gender       string `json:"gender" binding:"required"`
	Ethnicity    string `json:"ethnicity"`
	AgeRange     string `json:"age_range"`
	Style        string `json:"style"`
	Poses        int    `json:"poses"`
	ReferenceKey string `json:"reference_key"`
}

type Create3DVideoJobRequest struct {
	Prompt          string `json:"prompt" binding:"required"`
	DurationSeconds int    `json:"duration_seconds"`
	CameraMovement  string `json:"camera_movement"`
	Style           string `json:"style"`
}

type CreateStudyAnimationJobRequest struct {
	Topic           string `json:"topic" binding:"required"`
	Script          string `json:"script"`
	Subject         string `json:"subject"`
	AnimationStyle  string `json:"animation_style"`
	DurationSeconds int    `json:"duration_seconds"`
}

type CreateStoryVideoJobRequest struct {
	Script          string `json:"script" binding:"required"`
	VisualStyle     string `json:"visual_style"`
	VoiceStyle      string `json:"voice_style"`
	BackgroundMusic string `json:"background_music"`
	DurationSeconds int    `json:"duration_seconds"`
}

// ClothSwapForm carries the cloth-swap multipart fields; the two images
// arrive as file parts person_image and cloth_image.
type ClothSwapForm struct {
	Category     string `form:"category"`
	PreserveFace bool   `form:"preserve_face"`
}

type CreateJobResponse struct {
	JobID       string `json:"job_id"`
	JobType     string `json:"job_type"`
	Status      string `json:"status"`
	CreditsUsed int    `json:"credits_used"`
	CreatedAt   string `json:"created_at"`
}

type JobDTO struct {
	JobID          string          `json:"job_id"`
	JobType        string          `json:"job_type"`
	Status         string          `json:"status"`
	CreditsCharged int             `json:"credits_charged"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	CompletedAt    string          `json:"completed_at,omitempty"`
}

type JobDetailResponse struct {
	JobDTO
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	ProcessingSteps json.RawMessage `json:"processing_steps,omitempty"`
	OutputFiles     json.RawMessage `json:"output_files,omitempty"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type CreditsResponse struct {
	Credits int `json:"credits"`
}

type TransactionDTO struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Amount        int    `json:"amount"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type ListTransactionsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type ListTransactionsResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
}

type GrantCreditsRequest struct {
	Package   string `json:"package" binding:"required"`
	PaymentID string `json:"payment_id"`
}

type GrantCreditsResponse struct {
	Credits int    `json:"credits"`
	Granted int    `json:"granted"`
	Package string `json:"package"`
}

type SubscribeRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	JobID    string `json:"job_id" binding:"required"`
}
