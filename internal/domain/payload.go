package domain

import (
	"encoding/json"
	"fmt"
)

// Job type constants. The set is closed; each type keys into the cost
// table and the dispatch-policy table.
const (
	JobTypeImageGeneration    = "image-generation"
	JobTypeClothSwap          = "cloth-swap"
	JobTypeInfluencerCreation = "influencer-creation"
	JobType3DVideo            = "3d-video"
	JobTypeStudyAnimation     = "study-animation"
	JobTypeStoryVideo         = "story-video"
)

// JobTypes lists every known job type.
func JobTypes() []string {
	return []string{
		JobTypeImageGeneration,
		JobTypeClothSwap,
		JobTypeInfluencerCreation,
		JobType3DVideo,
		JobTypeStudyAnimation,
		JobTypeStoryVideo,
	}
}

// JobPayload is the closed set of per-type job parameters. The
// dispatcher and coordinator operate over this sum type rather than an
// open parameter map.
type JobPayload interface {
	Type() string
	Validate() error
}

// ImageGenerationPayload holds parameters for a single image render.
type ImageGenerationPayload struct {
	Prompt         string `json:"prompt"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	ReferenceKey   string `json:"reference_key,omitempty"`
}

func (p *ImageGenerationPayload) Type() string { return JobTypeImageGeneration }

func (p *ImageGenerationPayload) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidPayload)
	}
	return nil
}

// ApplyDefaults fills the render dimensions and step count the original
// service assumed when the client omitted them.
func (p *ImageGenerationPayload) ApplyDefaults() {
	if p.Width <= 0 {
		p.Width = 1024
	}
	if p.Height <= 0 {
		p.Height = 1024
	}
	if p.Steps <= 0 {
		p.Steps = 30
	}
}

// ClothSwapPayload holds parameters for swapping clothing between two
// uploaded images.
type ClothSwapPayload struct {
	PersonKey    string `json:"person_key"`
	ClothKey     string `json:"cloth_key"`
	Category     string `json:"category,omitempty"`
	PreserveFace bool   `json:"preserve_face"`
}

func (p *ClothSwapPayload) Type() string { return JobTypeClothSwap }

func (p *ClothSwapPayload) Validate() error {
	if p.PersonKey == "" || p.ClothKey == "" {
		return fmt.Errorf("%w: both person and cloth images are required", ErrInvalidPayload)
	}
	return nil
}

// InfluencerCreationPayload holds parameters for a synthetic persona set.
type InfluencerCreationPayload struct {
	Gender       string `json:"gender"`
	Ethnicity    string `json:"ethnicity,omitempty"`
	AgeRange     string `json:"age_range,omitempty"`
	Style        string `json:"style,omitempty"`
	Poses        int    `json:"poses"`
	ReferenceKey string `json:"reference_key,omitempty"`
}

func (p *InfluencerCreationPayload) Type() string { return JobTypeInfluencerCreation }

func (p *InfluencerCreationPayload) Validate() error {
	if p.Gender == "" {
		return fmt.Errorf("%w: gender is required", ErrInvalidPayload)
	}
	return nil
}

func (p *InfluencerCreationPayload) ApplyDefaults() {
	if p.Poses <= 0 {
		p.Poses = 5
	}
}

// Video3DPayload holds parameters for a prompt-driven 3D video clip.
type Video3DPayload struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	CameraMovement  string `json:"camera_movement,omitempty"`
	Style           string `json:"style,omitempty"`
}

func (p *Video3DPayload) Type() string { return JobType3DVideo }

func (p *Video3DPayload) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidPayload)
	}
	return nil
}

func (p *Video3DPayload) ApplyDefaults() {
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = 30
	}
}

// StudyAnimationPayload holds parameters for an educational animation.
type StudyAnimationPayload struct {
	Topic           string `json:"topic"`
	Script          string `json:"script,omitempty"`
	Subject         string `json:"subject,omitempty"`
	AnimationStyle  string `json:"animation_style,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (p *StudyAnimationPayload) Type() string { return JobTypeStudyAnimation }

func (p *StudyAnimationPayload) Validate() error {
	if p.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidPayload)
	}
	return nil
}

func (p *StudyAnimationPayload) ApplyDefaults() {
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = 60
	}
}

// StoryVideoPayload holds parameters for a narrated story video.
type StoryVideoPayload struct {
	Script          string `json:"script"`
	VisualStyle     string `json:"visual_style,omitempty"`
	VoiceStyle      string `json:"voice_style,omitempty"`
	BackgroundMusic string `json:"background_music,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (p *StoryVideoPayload) Type() string { return JobTypeStoryVideo }

func (p *StoryVideoPayload) Validate() error {
	if p.Script == "" {
		return fmt.Errorf("%w: script is required", ErrInvalidPayload)
	}
	return nil
}

func (p *StoryVideoPayload) ApplyDefaults() {
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = 180
	}
}

// payloadEnvelope is the tagged wire form of a JobPayload.
type payloadEnvelope struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// EncodePayload serializes a payload into its tagged envelope.
func EncodePayload(p JobPayload) (json.RawMessage, error) {
	params, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload params: %w", err)
	}
	raw, err := json.Marshal(payloadEnvelope{Type: p.Type(), Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload envelope: %w", err)
	}
	return raw, nil
}

// DecodePayload parses a tagged envelope back into its concrete payload
// type and validates it.
func DecodePayload(raw json.RawMessage) (JobPayload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var payload JobPayload
	switch env.Type {
	case JobTypeImageGeneration:
		payload = &ImageGenerationPayload{}
	case JobTypeClothSwap:
		payload = &ClothSwapPayload{}
	case JobTypeInfluencerCreation:
		payload = &InfluencerCreationPayload{}
	case JobType3DVideo:
		payload = &Video3DPayload{}
	case JobTypeStudyAnimation:
		payload = &StudyAnimationPayload{}
	case JobTypeStoryVideo:
		payload = &StoryVideoPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, env.Type)
	}

	if err := json.Unmarshal(env.Params, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
