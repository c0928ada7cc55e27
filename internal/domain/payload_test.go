package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	payloads := []JobPayload{
		&ImageGenerationPayload{Prompt: "a lighthouse", Width: 512, Height: 512, Steps: 20},
		&ClothSwapPayload{PersonKey: "inputs/u1/a.png", ClothKey: "inputs/u1/b.png", PreserveFace: true},
		&InfluencerCreationPayload{Gender: "female", Poses: 4},
		&Video3DPayload{Prompt: "orbiting a castle", DurationSeconds: 30},
		&StudyAnimationPayload{Topic: "photosynthesis", DurationSeconds: 60},
		&StoryVideoPayload{Script: "once upon a time", DurationSeconds: 180},
	}

	for _, p := range payloads {
		t.Run(p.Type(), func(t *testing.T) {
			raw, err := EncodePayload(p)
			require.NoError(t, err)

			decoded, err := DecodePayload(raw)
			require.NoError(t, err)

			assert.Equal(t, p.Type(), decoded.Type())
			assert.Equal(t, p, decoded)
		})
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload([]byte(`{"type":"hologram","params":{}}`))
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestDecodePayloadMalformed(t *testing.T) {
	_, err := DecodePayload([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodePayload([]byte(`{"type":"image-generation","params":"nope"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodePayloadValidates(t *testing.T) {
	// Structurally valid but missing the required prompt.
	_, err := DecodePayload([]byte(`{"type":"image-generation","params":{"width":512}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload JobPayload
		wantErr bool
	}{
		{"image needs prompt", &ImageGenerationPayload{}, true},
		{"image ok", &ImageGenerationPayload{Prompt: "x"}, false},
		{"cloth swap needs both keys", &ClothSwapPayload{PersonKey: "a"}, true},
		{"cloth swap ok", &ClothSwapPayload{PersonKey: "a", ClothKey: "b"}, false},
		{"influencer needs gender", &InfluencerCreationPayload{}, true},
		{"3d video needs prompt", &Video3DPayload{}, true},
		{"study animation needs topic", &StudyAnimationPayload{}, true},
		{"story video needs script", &StoryVideoPayload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	img := &ImageGenerationPayload{Prompt: "x"}
	img.ApplyDefaults()
	assert.Equal(t, 1024, img.Width)
	assert.Equal(t, 1024, img.Height)
	assert.Equal(t, 30, img.Steps)

	// Explicit values survive.
	img = &ImageGenerationPayload{Prompt: "x", Width: 512, Steps: 10}
	img.ApplyDefaults()
	assert.Equal(t, 512, img.Width)
	assert.Equal(t, 10, img.Steps)

	inf := &InfluencerCreationPayload{Gender: "male"}
	inf.ApplyDefaults()
	assert.Equal(t, 5, inf.Poses)

	video := &Video3DPayload{Prompt: "x"}
	video.ApplyDefaults()
	assert.Equal(t, 30, video.DurationSeconds)

	study := &StudyAnimationPayload{Topic: "x"}
	study.ApplyDefaults()
	assert.Equal(t, 60, study.DurationSeconds)

	story := &StoryVideoPayload{Script: "x"}
	story.ApplyDefaults()
	assert.Equal(t, 180, story.DurationSeconds)
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		assert.True(t, IsTerminalStatus(s))
	}
	for _, s := range []string{JobStatusPending, JobStatusProcessing} {
		assert.False(t, IsTerminalStatus(s))
	}
}
