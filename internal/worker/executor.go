package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/domain"
)

// ProgressFunc reports attempt progress as a percentage.
type ProgressFunc func(progress int, message string)

// Result is what a successful generation attempt produced.
type Result struct {
	Output      json.RawMessage
	OutputFiles []domain.OutputFile
}

// Executor runs the actual generation for one queue entry. The rest of
// the worker treats it as opaque; model integrations plug in here.
type Executor interface {
	Execute(ctx context.Context, entry domain.QueueEntry, report ProgressFunc) (*Result, error)
}

// SimulatedExecutor stands in for real model backends. It validates the
// payload, walks through staged progress reports, and fabricates output
// artifacts. Useful for local development and load testing the
// coordination path without GPU capacity.
type SimulatedExecutor struct {
	StepDelay time.Duration
}

var simulatedStages = []struct {
	progress int
	message  string
}{
	{25, "Preparing inputs"},
	{50, "Generating"},
	{75, "Post-processing"},
}

func (e *SimulatedExecutor) Execute(ctx context.Context, entry domain.QueueEntry, report ProgressFunc) (*Result, error) {
	payload, err := domain.DecodePayload(entry.Payload)
	if err != nil {
		return nil, err
	}

	for _, stage := range simulatedStages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.StepDelay):
		}
		report(stage.progress, stage.message)
	}

	files := simulatedArtifacts(entry.JobID, payload)
	output, err := json.Marshal(map[string]any{
		"job_type": payload.Type(),
		"files":    files,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Result{Output: output, OutputFiles: files}, nil
}

func simulatedArtifacts(jobID string, payload domain.JobPayload) []domain.OutputFile {
	ext := ".png"
	switch payload.Type() {
	case domain.JobType3DVideo, domain.JobTypeStudyAnimation, domain.JobTypeStoryVideo:
		ext = ".mp4"
	}

	count := 1
	if p, ok := payload.(*domain.InfluencerCreationPayload); ok && p.Poses > 0 {
		count = p.Poses
	}

	files := make([]domain.OutputFile, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s-%d%s", jobID, i+1, ext)
		files = append(files, domain.OutputFile{
			Filename: name,
			Key:      "outputs/" + uuid.New().String() + ext,
			MimeType: mimeFor(ext),
		})
	}
	return files
}

func mimeFor(ext string) string {
	if ext == ".mp4" {
		return "video/mp4"
	}
	return "image/png"
}
