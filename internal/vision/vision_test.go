package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/ocx/proctoring-ai/internal/config"
	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/stretchr/testify/assert"
)

type fakeFaceMesh struct {
	result models.FaceMeshResult
	err    error
}

func (f fakeFaceMesh) Analyze(_ context.Context, _ []byte) (models.FaceMeshResult, error) {
	return f.result, f.err
}

type fakeObjectDetector struct {
	result models.ObjectDetections
	err    error
}

func (f fakeObjectDetector) Detect(_ context.Context, _ []byte) (models.ObjectDetections, error) {
	return f.result, f.err
}

func defaultThresholds() config.ThresholdsConfig {
	return config.ThresholdsConfig{
		GazeYaw:     25.0,
		GazePitch:   25.0,
		LipDistance: 0.06,
		PhoneConf:   0.50,
		NotesConf:   0.55,
	}
}

func TestAnalyze_NoRegistry_SafeDefaults(t *testing.T) {
	reg := &models.Registry{}
	a := NewAnalyzer(reg, defaultThresholds())

	ev := a.Analyze(context.Background(), []byte("jpeg"))

	assert.True(t, ev.FacePresent)
	assert.Equal(t, 1, ev.FaceCount)
	assert.False(t, ev.GazeOffScreen)
	assert.False(t, ev.PhoneDetected)
	assert.False(t, ev.NotesDetected)
	assert.False(t, ev.ExtraPerson)
}

func TestAnalyze_FaceMeshReports_GazeAway(t *testing.T) {
	reg := &models.Registry{
		FaceMesh:   fakeFaceMesh{result: models.FaceMeshResult{FaceCount: 1, HeadYawDeg: 40}},
		FaceMeshOK: true,
	}
	a := NewAnalyzer(reg, defaultThresholds())

	ev := a.Analyze(context.Background(), []byte("jpeg"))
	assert.True(t, ev.GazeOffScreen)
}

func TestAnalyze_FaceMeshError_KeepsDefaults(t *testing.T) {
	reg := &models.Registry{
		FaceMesh:   fakeFaceMesh{err: errors.New("timeout")},
		FaceMeshOK: true,
	}
	a := NewAnalyzer(reg, defaultThresholds())

	ev := a.Analyze(context.Background(), []byte("jpeg"))
	assert.True(t, ev.FacePresent)
	assert.False(t, ev.GazeOffScreen)
}

func TestAnalyze_ObjectDetector_PhoneAboveThreshold(t *testing.T) {
	reg := &models.Registry{
		ObjectDetector:   fakeObjectDetector{result: models.ObjectDetections{PhoneConfidence: 0.92, PersonCount: 1}},
		ObjectDetectorOK: true,
	}
	a := NewAnalyzer(reg, defaultThresholds())

	ev := a.Analyze(context.Background(), []byte("jpeg"))
	assert.True(t, ev.PhoneDetected)
	assert.Equal(t, 0.92, ev.PhoneConfidence)
}

func TestAnalyze_ObjectDetector_ExtraPerson(t *testing.T) {
	reg := &models.Registry{
		ObjectDetector:   fakeObjectDetector{result: models.ObjectDetections{PersonCount: 2}},
		ObjectDetectorOK: true,
	}
	a := NewAnalyzer(reg, defaultThresholds())

	ev := a.Analyze(context.Background(), []byte("jpeg"))
	assert.True(t, ev.ExtraPerson)
}
