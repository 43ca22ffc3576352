package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/stretchr/testify/assert"
)

type fakeVAD struct {
	result models.VADResult
	err    error
}

func (f fakeVAD) Analyze(_ context.Context, _ []byte) (models.VADResult, error) {
	return f.result, f.err
}

func TestAnalyze_NoCapability_DefaultsToSilence(t *testing.T) {
	a := NewAnalyzer(&models.Registry{}, 0.20)
	ev := a.Analyze(context.Background(), []byte("clip"))

	assert.False(t, ev.SpeechDetected)
	assert.Equal(t, 0.0, ev.SpeechRatio)
}

func TestAnalyze_AboveThreshold(t *testing.T) {
	reg := &models.Registry{
		VAD:   fakeVAD{result: models.VADResult{SpeechRatio: 0.80, SpeechDurationMs: 2400, TotalDurationMs: 3000}},
		VADOK: true,
	}
	a := NewAnalyzer(reg, 0.20)

	ev := a.Analyze(context.Background(), []byte("clip"))
	assert.True(t, ev.SpeechDetected)
	assert.Equal(t, 0.80, ev.SpeechRatio)
}

func TestAnalyze_BelowThreshold(t *testing.T) {
	reg := &models.Registry{
		VAD:   fakeVAD{result: models.VADResult{SpeechRatio: 0.05}},
		VADOK: true,
	}
	a := NewAnalyzer(reg, 0.20)

	ev := a.Analyze(context.Background(), []byte("clip"))
	assert.False(t, ev.SpeechDetected)
}

func TestAnalyze_ModelError_DefaultsToSilence(t *testing.T) {
	reg := &models.Registry{
		VAD:   fakeVAD{err: errors.New("unavailable")},
		VADOK: true,
	}
	a := NewAnalyzer(reg, 0.20)

	ev := a.Analyze(context.Background(), []byte("clip"))
	assert.False(t, ev.SpeechDetected)
	assert.Equal(t, 0.0, ev.SpeechRatio)
}
