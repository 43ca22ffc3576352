// Package audio turns a decoded audio clip into risk.AudioEvidence
// (spec.md §4.3). The voice-activity model itself is an external
// collaborator (spec.md §1); this package only applies the configured
// speech-ratio threshold to whatever the model registry reports and
// supplies a safe "no speech" default when the capability is unavailable
// (spec.md §4.7, Degraded capability class).
package audio

import (
	"context"

	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/ocx/proctoring-ai/internal/risk"
)

// Analyzer derives speech-presence evidence for one audio clip.
type Analyzer struct {
	registry             *models.Registry
	speechRatioThreshold float64
}

func NewAnalyzer(registry *models.Registry, speechRatioThreshold float64) *Analyzer {
	return &Analyzer{registry: registry, speechRatioThreshold: speechRatioThreshold}
}

// Analyze takes the raw (still container/codec-encoded) audio clip bytes
// and returns whether speech was detected along with the ratio/duration
// evidence the aggregator and the audio consumer both need. On any model
// error, or when the voice-activity capability was never loaded, it
// returns the zero-speech default rather than propagating the failure.
func (a *Analyzer) Analyze(ctx context.Context, clip []byte) risk.AudioEvidence {
	if !a.registry.VADOK {
		return risk.AudioEvidence{}
	}

	res, err := a.registry.VAD.Analyze(ctx, clip)
	if err != nil {
		return risk.AudioEvidence{}
	}

	return risk.AudioEvidence{
		SpeechDetected:   res.SpeechRatio > a.speechRatioThreshold,
		SpeechRatio:      res.SpeechRatio,
		SpeechDurationMs: res.SpeechDurationMs,
		TotalDurationMs:  res.TotalDurationMs,
	}
}
