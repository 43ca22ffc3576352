// Package vision turns raw model output into the risk.VisionEvidence the
// aggregator scores (spec.md §4.2). Each analyzer is independently
// fallible: when its backing capability in the model registry is not
// ready, it returns a fixed, conservative default rather than an error,
// so one missing model never blocks the rest of a frame's evaluation
// (spec.md §4.7, Degraded capability class).
package vision

import (
	"context"

	"github.com/ocx/proctoring-ai/internal/config"
	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/ocx/proctoring-ai/internal/risk"
)

// Analyzer evaluates one JPEG frame against every vision module and
// assembles the combined evidence the risk aggregator needs.
type Analyzer struct {
	registry *models.Registry
	thresh   config.ThresholdsConfig
}

func NewAnalyzer(registry *models.Registry, thresh config.ThresholdsConfig) *Analyzer {
	return &Analyzer{registry: registry, thresh: thresh}
}

// Analyze runs the face-presence, gaze, mouth, and object modules over a
// single frame. It never returns an error: a module that cannot run
// falls back to its safe default and the frame is still scored.
func (a *Analyzer) Analyze(ctx context.Context, jpeg []byte) risk.VisionEvidence {
	ev := risk.VisionEvidence{
		FacePresent: true,
		FaceCount:   1,
	}

	if a.registry.FaceMeshOK {
		if mesh, err := a.registry.FaceMesh.Analyze(ctx, jpeg); err == nil {
			ev.FacePresent = mesh.FaceCount > 0
			ev.FaceCount = mesh.FaceCount
			ev.EyesClosed = mesh.EyesClosed
			ev.GazeOffScreen = absGT(mesh.HeadYawDeg, a.thresh.GazeYaw) || absGT(mesh.HeadPitch, a.thresh.GazePitch)
			ev.MouthOpen = mesh.LipRatio > a.thresh.LipDistance
			ev.HeadYawDeg = mesh.HeadYawDeg
			ev.HeadPitch = mesh.HeadPitch
			ev.LipRatio = mesh.LipRatio
		}
		// On error, the fields above keep their safe defaults (face
		// present, gaze on-screen, mouth closed) rather than flagging a
		// violation the model couldn't actually observe.
	}

	if a.registry.ObjectDetectorOK {
		if det, err := a.registry.ObjectDetector.Detect(ctx, jpeg); err == nil {
			ev.PhoneConfidence = det.PhoneConfidence
			ev.NotesConfidence = det.NotesConfidence
			ev.PhoneDetected = det.PhoneConfidence >= a.thresh.PhoneConf
			ev.NotesDetected = det.NotesConfidence >= a.thresh.NotesConf
			ev.ExtraPerson = det.PersonCount > 1
		}
	}

	return ev
}

func absGT(v, limit float64) bool {
	if v < 0 {
		v = -v
	}
	return v > limit
}
