package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreFrame_Clean(t *testing.T) {
	v := VisionEvidence{FacePresent: true, FaceCount: 1}
	res := ScoreFrame(v, DefaultSeverityThresholds())

	assert.Equal(t, 0.0, res.RiskScore)
	assert.Equal(t, SeverityNone, res.Severity)
	assert.Empty(t, res.Violations)
}

func TestScoreFrame_FaceMissing(t *testing.T) {
	v := VisionEvidence{FacePresent: false}
	res := ScoreFrame(v, DefaultSeverityThresholds())

	require.Len(t, res.Violations, 1)
	assert.Equal(t, EventFaceNotDetected, res.Violations[0].EventType)
	assert.Equal(t, SeverityHigh, res.Violations[0].Severity)
	assert.InDelta(t, 0.30, res.RiskScore, 1e-9)
}

func TestScoreFrame_PhoneHighConfidence(t *testing.T) {
	v := VisionEvidence{
		FacePresent:     true,
		FaceCount:       1,
		PhoneDetected:   true,
		PhoneConfidence: 0.90,
	}
	res := ScoreFrame(v, DefaultSeverityThresholds())

	require.Len(t, res.Violations, 1)
	assert.Equal(t, EventPhoneDetected, res.Violations[0].EventType)
	assert.Equal(t, 0.90, res.Violations[0].Confidence)
	assert.InDelta(t, 0.18, res.RiskScore, 1e-9) // 0.90 * 0.20
	assert.Equal(t, SeverityLow, res.Severity)   // above 0, below 0.40 medium floor
}

func TestScoreFrame_MultiplePersonsAndGaze(t *testing.T) {
	v := VisionEvidence{
		FacePresent:   true,
		FaceCount:     1,
		GazeOffScreen: true,
		ExtraPerson:   true,
	}
	res := ScoreFrame(v, DefaultSeverityThresholds())

	require.Len(t, res.Violations, 2)
	assert.InDelta(t, 0.37, res.RiskScore, 1e-9) // gaze 1.0*0.20 + object 0.85*0.20
}

func TestScoreFrame_Deterministic(t *testing.T) {
	v := VisionEvidence{FacePresent: true, FaceCount: 2}
	t1 := DefaultSeverityThresholds()
	a := ScoreFrame(v, t1)
	b := ScoreFrame(v, t1)
	assert.Equal(t, a, b)
}

func TestScoreAudio_BelowThreshold(t *testing.T) {
	a := AudioEvidence{SpeechDetected: true, SpeechRatio: 0.30, SpeechDurationMs: 900}
	res := ScoreAudio(a, DefaultSeverityThresholds())

	require.Len(t, res.Violations, 1)
	assert.Equal(t, SeverityMedium, res.Violations[0].Severity)
	assert.InDelta(t, 0.30, res.RiskScore, 1e-9)
}

func TestScoreAudio_AboveThreshold(t *testing.T) {
	a := AudioEvidence{SpeechDetected: true, SpeechRatio: 0.80, SpeechDurationMs: 2400}
	res := ScoreAudio(a, DefaultSeverityThresholds())

	require.Len(t, res.Violations, 1)
	assert.Equal(t, SeverityHigh, res.Violations[0].Severity)
	assert.InDelta(t, 0.80, res.RiskScore, 1e-9)
}

func TestScoreAudio_NoSpeech(t *testing.T) {
	res := ScoreAudio(AudioEvidence{SpeechDetected: false}, DefaultSeverityThresholds())
	assert.Equal(t, 0.0, res.RiskScore)
	assert.Empty(t, res.Violations)
}

type fakeClassifier struct {
	prob float64
	err  error
}

func (f fakeClassifier) Predict(_ context.Context, _ []float64) (float64, error) {
	return f.prob, f.err
}

func TestScoreBehaviour_RuleBasedBurst(t *testing.T) {
	f := BehaviorFeatures{
		TabSwitches:     10,
		CopyPasteCount:  6,
		EventRatePerMin: 12,
	}
	res := ScoreBehaviour(context.Background(), f, nil, false, DefaultSeverityThresholds())

	require.Len(t, res.Violations, 1)
	assert.Equal(t, EventSuspiciousBehavior, res.Violations[0].EventType)
	assert.GreaterOrEqual(t, res.RiskScore, 0.30)
}

func TestScoreBehaviour_ModelPathUsedWhenReady(t *testing.T) {
	f := BehaviorFeatures{TabSwitches: 1}
	res := ScoreBehaviour(context.Background(), f, fakeClassifier{prob: 0.95}, true, DefaultSeverityThresholds())

	assert.Equal(t, 0.95, res.RiskScore)
	assert.Equal(t, SeverityCritical, res.Severity)
}

func TestScoreBehaviour_FallsBackOnClassifierError(t *testing.T) {
	f := BehaviorFeatures{TabSwitches: 10, CopyPasteCount: 6, EventRatePerMin: 12}
	withModel := ScoreBehaviour(context.Background(), f, fakeClassifier{err: errors.New("unavailable")}, true, DefaultSeverityThresholds())
	withoutModel := ScoreBehaviour(context.Background(), f, nil, false, DefaultSeverityThresholds())

	assert.Equal(t, withoutModel.RiskScore, withModel.RiskScore)
}

func TestScoreBehaviour_QuietSessionNoViolation(t *testing.T) {
	res := ScoreBehaviour(context.Background(), BehaviorFeatures{}, nil, false, DefaultSeverityThresholds())
	assert.Empty(t, res.Violations)
	assert.Equal(t, 0.0, res.RiskScore)
}
