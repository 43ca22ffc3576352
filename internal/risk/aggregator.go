package risk

import (
	"context"
	"fmt"
	"math"
)

// BehaviorClassifier is the subset of models.BehaviorClassifier that
// score_behaviour needs. Declaring it locally keeps this package
// dependency-free of the model registry — callers pass whatever
// satisfies it (the real gRPC-backed classifier, or a fake in tests).
type BehaviorClassifier interface {
	Predict(ctx context.Context, features []float64) (float64, error)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// ScoreFrame computes the composite risk score and violation list for a
// single camera frame (spec.md §4.5). It is a pure function of its inputs.
func ScoreFrame(v VisionEvidence, t SeverityThresholds) Result {
	var violations []Violation

	faceMissing := !v.FacePresent || v.FaceCount == 0
	multipleFaces := v.FaceCount >= 2

	var faceRisk float64
	switch {
	case faceMissing:
		faceRisk = 1.00
		violations = append(violations, Violation{
			EventType:   EventFaceNotDetected,
			Severity:    SeverityHigh,
			Confidence:  0.95,
			Description: "No face detected in frame.",
		})
	case multipleFaces:
		faceRisk = 0.80
		violations = append(violations, Violation{
			EventType:   EventMultipleFaces,
			Severity:    SeverityHigh,
			Confidence:  0.85,
			Description: fmt.Sprintf("%d faces detected in frame.", v.FaceCount),
		})
	default:
		faceRisk = 0.00
	}

	var gazeRisk float64
	if v.GazeOffScreen {
		gazeRisk = 1.00
		violations = append(violations, Violation{
			EventType:   EventGazeAway,
			Severity:    SeverityMedium,
			Confidence:  0.80,
			Description: "Student's gaze is off screen.",
		})
	}

	objectRisk := 0.00
	if v.PhoneDetected {
		objectRisk = math.Max(objectRisk, math.Max(v.PhoneConfidence, 0.75))
		violations = append(violations, Violation{
			EventType:   EventPhoneDetected,
			Severity:    SeverityHigh,
			Confidence:  round4(v.PhoneConfidence),
			Description: fmt.Sprintf("Mobile phone detected (conf=%.0f%%).", v.PhoneConfidence*100),
		})
	}
	if v.NotesDetected {
		objectRisk = math.Max(objectRisk, math.Max(v.NotesConfidence, 0.65))
		violations = append(violations, Violation{
			EventType:   EventNotesDetected,
			Severity:    SeverityMedium,
			Confidence:  round4(v.NotesConfidence),
			Description: fmt.Sprintf("Book/notes detected (conf=%.0f%%).", v.NotesConfidence*100),
		})
	}
	if v.ExtraPerson {
		objectRisk = math.Max(objectRisk, 0.85)
		violations = append(violations, Violation{
			EventType:   EventMultiplePersons,
			Severity:    SeverityHigh,
			Confidence:  0.85,
			Description: "Extra person detected in frame.",
		})
	}

	mouthRisk := 0.0
	if v.MouthOpen {
		mouthRisk = 0.10
	}

	// The fifth 0.20 slot is reserved for audio and is always 0 here:
	// audio evidence belongs to a different queue/consumer with no shared
	// correlation point (spec.md §5, "no ordering guarantee across
	// queues"); see SPEC_FULL.md Open Question (1). Kept explicit rather
	// than simplified away, matching the Python original's comment.
	const audioRisk = 0.0

	composite := clamp01(
		faceRisk*0.30 +
			gazeRisk*0.20 +
			audioRisk*0.20 +
			objectRisk*0.20 +
			mouthRisk*0.10,
	)
	composite = round4(composite)

	emittable := make([]Violation, 0, len(violations))
	for _, viol := range violations {
		if viol.Severity == SeverityMedium || viol.Severity == SeverityHigh || viol.Severity == SeverityCritical {
			emittable = append(emittable, viol)
		}
	}

	return Result{
		RiskScore:  composite,
		Severity:   Severity(composite, t),
		Violations: emittable,
	}
}

// ScoreAudio computes the risk result for a single audio clip (spec.md §4.5).
func ScoreAudio(a AudioEvidence, t SeverityThresholds) Result {
	if !a.SpeechDetected {
		return Result{RiskScore: 0, Severity: Severity(0, t)}
	}

	sev := SeverityMedium
	if a.SpeechRatio > 0.50 {
		sev = SeverityHigh
	}

	score := round4(clamp01(a.SpeechRatio))

	return Result{
		RiskScore: score,
		Severity:  Severity(score, t),
		Violations: []Violation{{
			EventType:   EventSuspiciousAudio,
			Severity:    sev,
			Confidence:  round4(a.SpeechRatio),
			Description: fmt.Sprintf("Speech detected (%.0f%% of audio chunk, %.0f ms).", a.SpeechRatio*100, a.SpeechDurationMs),
		}},
	}
}

// behaviorFactors is the rule-based fallback table from spec.md §4.5.
var behaviorFactors = []struct {
	factor float64
	cap    float64
}{
	{0.06, 0.40}, // tab_switches
	{0.05, 0.25}, // copy_paste_count
	{0.04, 0.20}, // context_menu_count
	{0.05, 0.20}, // fullscreen_exits
	{0.04, 0.20}, // focus_loss_count
	{0.02, 0.20}, // event_rate_per_min
}

// ruleBasedBehaviorRisk applies the fixed-weight capped-sum fallback.
func ruleBasedBehaviorRisk(f BehaviorFeatures) float64 {
	v := f.Vector()
	score := 0.0
	for i, term := range behaviorFactors {
		score += math.Min(term.cap, term.factor*v[i])
	}
	return math.Min(1.0, score)
}

// ScoreBehaviour computes the risk result for one behavior feature
// snapshot (spec.md §4.5). When classifier is non-nil and the registry
// marks it ready, its prediction is used; any classifier error falls back
// to the rule-based formula so callers stay agnostic of which path ran
// (spec.md §9, "Rule-based fallback vs. model").
func ScoreBehaviour(ctx context.Context, f BehaviorFeatures, classifier BehaviorClassifier, classifierReady bool, t SeverityThresholds) Result {
	score := ruleBasedBehaviorRisk(f)

	if classifierReady && classifier != nil {
		if p, err := classifier.Predict(ctx, f.Vector()); err == nil {
			score = math.Min(1.0, math.Max(0.0, p))
		}
	}

	score = round4(score)

	result := Result{
		RiskScore: score,
		Severity:  Severity(score, t),
	}

	if score >= 0.30 {
		result.Violations = []Violation{{
			EventType:  EventSuspiciousBehavior,
			Severity:   result.Severity,
			Confidence: round4(score),
			Description: fmt.Sprintf(
				"Suspicious behaviour pattern detected (tab_switches=%d, copy_paste=%d, rate=%.1f/min).",
				f.TabSwitches, f.CopyPasteCount, f.EventRatePerMin,
			),
		}}
	}

	return result
}
