package consumer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"math"

	"github.com/ocx/proctoring-ai/internal/audio"
	"github.com/ocx/proctoring-ai/internal/broker"
	"github.com/ocx/proctoring-ai/internal/metrics"
	"github.com/ocx/proctoring-ai/internal/risk"
)

// AudioHandler scores audio.analysis messages with its own inline
// three-tier severity rule (spec.md §4.3). This is intentionally not
// risk.ScoreAudio: the audio pipeline has always computed its own
// risk_score (ratio × 0.6, three decimals) rather than calling the
// shared aggregator, and that distinction is preserved here rather than
// quietly unified — they are two different, both-specified, code paths.
type AudioHandler struct {
	Audio     *audio.Analyzer
	Publisher broker.ResultPublisher
	Metrics   *metrics.Metrics
}

func (h *AudioHandler) Handle(ctx context.Context, body []byte) error {
	var msg broker.InboundAudio
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Printf("[audio] malformed message, dropping: %v", err)
		if h.Metrics != nil {
			h.Metrics.RecordDropped("audio")
		}
		return nil
	}

	clip, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		log.Printf("[audio] session %s: bad base64, dropping: %v", msg.SessionID, err)
		if h.Metrics != nil {
			h.Metrics.RecordDropped("audio")
		}
		return nil
	}

	ev := h.Audio.Analyze(ctx, clip)
	if h.Metrics != nil {
		h.Metrics.RiskScore.WithLabelValues("audio").Observe(ev.SpeechRatio)
	}
	if !ev.SpeechDetected {
		return nil
	}

	severity := severityForRatio(ev.SpeechRatio)
	confidence := ev.SpeechRatio
	riskScore := round3(ev.SpeechRatio * 0.6)

	out := broker.OutboundResult{
		SessionID:   msg.SessionID,
		EventType:   risk.EventSuspiciousAudio,
		Severity:    severity,
		Confidence:  &confidence,
		Description: "Speech detected in audio clip.",
		RiskScore:   riskScore,
		Metadata: map[string]any{
			"speech_ratio":       ev.SpeechRatio,
			"speech_duration_ms": ev.SpeechDurationMs,
			"total_duration_ms":  ev.TotalDurationMs,
		},
	}

	if err := h.Publisher.Publish(ctx, out); err != nil {
		log.Printf("[audio] session %s: publish dropped: %v", msg.SessionID, err)
	} else if h.Metrics != nil {
		h.Metrics.RecordViolation(risk.EventSuspiciousAudio, severity)
	}
	return nil
}

func severityForRatio(ratio float64) string {
	switch {
	case ratio > 0.70:
		return risk.SeverityHigh
	case ratio > 0.50:
		return risk.SeverityMedium
	default:
		return risk.SeverityLow
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
