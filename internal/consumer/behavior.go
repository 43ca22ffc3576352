package consumer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/ocx/proctoring-ai/internal/behavior"
	"github.com/ocx/proctoring-ai/internal/broker"
	"github.com/ocx/proctoring-ai/internal/db"
	"github.com/ocx/proctoring-ai/internal/metrics"
	"github.com/ocx/proctoring-ai/internal/models"
	"github.com/ocx/proctoring-ai/internal/risk"
)

// BehaviorHandler persists every raw event, updates the rolling window,
// and scores the session's resulting feature vector (spec.md §4.4).
type BehaviorHandler struct {
	Window          *behavior.Window
	Events          db.EventStore
	Publisher       broker.ResultPublisher
	Classifier      models.BehaviorClassifier
	ClassifierReady bool
	Thresholds      risk.SeverityThresholds
	Metrics         *metrics.Metrics
}

func (h *BehaviorHandler) Handle(ctx context.Context, body []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		log.Printf("[behavior] malformed message, dropping: %v", err)
		if h.Metrics != nil {
			h.Metrics.RecordDropped("behavior")
		}
		return nil
	}

	var sessionID, eventType string
	if v, ok := raw["sessionId"]; ok {
		_ = json.Unmarshal(v, &sessionID)
	}
	if v, ok := raw["type"]; ok {
		_ = json.Unmarshal(v, &eventType)
	}

	var timestampMs int64
	if v, ok := raw["timestamp"]; ok {
		_ = json.Unmarshal(v, &timestampMs)
	}
	if timestampMs == 0 {
		timestampMs = time.Now().UnixMilli()
	}
	occurredAt := time.UnixMilli(timestampMs)

	metadata := passthroughMetadata(raw)

	if err := h.Events.AppendEvent(ctx, sessionID, eventType, occurredAt, metadata); err != nil {
		log.Printf("[behavior] session %s: persist failed, continuing: %v", sessionID, err)
	}

	features := h.Window.Record(sessionID, eventType, occurredAt)
	result := risk.ScoreBehaviour(ctx, features, h.asRiskClassifier(), h.ClassifierReady, h.Thresholds)
	if h.Metrics != nil {
		h.Metrics.RiskScore.WithLabelValues("behavior").Observe(result.RiskScore)
		h.Metrics.BehaviorSessionsActive.Set(float64(h.Window.SessionCount()))
	}

	if result.RiskScore < 0.30 && len(result.Violations) == 0 {
		return nil
	}

	eventMetadata := map[string]any{
		"triggering_event":   eventType,
		"tab_switches":       features.TabSwitches,
		"copy_paste_count":   features.CopyPasteCount,
		"context_menu_count": features.ContextMenuCount,
		"fullscreen_exits":   features.FullscreenExits,
		"focus_loss_count":   features.FocusLossCount,
		"event_rate_per_min": features.EventRatePerMin,
	}

	for _, v := range result.Violations {
		confidence := v.Confidence
		out := broker.OutboundResult{
			SessionID:   sessionID,
			EventType:   v.EventType,
			Severity:    v.Severity,
			Confidence:  &confidence,
			Description: v.Description,
			RiskScore:   result.RiskScore,
			Metadata:    eventMetadata,
		}
		if err := h.Publisher.Publish(ctx, out); err != nil {
			log.Printf("[behavior] session %s: publish dropped: %v", sessionID, err)
		} else if h.Metrics != nil {
			h.Metrics.RecordViolation(v.EventType, v.Severity)
		}
	}

	return nil
}

// asRiskClassifier adapts the models.BehaviorClassifier (possibly nil)
// into the risk package's narrower local interface.
func (h *BehaviorHandler) asRiskClassifier() risk.BehaviorClassifier {
	if h.Classifier == nil {
		return nil
	}
	return h.Classifier
}

func passthroughMetadata(raw map[string]json.RawMessage) map[string]any {
	delete(raw, "sessionId")
	delete(raw, "type")
	delete(raw, "timestamp")
	if len(raw) == 0 {
		return nil
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			out[k] = val
		}
	}
	return out
}
